package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/iti/qnsolve"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	headerColor = color.New(color.Bold, color.FgCyan)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed, color.Bold)
)

// printResult writes one table row per station and class
func printResult(w io.Writer, md *qnsolve.ModelDesc, res *qnsolve.ResultDesc) {
	headerColor.Fprintf(w, "%s solved by %s", md.Name, res.Algorithm)
	if res.Iterations > 0 {
		fmt.Fprintf(w, " in %d iterations", res.Iterations)
	}
	fmt.Fprintln(w)
	headerColor.Fprintf(w, "%-16s %-12s %12s %12s %12s %12s\n", "station", "class", "throughput", "queue", "residence", "utilization")
	for k, sd := range md.Stations {
		for r, cd := range md.Classes {
			util := res.Utilization[k][r]
			line := fmt.Sprintf("%-16s %-12s %12.6g %12.6g %12.6g %12.6g\n", sd.Name, cd.Name,
				res.Throughput[k][r], res.QueueLength[k][r], res.ResidenceTime[k][r], util)
			if !sd.IsDelay() && util > 0.9 {
				warnColor.Fprint(w, line)
				continue
			}
			fmt.Fprint(w, line)
		}
	}
	if !math.IsNaN(res.LogG) {
		fmt.Fprintf(w, "log G = %.10g\n", res.LogG)
	}
}

// printStep writes the class throughputs of one completed sweep step
func printStep(w io.Writer, idx int, value float64, res *qnsolve.ResultDesc) {
	parts := []string{}
	for r := range res.Throughput[0] {
		X := 0.0
		for k := range res.Throughput {
			X = math.Max(X, res.Throughput[k][r])
		}
		parts = append(parts, fmt.Sprintf("X%d=%.6g", r, X))
	}
	okColor.Fprintf(w, "step %3d", idx)
	fmt.Fprintf(w, "  value=%-10g %s\n", value, strings.Join(parts, " "))
}

func printSweepState(w io.Writer, sr *qnsolve.SweepResult) {
	c := okColor
	switch sr.State {
	case qnsolve.Cancelled:
		c = warnColor
	case qnsolve.Failed:
		c = failColor
	}
	c.Fprintf(w, "sweep %s %s after %d of %d steps\n", sr.RunID, sr.State, len(sr.Results), len(sr.Spec.Values))
}

func printAlgorithms(w io.Writer) {
	headerColor.Fprintf(w, "%-22s %-6s %-6s %-6s %-8s %-9s %-5s\n", "algorithm", "open", "closed", "multi", "priority", "iterative", "exact")
	mark := func(b bool) string {
		if b {
			return "yes"
		}
		return "-"
	}
	for _, alg := range qnsolve.Algorithms() {
		caps := alg.Capabilities()
		fmt.Fprintf(w, "%-22s %-6s %-6s %-6s %-8s %-9s %-5s\n", alg, mark(caps.Open), mark(caps.Closed),
			mark(caps.LoadDependent), mark(caps.Priority), mark(caps.Iterative), mark(caps.Exact))
	}
}

// printPath writes a route and the probability of following it
func printPath(w io.Writer, class string, names []string, prob float64) {
	headerColor.Fprintf(w, "%s", class)
	fmt.Fprintf(w, " %s probability %.6g\n", qnsolve.ShowPath(names), prob)
}

// printMetrics writes the value of every counter and the sample count of every histogram
func printMetrics(w io.Writer, reg *prometheus.Registry) error {
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	headerColor.Fprintln(w, "metrics")
	lines := []string{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			labels := []string{}
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("  %s %g", name, m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				lines = append(lines, fmt.Sprintf("  %s count=%d sum=%g", name,
					m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	return nil
}
