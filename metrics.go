package qnsolve

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts solves and sweeps.  A nil *Metrics records nothing.
type Metrics struct {
	solves        *prometheus.CounterVec
	solveSeconds  *prometheus.HistogramVec
	iterations    *prometheus.HistogramVec
	sweepSteps    prometheus.Counter
	sweepOutcomes *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnsolve",
			Name:      "solves_total",
			Help:      "Solves attempted, by algorithm and outcome.",
		}, []string{"algorithm", "outcome"}),
		solveSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qnsolve",
			Name:      "solve_duration_seconds",
			Help:      "Wall-clock time of successful solves.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}, []string{"algorithm"}),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qnsolve",
			Name:      "solver_iterations",
			Help:      "Iterations reported by iterative algorithms.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"algorithm"}),
		sweepSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qnsolve",
			Name:      "whatif_steps_total",
			Help:      "What-if iterations completed.",
		}),
		sweepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnsolve",
			Name:      "whatif_sweeps_total",
			Help:      "What-if sweeps finished, by final state.",
		}, []string{"state"}),
	}
	for _, c := range []prometheus.Collector{m.solves, m.solveSeconds, m.iterations, m.sweepSteps, m.sweepOutcomes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeSolve(alg string, elapsed time.Duration, iterations int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.solves.WithLabelValues(alg, errorOutcome(err)).Inc()
		return
	}
	m.solves.WithLabelValues(alg, "ok").Inc()
	m.solveSeconds.WithLabelValues(alg).Observe(elapsed.Seconds())
	if iterations > 0 {
		m.iterations.WithLabelValues(alg).Observe(float64(iterations))
	}
}

func (m *Metrics) observeStep() {
	if m == nil {
		return
	}
	m.sweepSteps.Inc()
}

func (m *Metrics) observeSweep(state SweepState) {
	if m == nil {
		return
	}
	m.sweepOutcomes.WithLabelValues(state.String()).Inc()
}

// errorOutcome labels a failed solve by the kind of its error
func errorOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isKind(err, InputData):
		return "input_data"
	case isKind(err, UnsupportedModel):
		return "unsupported_model"
	}
	return "solver"
}
