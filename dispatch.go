package qnsolve

// dispatch.go runs a single solve: structural validation, the compatibility check,
// strategy selection, the capacity check, and the solve itself, with the result
// written back into the description.

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/iti/evt/vrtime"
	"go.uber.org/zap"
)

// IterationFunc is notified after each completed solve, with its index in the sweep
// (0 for a single solve) and the result produced
type IterationFunc func(idx int, result *ResultDesc)

// SolveOption adjusts how a solve or sweep is run
type SolveOption func(*solveOptions)

type solveOptions struct {
	onIteration IterationFunc
	metrics     *Metrics
	trace       *TraceManager
}

// WithIterationCallback registers a function notified after each completed solve
func WithIterationCallback(fn IterationFunc) SolveOption {
	return func(so *solveOptions) { so.onIteration = fn }
}

// WithMetrics records solves on m
func WithMetrics(m *Metrics) SolveOption {
	return func(so *solveOptions) { so.metrics = m }
}

// WithTrace records each completed solve on tm
func WithTrace(tm *TraceManager) SolveOption {
	return func(so *solveOptions) { so.trace = tm }
}

func buildOptions(opts []SolveOption) *solveOptions {
	so := &solveOptions{}
	for _, opt := range opts {
		opt(so)
	}
	return so
}

// Solve solves the model with the algorithm it names, sets md.Result, and fires the
// iteration callback once with index 0
func Solve(md *ModelDesc, opts ...SolveOption) error {
	so := buildOptions(opts)
	res, err := solveDesc(md, so)
	if err != nil {
		logger.Info("solve failed", zap.String("model", md.Name), zap.Error(err))
		return err
	}
	md.Result = res
	so.trace.AddName(0, md.Name, "solve")
	so.trace.AddResult(vrtime.SecondsToTime(0), 0, 0, res)
	if so.onIteration != nil {
		so.onIteration(0, res)
	}
	logger.Info("solve completed", zap.String("model", md.Name), zap.String("algorithm", res.Algorithm))
	return nil
}

// solveDesc runs every pre-solve check and the selected strategy, without touching md
func solveDesc(md *ModelDesc, so *solveOptions) (*ResultDesc, error) {
	if err := ValidateModel(md); err != nil {
		return nil, inputDataErr("%s", err.Error())
	}
	alg, err := ParseAlgorithm(md.Algorithm)
	if err != nil {
		return nil, err
	}
	if err := CheckModelAlgorithmCompatibility(md, alg); err != nil {
		so.metrics.observeSolve(alg.String(), 0, 0, err)
		return nil, err
	}
	st, err := SelectStrategy(md, alg)
	if err != nil {
		so.metrics.observeSolve(alg.String(), 0, 0, err)
		return nil, err
	}
	return runStrategy(st, alg, md, so)
}

// runStrategy checks capacity, solves, and collects the result.  Solve is never
// called on a strategy that lacks processing capacity.
func runStrategy(st Strategy, alg AlgorithmID, md *ModelDesc, so *solveOptions) (*ResultDesc, error) {
	if !st.HasSufficientProcessingCapacity() {
		err := inputDataErr("%s", saturationReason(md))
		so.metrics.observeSolve(alg.String(), 0, 0, err)
		return nil, err
	}

	start := time.Now()
	err := guardedSolve(st)
	iterations := 0
	if its, ok := st.(IterativeStrategy); ok {
		iterations = its.Iterations()
	}
	so.metrics.observeSolve(alg.String(), time.Since(start), iterations, err)
	if err != nil {
		return nil, err
	}

	return &ResultDesc{
		Algorithm:     alg.String(),
		QueueLength:   cloneMatrix(st.QueueLengths()),
		Throughput:    cloneMatrix(st.Throughputs()),
		ResidenceTime: cloneMatrix(st.ResidenceTimes()),
		Utilization:   cloneMatrix(st.Utilizations()),
		LogG:          st.LogNormalizingConstant(),
		Iterations:    iterations,
	}, nil
}

// guardedSolve converts panics and foreign errors raised by a strategy into solver errors
func guardedSolve(st Strategy) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = solverErr(fmt.Errorf("%v", p), "strategy panicked")
		}
	}()
	err = st.Solve()
	var se *SolveError
	if err != nil && !errors.As(err, &se) {
		err = solverErr(err, "strategy failed")
	}
	return err
}

// saturationReason names the first station whose open load reaches its capacity
func saturationReason(md *ModelDesc) string {
	in := NewSolverInput(md)
	for k := range in.StationNames {
		if in.isDelay(k) {
			continue
		}
		if u := openUtilization(in, k); u >= 1 || math.IsNaN(u) {
			return fmt.Sprintf("station %s is saturated, open utilization %.4g", in.StationNames[k], u)
		}
	}
	return "model lacks processing capacity"
}
