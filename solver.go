package qnsolve

import (
	"fmt"
	"math"
)

// Strategy is the contract every solution algorithm satisfies.  Input must succeed
// before Solve is called, and the result accessors are meaningful only after
// Solve has returned without error.  A Strategy never retains the slices of its
// SolverInput beyond the Solve call that uses them.
type Strategy interface {
	// Input accepts the extracted model arrays, returning an error if their shapes are inconsistent
	Input(in *SolverInput) error

	// HasSufficientProcessingCapacity is false if some station would saturate under the open load
	HasSufficientProcessingCapacity() bool

	Solve() error

	QueueLengths() [][]float64
	Throughputs() [][]float64
	ResidenceTimes() [][]float64
	Utilizations() [][]float64

	// LogNormalizingConstant is NaN for algorithms that do not compute one
	LogNormalizingConstant() float64
}

// IterativeStrategy is implemented by strategies that report an iteration count
type IterativeStrategy interface {
	Strategy
	Iterations() int
}

// SolverInput holds the read-only arrays a Strategy consumes, all indexed [station][class]
// or [class].  Populations are meaningful for closed classes, Rates for open ones.
type SolverInput struct {
	StationNames []string
	ClassNames   []string
	StationTypes []string
	Servers      []int
	Demands      [][]float64
	Visits       [][]float64
	Open         []bool
	Populations  []int
	Rates        []float64
	Priorities   []int

	Tolerance     float64
	MaxIterations int
	MaxSamples    int
	Seed          uint64
	Threads       int
	Precision     uint32
	Transform     string
}

// NewSolverInput extracts the arrays of a validated description.  Closed populations,
// already checked to lie within populationTolerance of an integer, are rounded to it.
func NewSolverInput(md *ModelDesc) *SolverInput {
	cp := md.Clone()
	cp.withDefaults()

	in := &SolverInput{
		Tolerance:     cp.Tolerance,
		MaxIterations: cp.MaxIterations,
		MaxSamples:    cp.MaxSamples,
		Seed:          cp.Seed,
		Threads:       cp.Threads,
		Precision:     cp.Precision,
		Transform:     cp.Transform,
	}
	for _, sd := range cp.Stations {
		in.StationNames = append(in.StationNames, sd.Name)
		in.StationTypes = append(in.StationTypes, sd.Type)
		in.Servers = append(in.Servers, sd.Servers)
	}
	for _, cd := range cp.Classes {
		in.ClassNames = append(in.ClassNames, cd.Name)
		in.Open = append(in.Open, cd.IsOpen())
		in.Priorities = append(in.Priorities, cd.Priority)
		if cd.IsOpen() {
			in.Populations = append(in.Populations, 0)
			in.Rates = append(in.Rates, cd.Rate)
		} else {
			in.Populations = append(in.Populations, int(math.Round(cd.Population)))
			in.Rates = append(in.Rates, 0)
		}
	}
	in.Demands = cp.Demands()
	in.Visits = cp.Visits
	return in
}

func (in *SolverInput) stations() int { return len(in.StationNames) }
func (in *SolverInput) classes() int  { return len(in.ClassNames) }

func (in *SolverInput) isDelay(k int) bool {
	return in.StationTypes[k] == DelayStation
}

func (in *SolverInput) isLoadDependent(k int) bool {
	return !in.isDelay(k) && in.Servers[k] > 1
}

func (in *SolverInput) hasLoadDependent() bool {
	for k := range in.StationNames {
		if in.isLoadDependent(k) {
			return true
		}
	}
	return false
}

func (in *SolverInput) hasOpen() bool {
	for _, open := range in.Open {
		if open {
			return true
		}
	}
	return false
}

func (in *SolverInput) hasClosed() bool {
	for _, open := range in.Open {
		if !open {
			return true
		}
	}
	return false
}

func (in *SolverInput) hasPriorities() bool {
	for _, p := range in.Priorities {
		if p != 0 {
			return true
		}
	}
	return false
}

// check verifies that every array agrees with the station and class counts
func (in *SolverInput) check() error {
	M, R := in.stations(), in.classes()
	if M == 0 || R == 0 {
		return fmt.Errorf("model needs at least one station and one class, has %d and %d", M, R)
	}
	if len(in.StationTypes) != M || len(in.Servers) != M {
		return fmt.Errorf("station arrays disagree with %d stations", M)
	}
	if len(in.Open) != R || len(in.Populations) != R || len(in.Rates) != R || len(in.Priorities) != R {
		return fmt.Errorf("class arrays disagree with %d classes", R)
	}
	if len(in.Demands) != M || len(in.Visits) != M {
		return fmt.Errorf("demand or visit matrix does not have %d rows", M)
	}
	for k := 0; k < M; k++ {
		if len(in.Demands[k]) != R || len(in.Visits[k]) != R {
			return fmt.Errorf("demand or visit row %d does not have %d entries", k, R)
		}
		for r := 0; r < R; r++ {
			if in.Demands[k][r] < 0 || math.IsNaN(in.Demands[k][r]) {
				return fmt.Errorf("demand of class %d at station %d is %v", r, k, in.Demands[k][r])
			}
		}
	}
	return nil
}

// baseSolver holds the state shared by every strategy: the accepted input and the
// four result matrices.  Strategies embed it and supply Solve.
type baseSolver struct {
	in   *SolverInput
	M, R int

	ql, tput, rt, util [][]float64
	logG               float64
	iterations         int
}

func (bs *baseSolver) Input(in *SolverInput) error {
	if err := in.check(); err != nil {
		return inputDataErr("%s", err.Error())
	}
	bs.in = in
	bs.M, bs.R = in.stations(), in.classes()
	bs.ql = newMatrix(bs.M, bs.R)
	bs.tput = newMatrix(bs.M, bs.R)
	bs.rt = newMatrix(bs.M, bs.R)
	bs.util = newMatrix(bs.M, bs.R)
	bs.logG = math.NaN()
	bs.iterations = 0
	return nil
}

// ready returns a solver error when Input has not succeeded
func (bs *baseSolver) ready() error {
	if bs.in == nil {
		return solverErr(nil, "solve called before input")
	}
	return nil
}

// HasSufficientProcessingCapacity checks the per-server utilization generated by the open classes
func (bs *baseSolver) HasSufficientProcessingCapacity() bool {
	if bs.in == nil {
		return false
	}
	for k := 0; k < bs.M; k++ {
		if bs.in.isDelay(k) {
			continue
		}
		if openUtilization(bs.in, k) >= 1.0 {
			return false
		}
	}
	return true
}

// openUtilization is the per-server utilization of station k due to open classes
func openUtilization(in *SolverInput, k int) float64 {
	u := 0.0
	for r, open := range in.Open {
		if open {
			u += in.Rates[r] * in.Demands[k][r]
		}
	}
	return u / float64(in.Servers[k])
}

func (bs *baseSolver) QueueLengths() [][]float64   { return bs.ql }
func (bs *baseSolver) Throughputs() [][]float64    { return bs.tput }
func (bs *baseSolver) ResidenceTimes() [][]float64 { return bs.rt }
func (bs *baseSolver) Utilizations() [][]float64   { return bs.util }

func (bs *baseSolver) LogNormalizingConstant() float64 { return bs.logG }

// fillClosed derives the station throughputs, utilizations, and queue lengths of
// closed class r from its system throughput and per-station residence times
func (bs *baseSolver) fillClosed(r int, X float64, resid []float64) {
	for k := 0; k < bs.M; k++ {
		bs.rt[k][r] = resid[k]
		bs.ql[k][r] = X * resid[k]
		bs.tput[k][r] = X * bs.in.Visits[k][r]
		bs.util[k][r] = X * bs.in.Demands[k][r]
		if !bs.in.isDelay(k) {
			bs.util[k][r] /= float64(bs.in.Servers[k])
		}
	}
}

// fillFromQueueLengths sets the measures of class r when queue lengths and the system
// throughput are known, as they are for the normalizing constant methods
func (bs *baseSolver) fillFromQueueLengths(r int, X float64, ql []float64) {
	for k := 0; k < bs.M; k++ {
		bs.ql[k][r] = ql[k]
		if X > 0 {
			bs.rt[k][r] = ql[k] / X
		}
		bs.tput[k][r] = X * bs.in.Visits[k][r]
		bs.util[k][r] = X * bs.in.Demands[k][r]
		if !bs.in.isDelay(k) {
			bs.util[k][r] /= float64(bs.in.Servers[k])
		}
	}
}

func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for idx := range m {
		m[idx] = make([]float64, cols)
	}
	return m
}

// closedPopulation returns the closed-class population vector, zero for open classes
func closedPopulation(in *SolverInput) []int {
	pop := make([]int, in.classes())
	for r := range pop {
		if !in.Open[r] {
			pop[r] = in.Populations[r]
		}
	}
	return pop
}

// delayDemands returns, per class, the summed demand at delay stations
func delayDemands(in *SolverInput) []float64 {
	Z := make([]float64, in.classes())
	for k := range in.StationNames {
		if !in.isDelay(k) {
			continue
		}
		for r := range Z {
			Z[r] += in.Demands[k][r]
		}
	}
	return Z
}
