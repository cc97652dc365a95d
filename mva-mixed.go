package qnsolve

// mva-mixed.go solves networks with open classes, alone or mixed with closed ones.
// The open load reduces the capacity each queueing station offers the closed classes,
// so the closed part is solved on demands inflated by 1/(1 - U_open), with exact MVA
// or an approximate core.  The open classes then see the closed customers queued at
// each station.  A purely closed model passes straight through to the closed core.

import (
	"math"
)

// MixedSolver handles open, closed, and mixed models
type MixedSolver struct {
	baseSolver
	alg AlgorithmID
}

func (ms *MixedSolver) Iterations() int { return ms.iterations }

// Input refuses the combinations this solver does not implement: load-dependent
// stations when open and closed classes coexist, and priorities alongside open classes
func (ms *MixedSolver) Input(in *SolverInput) error {
	if err := ms.baseSolver.Input(in); err != nil {
		return err
	}
	if in.hasOpen() && in.hasClosed() && in.hasLoadDependent() {
		ms.in = nil
		return unsupportedErr("%s cannot solve mixed models with load-dependent stations", ms.alg)
	}
	if in.hasOpen() && in.hasPriorities() {
		ms.in = nil
		return unsupportedErr("%s supports priority classes only in closed models", ms.alg)
	}
	return nil
}

func (ms *MixedSolver) Solve() error {
	if err := ms.ready(); err != nil {
		return err
	}
	in := ms.in
	if !ms.HasSufficientProcessingCapacity() {
		return inputDataErr("open classes saturate at least one station")
	}

	uOpen := make([]float64, ms.M)
	for k := 0; k < ms.M; k++ {
		uOpen[k] = openUtilization(in, k)
	}

	// queue length of the closed classes at every station
	qClosed := make([]float64, ms.M)
	if in.hasClosed() {
		dem := newMatrix(ms.M, ms.R)
		for k := 0; k < ms.M; k++ {
			for r := 0; r < ms.R; r++ {
				if in.Open[r] {
					continue
				}
				dem[k][r] = in.Demands[k][r]
				if !in.isDelay(k) {
					dem[k][r] /= 1 - uOpen[k]
				}
			}
		}
		pt, err := ms.solveClosed(dem)
		if err != nil {
			return err
		}
		for r := 0; r < ms.R; r++ {
			if in.Open[r] {
				continue
			}
			col := make([]float64, ms.M)
			for k := range col {
				col[k] = pt.resid[k][r]
				qClosed[k] += pt.X[r] * pt.resid[k][r]
			}
			ms.fillClosed(r, pt.X[r], col)
		}
		ms.logG = pt.logG
	}

	for r := 0; r < ms.R; r++ {
		if !in.Open[r] {
			continue
		}
		col := make([]float64, ms.M)
		for k := 0; k < ms.M; k++ {
			dkr := in.Demands[k][r]
			switch {
			case in.isDelay(k):
				col[k] = dkr
			case in.isLoadDependent(k):
				c := in.Servers[k]
				rho := uOpen[k]
				col[k] = dkr * (1 + erlangC(c, rho*float64(c))/(float64(c)*(1-rho)))
			default:
				col[k] = dkr * (1 + qClosed[k]) / (1 - uOpen[k])
			}
		}
		ms.fillClosed(r, in.Rates[r], col)
	}
	logger.Debug("mixed model solved")
	return nil
}

// solveClosed runs the closed core selected by the algorithm on the inflated demands
func (ms *MixedSolver) solveClosed(dem [][]float64) (*mvaPoint, error) {
	pop := closedPopulation(ms.in)
	if ms.alg == MVA {
		delay := make([]bool, ms.M)
		for k := range delay {
			delay[k] = ms.in.isDelay(k)
		}
		return exactMVA(dem, ms.in.Servers, delay, pop)
	}
	pt, iters, err := solveClosedAMVA(ms.alg, newAMVAProblem(ms.in, dem), pop)
	ms.iterations = iters
	return pt, err
}

// erlangC is the probability of waiting in an M/M/c queue with offered load a
func erlangC(c int, a float64) float64 {
	b := 1.0
	for j := 1; j <= c; j++ {
		b = a * b / (float64(j) + a*b)
	}
	den := float64(c) - a*(1-b)
	if den <= 0 {
		return 1
	}
	return math.Min(1, float64(c)*b/den)
}
