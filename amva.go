package qnsolve

// amva.go holds the approximate mean value analysis family for closed networks.
// Every member shares one fixed-point core; they differ only in how they estimate
// the queue length an arriving customer finds at a station, which exact MVA would
// take from the solution at the population with that customer removed.
//
//   - Chow assumes the arriving customer sees the queue at the full population
//   - Bard-Schweitzer scales the arriving customer's own class by (N_r - 1)/N_r
//   - AQL corrects the aggregate queue fraction at each station with per-class deviations
//   - Linearizer corrects every per-class queue fraction with deviations measured
//     by solving the core at each population N - e_s
//
// Bard-Schweitzer additionally accepts class priorities, handled by the preemptive
// approximation in which a class sees only customers of equal or higher priority,
// at a server slowed by the utilization of strictly higher priorities.

import (
	"math"
)

// amvaProblem is a closed network in the form the cores consume
type amvaProblem struct {
	dem     [][]float64
	delay   []bool
	prio    []int
	tol     float64
	maxIter int
}

func (p *amvaProblem) stations() int { return len(p.dem) }
func (p *amvaProblem) classes() int  { return len(p.prio) }

// amvaState is the fixed point reached at one population, with the per-class and
// per-station deviation terms that the core used
type amvaState struct {
	pop   []int
	Q     [][]float64
	X     []float64
	resid [][]float64
	iter  int
}

// arrivalFunc returns the queue length seen at station k by an arriving class-r customer
type arrivalFunc func(k, r int, st *amvaState) float64

// amvaCore iterates residence times, throughputs, and queue lengths until the queue lengths
// change by less than the tolerance.  Exceeding the iteration budget is an error.
func amvaCore(p *amvaProblem, pop []int, arrival arrivalFunc) (*amvaState, error) {
	M, R := p.stations(), p.classes()
	st := &amvaState{pop: pop, Q: newMatrix(M, R), X: make([]float64, R), resid: newMatrix(M, R)}

	for r := 0; r < R; r++ {
		visited := 0
		for k := 0; k < M; k++ {
			if !p.delay[k] && p.dem[k][r] > 0 {
				visited += 1
			}
		}
		for k := 0; k < M; k++ {
			if visited > 0 && !p.delay[k] && p.dem[k][r] > 0 {
				st.Q[k][r] = float64(pop[r]) / float64(visited)
			}
		}
	}

	Qnew := newMatrix(M, R)
	for st.iter < p.maxIter {
		st.iter += 1
		for r := 0; r < R; r++ {
			if pop[r] == 0 {
				continue
			}
			sum := 0.0
			for k := 0; k < M; k++ {
				if p.delay[k] {
					st.resid[k][r] = p.dem[k][r]
				} else {
					st.resid[k][r] = p.dem[k][r] * (1 + arrival(k, r, st))
					if slow := higherPriorityUtilization(p, st, k, r); slow > 0 {
						st.resid[k][r] /= math.Max(1-slow, 1e-9)
					}
				}
				sum += st.resid[k][r]
			}
			if sum <= 0 {
				return nil, solverErr(nil, "class %d has zero total demand", r)
			}
			st.X[r] = float64(pop[r]) / sum
		}

		delta := 0.0
		for k := 0; k < M; k++ {
			for r := 0; r < R; r++ {
				Qnew[k][r] = st.X[r] * st.resid[k][r]
				delta = math.Max(delta, math.Abs(Qnew[k][r]-st.Q[k][r]))
			}
		}
		st.Q, Qnew = Qnew, st.Q
		if delta < p.tol {
			return st, nil
		}
	}
	return nil, solverErr(nil, "approximate MVA did not converge within %d iterations", p.maxIter)
}

// higherPriorityUtilization is the utilization of station k by classes of strictly higher priority than r
func higherPriorityUtilization(p *amvaProblem, st *amvaState, k, r int) float64 {
	u := 0.0
	for s := range p.prio {
		if p.prio[s] > p.prio[r] {
			u += st.X[s] * p.dem[k][s]
		}
	}
	return u
}

// sameOrHigher reports whether class s is seen by an arriving class-r customer
func sameOrHigher(p *amvaProblem, s, r int) bool {
	return p.prio[s] >= p.prio[r]
}

func schweitzerArrival(p *amvaProblem) arrivalFunc {
	return func(k, r int, st *amvaState) float64 {
		a := 0.0
		for s := range st.pop {
			if st.pop[s] == 0 || !sameOrHigher(p, s, r) {
				continue
			}
			if s == r {
				a += st.Q[k][s] * float64(st.pop[s]-1) / float64(st.pop[s])
			} else {
				a += st.Q[k][s]
			}
		}
		return a
	}
}

func chowArrival(k, r int, st *amvaState) float64 {
	a := 0.0
	for s := range st.pop {
		a += st.Q[k][s]
	}
	return a
}

// linearizerArrival uses the deviations dev[k][j][r] = F_kj(N - e_r) - F_kj(N)
func linearizerArrival(dev [][][]float64) arrivalFunc {
	return func(k, r int, st *amvaState) float64 {
		a := 0.0
		for j := range st.pop {
			nj := st.pop[j]
			if j == r {
				nj -= 1
			}
			if nj <= 0 {
				continue
			}
			a += float64(nj) * (st.Q[k][j]/float64(st.pop[j]) + dev[k][j][r])
		}
		return math.Max(0, a)
	}
}

// aqlArrival uses the aggregate deviations gamma[k][r] = F_k(N - e_r) - F_k(N)
func aqlArrival(gamma [][]float64) arrivalFunc {
	return func(k, r int, st *amvaState) float64 {
		nt := total(st.pop)
		if nt <= 1 {
			return 0
		}
		qk := 0.0
		for s := range st.pop {
			qk += st.Q[k][s]
		}
		return float64(nt-1) * math.Max(0, qk/float64(nt)+gamma[k][r])
	}
}

// removeOne returns pop - e_s
func removeOne(pop []int, s int) []int {
	sub := append([]int(nil), pop...)
	sub[s] -= 1
	return sub
}

// linearizer runs the given number of deviation-refinement passes before the final core solution
func linearizer(p *amvaProblem, pop []int, passes int) (*amvaState, int, error) {
	M, R := p.stations(), p.classes()
	dev := make([][][]float64, M)
	for k := range dev {
		dev[k] = newMatrix(R, R)
	}
	iters := 0
	for pass := 0; pass < passes; pass++ {
		full, err := amvaCore(p, pop, linearizerArrival(dev))
		if err != nil {
			return nil, iters, err
		}
		iters += full.iter
		for s := 0; s < R; s++ {
			if pop[s] == 0 {
				continue
			}
			sub := removeOne(pop, s)
			part, err := amvaCore(p, sub, linearizerArrival(dev))
			if err != nil {
				return nil, iters, err
			}
			iters += part.iter
			for k := 0; k < M; k++ {
				for j := 0; j < R; j++ {
					fSub, fFull := 0.0, 0.0
					if sub[j] > 0 {
						fSub = part.Q[k][j] / float64(sub[j])
					}
					if pop[j] > 0 {
						fFull = full.Q[k][j] / float64(pop[j])
					}
					dev[k][j][s] = fSub - fFull
				}
			}
		}
	}
	final, err := amvaCore(p, pop, linearizerArrival(dev))
	if err != nil {
		return nil, iters, err
	}
	return final, iters + final.iter, nil
}

// aqlSolve refines the aggregate deviations over the given number of passes
func aqlSolve(p *amvaProblem, pop []int, passes int) (*amvaState, int, error) {
	M, R := p.stations(), p.classes()
	gamma := newMatrix(M, R)
	iters := 0
	frac := func(st *amvaState, k int) float64 {
		nt := total(st.pop)
		if nt == 0 {
			return 0
		}
		q := 0.0
		for s := range st.pop {
			q += st.Q[k][s]
		}
		return q / float64(nt)
	}
	for pass := 0; pass < passes; pass++ {
		full, err := amvaCore(p, pop, aqlArrival(gamma))
		if err != nil {
			return nil, iters, err
		}
		iters += full.iter
		for s := 0; s < R; s++ {
			if pop[s] == 0 {
				continue
			}
			part, err := amvaCore(p, removeOne(pop, s), aqlArrival(gamma))
			if err != nil {
				return nil, iters, err
			}
			iters += part.iter
			for k := 0; k < M; k++ {
				gamma[k][s] = frac(part, k) - frac(full, k)
			}
		}
	}
	final, err := amvaCore(p, pop, aqlArrival(gamma))
	if err != nil {
		return nil, iters, err
	}
	return final, iters + final.iter, nil
}

// solveClosedAMVA runs the named approximate algorithm and returns its solution and iteration count
func solveClosedAMVA(alg AlgorithmID, p *amvaProblem, pop []int) (*mvaPoint, int, error) {
	var st *amvaState
	var iters int
	var err error
	switch alg {
	case Chow:
		st, err = amvaCore(p, pop, chowArrival)
	case BardSchweitzer:
		st, err = amvaCore(p, pop, schweitzerArrival(p))
	case AQL:
		st, iters, err = aqlSolve(p, pop, 3)
	case Linearizer:
		st, iters, err = linearizer(p, pop, 3)
	case FastLinearizer:
		st, iters, err = linearizer(p, pop, 1)
	default:
		return nil, 0, unsupportedErr("%s is not an approximate MVA algorithm", alg)
	}
	if err != nil {
		return nil, iters, err
	}
	if iters == 0 {
		iters = st.iter
	}
	return &mvaPoint{X: st.X, resid: st.resid, logG: math.NaN()}, iters, nil
}

func newAMVAProblem(in *SolverInput, dem [][]float64) *amvaProblem {
	p := &amvaProblem{dem: dem, prio: in.Priorities, tol: in.Tolerance, maxIter: in.MaxIterations}
	p.delay = make([]bool, in.stations())
	for k := range p.delay {
		p.delay[k] = in.isDelay(k)
	}
	return p
}

// AMVASolver solves a closed network with one member of the approximate MVA family
type AMVASolver struct {
	baseSolver
	alg AlgorithmID
}

func (as *AMVASolver) Iterations() int { return as.iterations }

func (as *AMVASolver) Solve() error {
	if err := as.ready(); err != nil {
		return err
	}
	pt, iters, err := solveClosedAMVA(as.alg, newAMVAProblem(as.in, as.in.Demands), closedPopulation(as.in))
	as.iterations = iters
	if err != nil {
		return err
	}
	for r := 0; r < as.R; r++ {
		col := make([]float64, as.M)
		for k := range col {
			col[k] = pt.resid[k][r]
		}
		as.fillClosed(r, pt.X[r], col)
	}
	logger.Debug("approximate MVA solved")
	return nil
}
