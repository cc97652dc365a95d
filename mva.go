package qnsolve

// mva.go holds the exact mean value analysis of closed multi-class networks.
// Load-dependent (multi-server) stations are handled through the marginal
// probabilities of their queue lengths.

import (
	"math"
)

// mvaPoint is the solution of a closed network at its full population
type mvaPoint struct {
	X     []float64   // system throughput per class
	resid [][]float64 // residence time [station][class]
	logG  float64
}

// exactMVA runs the population recursion of mean value analysis.  Classes with zero
// population are carried along with zero throughput.
func exactMVA(dem [][]float64, servers []int, delay []bool, pop []int) (*mvaPoint, error) {
	M, R := len(dem), len(pop)
	lat := newPopLattice(pop)
	Ntot := total(pop)

	// total queue length at each station, per lattice point
	qtot := make([][]float64, lat.size)
	qtot[0] = make([]float64, M)
	logG := make([]float64, lat.size)

	// marginal queue-length probabilities of load-dependent stations, per lattice point
	ld := []int{}
	for k := 0; k < M; k++ {
		if !delay[k] && servers[k] > 1 {
			ld = append(ld, k)
		}
	}
	marg := make([][][]float64, lat.size)
	marg[0] = make([][]float64, len(ld))
	for li := range ld {
		marg[0][li] = make([]float64, Ntot+1)
		marg[0][li][0] = 1.0
	}

	n := make([]int, R)
	X := make([]float64, R)
	resid := newMatrix(M, R)
	for idx := 1; idx < lat.size; idx++ {
		lat.vector(idx, n)
		nt := total(n)
		for r := range X {
			X[r] = 0
		}
		for r := 0; r < R; r++ {
			if n[r] == 0 {
				for k := 0; k < M; k++ {
					resid[k][r] = 0
				}
				continue
			}
			prev := idx - lat.strides[r]
			li := 0
			sum := 0.0
			for k := 0; k < M; k++ {
				switch {
				case delay[k]:
					resid[k][r] = dem[k][r]
				case servers[k] > 1:
					acc := 0.0
					for j := 1; j <= nt; j++ {
						acc += float64(j) / alpha(j, servers[k]) * marg[prev][li][j-1]
					}
					resid[k][r] = dem[k][r] * acc
					li += 1
				default:
					resid[k][r] = dem[k][r] * (1 + qtot[prev][k])
				}
				sum += resid[k][r]
			}
			if sum <= 0 {
				return nil, solverErr(nil, "class %d has zero total demand", r)
			}
			X[r] = float64(n[r]) / sum
		}

		qtot[idx] = make([]float64, M)
		for k := 0; k < M; k++ {
			for r := 0; r < R; r++ {
				qtot[idx][k] += X[r] * resid[k][r]
			}
		}

		marg[idx] = make([][]float64, len(ld))
		for li, k := range ld {
			p := make([]float64, Ntot+1)
			tail := 0.0
			for j := 1; j <= nt; j++ {
				for r := 0; r < R; r++ {
					if n[r] == 0 {
						continue
					}
					prev := idx - lat.strides[r]
					p[j] += dem[k][r] * X[r] / alpha(j, servers[k]) * marg[prev][li][j-1]
				}
				tail += p[j]
			}
			p[0] = math.Max(0, 1-tail)
			marg[idx][li] = p
		}

		for r := 0; r < R; r++ {
			if n[r] > 0 {
				logG[idx] = logG[idx-lat.strides[r]] - math.Log(X[r])
				break
			}
		}
	}

	return &mvaPoint{X: X, resid: resid, logG: logG[lat.top()]}, nil
}

// alpha is the service rate multiplier of a station with c servers holding j customers
func alpha(j, c int) float64 {
	if j < c {
		return float64(j)
	}
	return float64(c)
}

// ClosedMVASolver is the exact mean value analysis of a closed network
type ClosedMVASolver struct {
	baseSolver
}

func (cs *ClosedMVASolver) Solve() error {
	if err := cs.ready(); err != nil {
		return err
	}
	in := cs.in
	delay := make([]bool, cs.M)
	for k := range delay {
		delay[k] = in.isDelay(k)
	}
	pt, err := exactMVA(in.Demands, in.Servers, delay, closedPopulation(in))
	if err != nil {
		return err
	}
	for r := 0; r < cs.R; r++ {
		col := make([]float64, cs.M)
		for k := range col {
			col[k] = pt.resid[k][r]
		}
		cs.fillClosed(r, pt.X[r], col)
	}
	cs.logG = pt.logG
	logger.Debug("exact MVA solved")
	return nil
}
