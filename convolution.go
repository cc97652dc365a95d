package qnsolve

// convolution.go computes the normalizing constant of a closed product-form network
// by convolving per-station factors over the population lattice.  Arithmetic is
// carried in big.Float at the precision requested by the input, which keeps G
// representable for populations whose constants overflow a float64.

import (
	"math"
	"math/big"
)

// floatPrec converts a precision in decimal digits to big.Float mantissa bits
func floatPrec(digits uint32) uint {
	if digits == 0 {
		digits = DefaultPrecision
	}
	return uint(math.Ceil(float64(digits)*math.Log2(10))) + 8
}

func bigZero(prec uint) *big.Float {
	return new(big.Float).SetPrec(prec)
}

// logBig is the natural logarithm of a non-negative big.Float, -Inf for zero
func logBig(f *big.Float) float64 {
	if f.Sign() <= 0 {
		return math.Inf(-1)
	}
	mant := new(big.Float)
	exp := f.MantExp(mant)
	m, _ := mant.Float64()
	return math.Log(m) + float64(exp)*math.Ln2
}

// stationFactors returns F(m) for every m in the lattice, where
//
//	F(m) = |m|! / beta(|m|) * prod_r D_r^{m_r} / m_r!
//
// and beta(n) = prod_{j<=n} alpha(j).  alpha is 1 for a single server, min(j,c) for
// c servers, and j for a delay station.  dem holds one entry per lattice class.
func stationFactors(dem []float64, servers int, delay bool, lat *popLattice, prec uint) []*big.Float {
	F := make([]*big.Float, lat.size)
	F[0] = bigZero(prec).SetFloat64(1)
	m := make([]int, len(lat.pop))
	for idx := 1; idx < lat.size; idx++ {
		lat.vector(idx, m)
		r := 0
		for m[r] == 0 {
			r += 1
		}
		mt := total(m)
		a := float64(mt)
		if !delay {
			a = alpha(mt, servers)
		}
		scale := dem[r] * float64(mt) / (a * float64(m[r]))
		F[idx] = bigZero(prec).Mul(F[idx-lat.strides[r]], bigZero(prec).SetFloat64(scale))
	}
	return F
}

// convolve returns c(n) = sum_{m<=n} a(m) b(n-m) over one lattice
func convolve(a, b []*big.Float, lat *popLattice, prec uint) []*big.Float {
	c := make([]*big.Float, lat.size)
	n := make([]int, len(lat.pop))
	term := bigZero(prec)
	for idx := 0; idx < lat.size; idx++ {
		lat.vector(idx, n)
		acc := bigZero(prec)
		lat.forEachBelow(n, func(m []int, mi int) {
			term.Mul(a[mi], b[idx-mi])
			acc.Add(acc, term)
		})
		c[idx] = acc
	}
	return c
}

// unitConstant is the normalizing constant of an empty network
func unitConstant(lat *popLattice, prec uint) []*big.Float {
	g := make([]*big.Float, lat.size)
	for idx := range g {
		g[idx] = bigZero(prec)
	}
	g[0].SetFloat64(1)
	return g
}

// ConvolutionSolver is the multi-class convolution algorithm, with load-dependent stations
type ConvolutionSolver struct {
	baseSolver
}

func (cs *ConvolutionSolver) Solve() error {
	if err := cs.ready(); err != nil {
		return err
	}
	in := cs.in
	prec := floatPrec(in.Precision)
	pop := closedPopulation(in)
	lat := newPopLattice(pop)

	factors := make([][]*big.Float, cs.M)
	for k := 0; k < cs.M; k++ {
		factors[k] = stationFactors(in.Demands[k], in.Servers[k], in.isDelay(k), lat, prec)
	}

	// prefix[k] convolves stations 0..k-1, suffix[k] stations k..M-1
	prefix := make([][]*big.Float, cs.M+1)
	suffix := make([][]*big.Float, cs.M+1)
	prefix[0] = unitConstant(lat, prec)
	suffix[cs.M] = unitConstant(lat, prec)
	for k := 0; k < cs.M; k++ {
		prefix[k+1] = convolve(prefix[k], factors[k], lat, prec)
	}
	for k := cs.M - 1; k >= 0; k-- {
		suffix[k] = convolve(factors[k], suffix[k+1], lat, prec)
	}
	G := prefix[cs.M]
	top := lat.top()
	if G[top].Sign() <= 0 {
		return solverErr(nil, "normalizing constant vanished")
	}
	cs.logG = logBig(G[top])

	X := make([]float64, cs.R)
	for r := 0; r < cs.R; r++ {
		if pop[r] == 0 {
			continue
		}
		X[r] = ratio(G[top-lat.strides[r]], G[top], prec)
	}

	// Q_kr = sum_m m_r F_k(m) G_{-k}(N-m) / G(N)
	ql := newMatrix(cs.M, cs.R)
	weighted := bigZero(prec)
	for k := 0; k < cs.M; k++ {
		without := convolve(prefix[k], suffix[k+1], lat, prec)
		sums := make([]*big.Float, cs.R)
		for r := range sums {
			sums[r] = bigZero(prec)
		}
		lat.forEachBelow(pop, func(m []int, mi int) {
			p := bigZero(prec).Mul(factors[k][mi], without[top-mi])
			for r := 0; r < cs.R; r++ {
				if m[r] == 0 {
					continue
				}
				weighted.Mul(p, bigZero(prec).SetInt64(int64(m[r])))
				sums[r].Add(sums[r], weighted)
			}
		})
		for r := 0; r < cs.R; r++ {
			ql[k][r] = ratio(sums[r], G[top], prec)
		}
	}

	for r := 0; r < cs.R; r++ {
		col := make([]float64, cs.M)
		for k := range col {
			col[k] = ql[k][r]
		}
		cs.fillFromQueueLengths(r, X[r], col)
	}
	logger.Debug("convolution solved")
	return nil
}

// ratio returns num/den as a float64
func ratio(num, den *big.Float, prec uint) float64 {
	q, _ := bigZero(prec).Quo(num, den).Float64()
	return q
}
