package qnsolve

// mcl.go estimates normalizing constants of closed product-form networks by the
// Monte Carlo logistic method.  Writing each station's queue through its gamma
// integral and scaling to the simplex turns the sum over states into
//
//	G = Gamma(|N|+M) / prod_r N_r! * int prod_r a_r(x)^N_r prod_k x_k dy
//
// with a_r(x) = sum_k D_kr x_k and x the logistic image of y.  With delay stations
// of total demand Z_r an extra scale coordinate s remains:
//
//	G = 1 / prod_r N_r! * int exp(M s - e^s) prod_r (Z_r + e^s a_r(x))^N_r prod_k x_k dy ds
//
// A station with c servers enters as a single server of demand D/c, and the integrand
// is multiplied by the expectation of prod_k c^min(n_k,c) / min(n_k,c)! over the
// multinomial placement of customers that the point x implies.

import (
	"errors"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// mclProblem is one normalizing constant to estimate
type mclProblem struct {
	D       [][]float64 // [queue station][class] full demands
	servers []int
	Z       []float64 // per-class delay demand
	N       []int

	transform logisticTransform
	tol       float64
	maxIter   int
	samples   int
	seed      uint64
	threads   int
	digits    uint32
}

func (p *mclProblem) stations() int { return len(p.D) }

func (p *mclProblem) hasDelay() bool {
	for r, z := range p.Z {
		if z > 0 && p.N[r] > 0 {
			return true
		}
	}
	return false
}

func (p *mclProblem) hasMultiServer() bool {
	for _, c := range p.servers {
		if c > 1 {
			return true
		}
	}
	return false
}

// scaled returns D_kr / c_k
func (p *mclProblem) scaled(k, r int) float64 {
	return p.D[k][r] / float64(p.servers[k])
}

func (p *mclProblem) withPopulation(n []int) *mclProblem {
	cp := *p
	cp.N = n
	return &cp
}

// duplicate returns the problem with a second copy of queue station k
func (p *mclProblem) duplicate(k int) *mclProblem {
	cp := *p
	cp.D = append(append([][]float64{}, p.D...), p.D[k])
	cp.servers = append(append([]int{}, p.servers...), p.servers[k])
	return &cp
}

// without returns the problem with queue station k removed
func (p *mclProblem) without(k int) *mclProblem {
	cp := *p
	cp.D = append(append([][]float64{}, p.D[:k]...), p.D[k+1:]...)
	cp.servers = append(append([]int{}, p.servers[:k]...), p.servers[k+1:]...)
	return &cp
}

// logCoefficient is the log of the combinatorial factor in front of the integral
func (p *mclProblem) logCoefficient() float64 {
	c := 0.0
	for _, n := range p.N {
		lg, _ := math.Lgamma(float64(n) + 1)
		c -= lg
	}
	if !p.hasDelay() {
		lg, _ := math.Lgamma(float64(total(p.N) + p.stations()))
		c += lg
	}
	return c
}

// logStationFactor is log F(m) for a station of the given demands and servers
func logStationFactor(dem []float64, servers int, m []int) float64 {
	mt := total(m)
	lg, _ := math.Lgamma(float64(mt) + 1)
	f := lg
	for j := 1; j <= mt; j++ {
		f -= math.Log(alpha(j, servers))
	}
	for r, n := range m {
		if n == 0 {
			continue
		}
		if dem[r] == 0 {
			return math.Inf(-1)
		}
		lg, _ := math.Lgamma(float64(n) + 1)
		f += float64(n)*math.Log(dem[r]) - lg
	}
	return f
}

// closedForm handles the shapes that need no sampling.  It reports false when the
// integral has to be estimated.
func (p *mclProblem) closedForm() (float64, bool) {
	if total(p.N) == 0 {
		return 0, true
	}
	for r, n := range p.N {
		if n == 0 {
			continue
		}
		sum := p.Z[r]
		for k := range p.D {
			sum += p.D[k][r]
		}
		if sum == 0 {
			return math.Inf(-1), true
		}
	}
	if p.stations() == 0 {
		lg := 0.0
		for r, n := range p.N {
			if n > 0 {
				lf, _ := math.Lgamma(float64(n) + 1)
				lg += float64(n)*math.Log(p.Z[r]) - lf
			}
		}
		return lg, true
	}
	if p.stations() == 1 && !p.hasDelay() {
		return logStationFactor(p.D[0], p.servers[0], p.N), true
	}
	return 0, false
}

// point unpacks the integration variables into x on the simplex and the scale t
func (p *mclProblem) point(v []float64, x []float64) float64 {
	M := p.stations()
	p.transform.toSimplex(v[:M-1], x)
	if p.hasDelay() {
		return math.Exp(v[M-1])
	}
	return 1
}

// dim is the number of integration variables
func (p *mclProblem) dim() int {
	if p.hasDelay() {
		return p.stations()
	}
	return p.stations() - 1
}

// logIntegrand is safe for concurrent use
func (p *mclProblem) logIntegrand(v []float64) float64 {
	M := p.stations()
	x := make([]float64, M)
	t := p.point(v, x)
	l := 0.0
	for _, xk := range x {
		l += math.Log(xk)
	}
	if p.hasDelay() {
		l += float64(M)*v[M-1] - t
	}
	for r, n := range p.N {
		if n == 0 {
			continue
		}
		a := 0.0
		for k := 0; k < M; k++ {
			a += p.scaled(k, r) * x[k]
		}
		A := p.Z[r] + t*a
		if !p.hasDelay() {
			A = a
		}
		if A <= 0 {
			return math.Inf(-1)
		}
		l += float64(n) * math.Log(A)
	}
	if p.hasMultiServer() {
		l += math.Log(p.correction(x, t))
	}
	if math.IsNaN(l) {
		return math.Inf(-1)
	}
	return l
}

// gradient writes the derivative of the log-integrand, without the multi-server
// correction, with respect to the integration variables
func (p *mclProblem) gradient(v, grad []float64) {
	M := p.stations()
	x := make([]float64, M)
	t := p.point(v, x)
	y := v[:M-1]

	gx := make([]float64, M)
	for k := range gx {
		gx[k] = 1 / x[k]
	}
	ds := float64(M) - t
	for r, n := range p.N {
		if n == 0 {
			continue
		}
		a := 0.0
		for k := 0; k < M; k++ {
			a += p.scaled(k, r) * x[k]
		}
		A := a
		if p.hasDelay() {
			A = p.Z[r] + t*a
		}
		for k := 0; k < M; k++ {
			gx[k] += float64(n) * t * p.scaled(k, r) / A
		}
		ds += float64(n) * t * a / A
	}

	J := p.transform.jacobian(y, x)
	for i := range y {
		grad[i] = 0
		for k := 0; k < M; k++ {
			grad[i] += J[k][i] * gx[k]
		}
	}
	if p.hasDelay() {
		grad[M-1] = ds
	}
}

// fixedPoint locates the stationary point of the single-server integrand by damped
// iteration in x, tracking the delay scale t when delay stations are present
func (p *mclProblem) fixedPoint() ([]float64, float64, int, error) {
	M := p.stations()
	x := make([]float64, M)
	for k := range x {
		x[k] = 1 / float64(M)
	}
	delay := p.hasDelay()
	t := 1.0
	if delay {
		t = float64(total(p.N) + M)
	}
	const damping = 0.5

	xn := make([]float64, M)
	for iter := 1; iter <= p.maxIter; iter++ {
		tn := float64(M)
		for k := range xn {
			xn[k] = 1
		}
		for r, n := range p.N {
			if n == 0 {
				continue
			}
			a := 0.0
			for k := 0; k < M; k++ {
				a += p.scaled(k, r) * x[k]
			}
			A := a
			if delay {
				A = p.Z[r] + t*a
			}
			for k := 0; k < M; k++ {
				xn[k] += float64(n) * t * p.scaled(k, r) * x[k] / A
			}
			tn += float64(n) * t * a / A
		}
		sum := 0.0
		for _, v := range xn {
			sum += v
		}
		delta := 0.0
		for k := range x {
			nv := (1-damping)*x[k] + damping*xn[k]/sum
			delta = math.Max(delta, math.Abs(nv-x[k]))
			x[k] = nv
		}
		if delay {
			nt := (1-damping)*t + damping*tn
			delta = math.Max(delta, math.Abs(nt-t)/t)
			t = nt
		} else {
			t = 1
		}
		if delta < p.tol {
			return x, t, iter, nil
		}
	}
	return nil, 0, p.maxIter, solverErr(nil, "stationary point iteration did not converge within %d iterations", p.maxIter)
}

// toVariables maps a simplex point and scale into integration variables
func (p *mclProblem) toVariables(x []float64, t float64) []float64 {
	M := p.stations()
	v := make([]float64, p.dim())
	p.transform.fromSimplex(x, v[:M-1])
	if p.hasDelay() {
		v[M-1] = math.Log(t)
	}
	return v
}

// stationary returns the stationary point in integration variables and the iterations
// spent.  Multi-server networks start from the single-server point and descend the
// negative log-integrand by nonlinear conjugate gradient.
func (p *mclProblem) stationary() ([]float64, int, error) {
	x, t, iters, err := p.fixedPoint()
	if err != nil {
		return nil, iters, err
	}
	v0 := p.toVariables(x, t)
	if !p.hasMultiServer() {
		return v0, iters, nil
	}

	logCorr := func(v []float64) float64 {
		xs := make([]float64, p.stations())
		ts := p.point(v, xs)
		return math.Log(p.correction(xs, ts))
	}
	problem := optimize.Problem{
		Func: func(v []float64) float64 {
			l := p.logIntegrand(v)
			if math.IsInf(l, -1) {
				return math.MaxFloat64
			}
			return -l
		},
		Grad: func(grad, v []float64) {
			p.gradient(v, grad)
			corr := fd.Gradient(nil, logCorr, v, nil)
			for i := range grad {
				grad[i] = -(grad[i] + corr[i])
			}
		},
	}
	settings := &optimize.Settings{GradientThreshold: p.tol, MajorIterations: p.maxIter}
	res, err := optimize.Minimize(problem, v0, settings, &optimize.CG{})
	if err != nil {
		return nil, iters, solverErr(err, "conjugate gradient search failed")
	}
	iters += res.Stats.MajorIterations
	if res.Status == optimize.IterationLimit || res.Status == optimize.Failure {
		return nil, iters, solverErr(nil, "conjugate gradient search ended with status %v", res.Status)
	}
	return res.X, iters, nil
}

// hessian of the log-integrand at v: analytic for the additive transform on single-server
// networks without delay, finite differences otherwise
func (p *mclProblem) hessian(v []float64) *mat.SymDense {
	d := p.dim()
	H := mat.NewSymDense(d, nil)
	if _, additive := p.transform.(additiveLogistic); !additive || p.hasDelay() || p.hasMultiServer() {
		fd.Hessian(H, p.logIntegrand, v, nil)
		return H
	}

	M := p.stations()
	x := make([]float64, M)
	p.point(v, x)
	da := make([]float64, d)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			h := -float64(M) * x[j] * (kron(i, j) - x[i])
			H.SetSym(i, j, h)
		}
	}
	for r, n := range p.N {
		if n == 0 {
			continue
		}
		a := 0.0
		for k := 0; k < M; k++ {
			a += p.scaled(k, r) * x[k]
		}
		for j := 0; j < d; j++ {
			da[j] = x[j] * (p.scaled(j, r) - a)
		}
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				d2 := x[j]*(kron(i, j)-x[i])*(p.scaled(j, r)-a) - x[j]*x[i]*(p.scaled(i, r)-a)
				H.SetSym(i, j, H.At(i, j)+float64(n)*(d2/a-da[i]*da[j]/(a*a)))
			}
		}
	}
	return H
}

func kron(i, j int) float64 {
	if i == j {
		return 1
	}
	return 0
}

// covariance inverts the negated Hessian and symmetrizes the result
func covariance(H *mat.SymDense) (*mat.SymDense, error) {
	d, _ := H.Dims()
	neg := mat.NewDense(d, d, nil)
	neg.Scale(-1, H)
	var inv mat.Dense
	if err := inv.Inverse(neg); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, solverErr(err, "Hessian at the stationary point is singular")
		}
		logger.Debug("ill-conditioned Hessian at the stationary point", zap.Float64("condition", float64(cond)))
	}
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			cov.SetSym(i, j, 0.5*(inv.At(i, j)+inv.At(j, i)))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, solverErr(nil, "log-integrand is not concave at the stationary point")
	}
	return cov, nil
}

// logG estimates log G and returns the stationary-point iterations it used
func (p *mclProblem) logG() (float64, int, error) {
	if lg, ok := p.closedForm(); ok {
		return lg, 0, nil
	}
	v, iters, err := p.stationary()
	if err != nil {
		return math.NaN(), iters, err
	}
	cov, err := covariance(p.hessian(v))
	if err != nil {
		return math.NaN(), iters, err
	}
	li, err := importanceSample(&sampleSpec{
		mode:    v,
		cov:     cov,
		logf:    p.logIntegrand,
		samples: p.samples,
		seed:    p.seed,
		threads: p.threads,
		digits:  p.digits,
	})
	if err != nil {
		return math.NaN(), iters, err
	}
	return li + p.logCoefficient(), iters, nil
}

// correction is E[prod_k g_k(n_k)] over the multinomial placement of every class's
// customers among the stations, with g(n) = c^min(n,c) / min(n,c)!.  Only the
// multi-server stations are tracked, with their counts capped at c.
func (p *mclProblem) correction(x []float64, t float64) float64 {
	M := p.stations()
	ld := []int{}
	for k, c := range p.servers {
		if c > 1 {
			ld = append(ld, k)
		}
	}
	radix := make([]int, len(ld))
	size := 1
	for idx, k := range ld {
		radix[idx] = size
		size *= p.servers[k] + 1
	}
	dist := make([]float64, size)
	dist[0] = 1
	counts := make([]int, len(ld))
	prob := make([]float64, len(ld))

	for r, n := range p.N {
		if n == 0 {
			continue
		}
		a := 0.0
		for k := 0; k < M; k++ {
			a += p.scaled(k, r) * x[k]
		}
		A := a
		if p.hasDelay() {
			A = p.Z[r] + t*a
		}
		for idx, k := range ld {
			prob[idx] = t * p.scaled(k, r) * x[k] / A
		}

		next := make([]float64, size)
		for s, ps := range dist {
			if ps == 0 {
				continue
			}
			for idx, k := range ld {
				counts[idx] = (s / radix[idx]) % (p.servers[k] + 1)
			}
			var place func(idx, rem int, mass, w float64, state int)
			place = func(idx, rem int, mass, w float64, state int) {
				if idx == len(ld) {
					next[state] += w
					return
				}
				k := ld[idx]
				q := 0.0
				if mass > 0 {
					q = math.Min(1, prob[idx]/mass)
				}
				for j := 0; j <= rem; j++ {
					b := binomPMF(rem, j, q)
					if b == 0 {
						continue
					}
					c := min(counts[idx]+j, p.servers[k])
					st := state + (c-counts[idx])*radix[idx]
					place(idx+1, rem-j, mass-prob[idx], w*b, st)
				}
			}
			place(0, n, 1, ps, s)
		}
		dist = next
	}

	e := 0.0
	for s, ps := range dist {
		if ps == 0 {
			continue
		}
		g := ps
		for idx, k := range ld {
			c := p.servers[k]
			nk := (s / radix[idx]) % (c + 1)
			lg, _ := math.Lgamma(float64(nk) + 1)
			g *= math.Exp(float64(nk)*math.Log(float64(c)) - lg)
		}
		e += g
	}
	return e
}

func binomPMF(n, j int, q float64) float64 {
	switch {
	case q <= 0:
		if j == 0 {
			return 1
		}
		return 0
	case q >= 1:
		if j == n {
			return 1
		}
		return 0
	}
	ln, _ := math.Lgamma(float64(n) + 1)
	lj, _ := math.Lgamma(float64(j) + 1)
	lr, _ := math.Lgamma(float64(n-j) + 1)
	return math.Exp(ln - lj - lr + float64(j)*math.Log(q) + float64(n-j)*math.Log1p(-q))
}

// MCLSolver is the Monte Carlo logistic strategy for closed networks
type MCLSolver struct {
	baseSolver
}

func (ms *MCLSolver) Iterations() int { return ms.iterations }

func (ms *MCLSolver) Solve() error {
	if err := ms.ready(); err != nil {
		return err
	}
	in := ms.in
	tr, err := newTransform(in.Transform)
	if err != nil {
		return inputDataErr("%s", err.Error())
	}
	pop := closedPopulation(in)
	base := &mclProblem{
		Z:         delayDemands(in),
		N:         pop,
		transform: tr,
		tol:       in.Tolerance,
		maxIter:   in.MaxIterations,
		samples:   in.MaxSamples,
		seed:      in.Seed,
		threads:   in.Threads,
		digits:    in.Precision,
	}
	queues := []int{}
	for k := 0; k < ms.M; k++ {
		if in.isDelay(k) {
			continue
		}
		queues = append(queues, k)
		base.D = append(base.D, in.Demands[k])
		base.servers = append(base.servers, in.Servers[k])
	}

	logGN, iters, err := base.logG()
	ms.iterations = iters
	if err != nil {
		return err
	}
	ms.logG = logGN
	if math.IsInf(logGN, -1) {
		logger.Warn("model has a class with no service demand; normalizing constant is zero")
		return nil
	}

	X := make([]float64, ms.R)
	for r := 0; r < ms.R; r++ {
		col := make([]float64, ms.M)
		if pop[r] == 0 {
			ms.fillFromQueueLengths(r, 0, col)
			continue
		}
		sub := removeOne(pop, r)
		lgSub, _, err := base.withPopulation(sub).logG()
		if err != nil {
			return err
		}
		X[r] = math.Exp(lgSub - logGN)

		for k := 0; k < ms.M; k++ {
			if in.isDelay(k) || in.Demands[k][r] == 0 {
				col[k] = in.Demands[k][r] * X[r]
			}
		}
		for q, k := range queues {
			if in.Demands[k][r] == 0 || in.Servers[k] > 1 {
				continue
			}
			lgAug, _, err := base.duplicate(q).withPopulation(sub).logG()
			if err != nil {
				return err
			}
			col[k] = in.Demands[k][r] * math.Exp(lgAug-logGN)
		}
		ms.fillFromQueueLengths(r, X[r], col)
	}

	// multi-server queue lengths from the marginal distribution of each station's population
	for q, k := range queues {
		if in.Servers[k] == 1 {
			continue
		}
		ql, err := ms.marginalQueueLengths(base, q, logGN)
		if err != nil {
			return err
		}
		for r := 0; r < ms.R; r++ {
			if pop[r] == 0 || in.Demands[k][r] == 0 {
				continue
			}
			ms.ql[k][r] = ql[r]
			if X[r] > 0 {
				ms.rt[k][r] = ql[r] / X[r]
			}
		}
	}
	logger.Debug("Monte Carlo logistic solved", zap.Float64("logG", logGN), zap.Int("iterations", iters))
	return nil
}

// marginalQueueLengths returns sum_m m_r F_k(m) G_{-k}(N - m) / G(N) for every class,
// with one normalizing-constant estimate of the reduced network per population
func (ms *MCLSolver) marginalQueueLengths(base *mclProblem, q int, logGN float64) ([]float64, error) {
	reduced := base.without(q)
	lat := newPopLattice(base.N)
	ql := make([]float64, len(base.N))
	rest := make([]int, len(base.N))
	var failure error
	lat.forEachBelow(base.N, func(m []int, _ int) {
		if failure != nil || total(m) == 0 {
			return
		}
		lf := logStationFactor(base.D[q], base.servers[q], m)
		if math.IsInf(lf, -1) {
			return
		}
		for r := range rest {
			rest[r] = base.N[r] - m[r]
		}
		lg, _, err := reduced.withPopulation(append([]int(nil), rest...)).logG()
		if err != nil {
			failure = err
			return
		}
		w := math.Exp(lf + lg - logGN)
		for r, mr := range m {
			ql[r] += float64(mr) * w
		}
	})
	return ql, failure
}
