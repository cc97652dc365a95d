package qnsolve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestTransformsRoundTrip(t *testing.T) {
	for _, name := range []string{AdditiveTransform, MultiplicativeTransform} {
		tr, err := newTransform(name)
		require.NoError(t, err)
		y := []float64{0.3, -1.2, 2.0}
		x := make([]float64, 4)
		tr.toSimplex(y, x)
		sum := 0.0
		for _, v := range x {
			assert.Positive(t, v, name)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-12, name)

		back := make([]float64, 3)
		tr.fromSimplex(x, back)
		for i := range y {
			assert.InDelta(t, y[i], back[i], 1e-10, name)
		}
	}
	_, err := newTransform("probit")
	assert.Error(t, err)
}

func TestTransformJacobian(t *testing.T) {
	const h = 1e-6
	for _, name := range []string{AdditiveTransform, MultiplicativeTransform} {
		tr, _ := newTransform(name)
		y := []float64{0.4, -0.7}
		x := make([]float64, 3)
		tr.toSimplex(y, x)
		J := tr.jacobian(y, x)
		for i := range y {
			yp := append([]float64(nil), y...)
			ym := append([]float64(nil), y...)
			yp[i] += h
			ym[i] -= h
			xp, xm := make([]float64, 3), make([]float64, 3)
			tr.toSimplex(yp, xp)
			tr.toSimplex(ym, xm)
			for k := range x {
				assert.InDelta(t, (xp[k]-xm[k])/(2*h), J[k][i], 1e-7, "%s dx%d/dy%d", name, k, i)
			}
		}
	}
}

func TestImportanceSampleGaussian(t *testing.T) {
	ss := &sampleSpec{
		mode:    []float64{0},
		cov:     mat.NewSymDense(1, []float64{1}),
		logf:    func(v []float64) float64 { return -0.5 * v[0] * v[0] },
		samples: 8000,
		seed:    3,
		threads: 4,
		digits:  34,
	}
	li, err := importanceSample(ss)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*math.Log(2*math.Pi), li, 0.03)
}

func TestMCLClosedForms(t *testing.T) {
	md := repairmanModel(t, 5, 0.5, 0)
	exact := solveWith(t, md, "CONVOLUTION")
	res := solveWith(t, md, "MONTE_CARLO_LOGISTIC")
	assert.InDelta(t, exact.LogG, res.LogG, 1e-9)
	assert.InDelta(t, 5*math.Log(0.5), res.LogG, 1e-9)
	assert.Equal(t, 0, res.Iterations)

	p := &mclProblem{Z: []float64{2}, N: []int{3}}
	lg, ok := p.closedForm()
	require.True(t, ok)
	lf, _ := math.Lgamma(4)
	assert.InDelta(t, 3*math.Log(2)-lf, lg, 1e-12)

	p = &mclProblem{D: [][]float64{{1}}, servers: []int{1}, Z: []float64{0}, N: []int{0}}
	lg, ok = p.closedForm()
	require.True(t, ok)
	assert.Equal(t, 0.0, lg)
}

func mclModel(t *testing.T, seed uint64, samples, threads int) *ModelDesc {
	md := repairmanModel(t, 5, 1.0, 4.0)
	md.Algorithm = "MONTE_CARLO_LOGISTIC"
	md.Seed = seed
	md.MaxSamples = samples
	md.Threads = threads
	return md
}

func TestMCLAccuracy(t *testing.T) {
	exact := solveWith(t, repairmanModel(t, 5, 1.0, 4.0), "MVA")
	for _, transform := range []string{AdditiveTransform, MultiplicativeTransform} {
		md := mclModel(t, 7, 20000, 2)
		md.Transform = transform
		require.NoError(t, Solve(md))
		res := md.Result
		assert.InDelta(t, exact.LogG, res.LogG, 0.05, transform)
		assert.Less(t, relDiff(exact.Throughput[0][0], res.Throughput[0][0]), 0.05, transform)
		assert.Positive(t, res.Iterations, transform)
	}
}

func TestMCLReproducible(t *testing.T) {
	first := mclModel(t, 42, 3000, 1)
	second := mclModel(t, 42, 3000, 4)
	require.NoError(t, Solve(first))
	require.NoError(t, Solve(second))
	assert.Equal(t, first.Result.LogG, second.Result.LogG)
	assert.Equal(t, first.Result.Throughput, second.Result.Throughput)

	other := mclModel(t, 43, 3000, 1)
	require.NoError(t, Solve(other))
	assert.NotEqual(t, first.Result.LogG, other.Result.LogG)
}

// More samples give a tighter estimate across seeds
func TestMCLVarianceShrinks(t *testing.T) {
	spread := func(samples int) float64 {
		est := []float64{}
		for seed := uint64(1); seed <= 8; seed++ {
			md := mclModel(t, seed, samples, 2)
			require.NoError(t, Solve(md))
			est = append(est, md.Result.LogG)
		}
		return stat.Variance(est, nil)
	}
	assert.Less(t, spread(8000), spread(250))
}

func TestMCLZeroDemandClass(t *testing.T) {
	md := twoClassModel(t)
	for k := range md.Stations {
		md.ServiceTimes[k][1] = 0
	}
	md.Algorithm = "MONTE_CARLO_LOGISTIC"
	require.NoError(t, Solve(md))
	assert.True(t, math.IsInf(md.Result.LogG, -1))
}

func TestMCLMultiServer(t *testing.T) {
	md := multiServerModel(t)
	exact := solveWith(t, md, "MVA")

	md.Algorithm = "MONTE_CARLO_LOGISTIC"
	md.Seed = 5
	md.MaxSamples = 20000
	md.Threads = 2
	require.NoError(t, Solve(md))
	res := md.Result

	assert.InDelta(t, exact.LogG, res.LogG, 0.05)
	assert.Positive(t, res.Iterations)
	for k, name := range []string{"pool", "store", "think"} {
		assert.Less(t, relDiff(exact.Throughput[k][0], res.Throughput[k][0]), 0.05, name)
	}
	// pool queue length comes from the marginal sub-solves of the reduced network
	assert.InDelta(t, exact.QueueLength[0][0], res.QueueLength[0][0], 0.1)
	assert.InDelta(t, exact.QueueLength[1][0], res.QueueLength[1][0], 0.1)
	assert.InDelta(t, 4.0, classQueue(res, 0), 0.2)
}

func TestMCLStationaryPointBudget(t *testing.T) {
	md := multiServerModel(t)
	md.Algorithm = "MONTE_CARLO_LOGISTIC"
	md.MaxIterations = 1
	err := Solve(md)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSolver)
	assert.Nil(t, md.Result)
}
