package qnsolve

import (
	"math"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopLattice(t *testing.T) {
	lat := newPopLattice([]int{2, 1, 3})
	assert.Equal(t, 24, lat.size)
	assert.Equal(t, 23, lat.top())

	n := make([]int, 3)
	for idx := 0; idx < lat.size; idx++ {
		lat.vector(idx, n)
		assert.Equal(t, idx, lat.index(n))
	}

	seen := [][]int{}
	lat.forEachBelow([]int{1, 1, 0}, func(m []int, mi int) {
		seen = append(seen, append([]int(nil), m...))
		assert.Equal(t, lat.index(m), mi)
	})
	want := [][]int{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("forEachBelow order (-want +got):\n%s", diff)
	}
}

func TestLogBig(t *testing.T) {
	prec := floatPrec(40)
	huge := new(big.Float).SetPrec(prec).SetMantExp(big.NewFloat(1.5), 5000)
	assert.InDelta(t, math.Log(1.5)+5000*math.Ln2, logBig(huge), 1e-9)
	assert.True(t, math.IsInf(logBig(bigZero(prec)), -1))
	assert.Greater(t, floatPrec(40), floatPrec(10))
}

// Populations large enough to overflow a float64 constant still solve
func TestConvolutionLargePopulation(t *testing.T) {
	md := tandemModel(t, 400, 20, 30)
	exact := solveWith(t, md, "CONVOLUTION")
	assert.False(t, math.IsInf(exact.LogG, 0))
	assert.Greater(t, exact.LogG, math.Log(math.MaxFloat64))
	// the slower station is the bottleneck
	assert.InDelta(t, 1.0/30, systemThroughput(md, exact, 0), 1e-9)

	ref := solveWith(t, md, "MVA")
	assert.InDelta(t, ref.LogG, exact.LogG, 1e-6*math.Abs(ref.LogG))
}

func TestDecimalSum(t *testing.T) {
	ds := newDecimalSum(34)
	require.True(t, ds.addExp(1000))
	require.True(t, ds.addExp(1000))
	assert.False(t, ds.addExp(math.NaN()))
	assert.False(t, ds.addExp(math.Inf(1)))
	lm, err := ds.logMean(2)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, lm, 1e-9)

	other := newDecimalSum(34)
	require.True(t, other.addExp(0))
	require.NoError(t, other.merge(newDecimalSum(34)))
	lm, err = other.logMean(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, lm, 1e-12)

	empty := newDecimalSum(0)
	lm, err = empty.logMean(10)
	require.NoError(t, err)
	assert.True(t, math.IsInf(lm, -1))
}

func TestRECALMatchesConvolutionOnDelays(t *testing.T) {
	md := repairmanModel(t, 6, 0.7, 3.0)
	rc := solveWith(t, md, "RECAL")
	cv := solveWith(t, md, "CONVOLUTION")
	assert.InDelta(t, cv.LogG, rc.LogG, 1e-10)
	assert.InDelta(t, repairmanThroughput(6, 0.7, 3.0), rc.Throughput[0][0], 1e-10)
}

func TestExactSolversRejectMultiServer(t *testing.T) {
	md := multiServerModel(t)
	for _, alg := range []string{"RECAL", "TREE_MVA"} {
		cp := md.Clone()
		cp.Algorithm = alg
		err := Solve(cp)
		require.Error(t, err, alg)
		assert.ErrorIs(t, err, ErrUnsupportedModel, alg)
	}
}
