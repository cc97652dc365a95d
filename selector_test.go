package qnsolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectionPath(t *testing.T) {
	tests := []struct {
		kind ModelKind
		alg  AlgorithmID
		path string
		ok   bool
	}{
		{ClosedModel, MVA, "closed", true},
		{ClosedModel, MonteCarloLogistic, "closed", true},
		{ClosedModel, Chow, "mixed", true},
		{ClosedModel, BardSchweitzer, "mixed", true},
		{ClosedModel, AQL, "mixed", true},
		{ClosedModel, Linearizer, "amva", true},
		{ClosedModel, FastLinearizer, "amva", true},
		{OpenModel, MVA, "mixed", true},
		{OpenModel, Convolution, "", false},
		{MixedModel, Chow, "mixed", true},
		{MixedModel, Linearizer, "", false},
		{MixedModel, TreeMVA, "", false},
	}
	for _, tc := range tests {
		path, ok := SelectionPath(tc.kind, tc.alg)
		assert.Equal(t, tc.ok, ok, "%s on %s", tc.alg, tc.kind)
		assert.Equal(t, tc.path, path, "%s on %s", tc.alg, tc.kind)
	}
}

func TestSelectStrategyTypes(t *testing.T) {
	closed := twoClassModel(t)
	st, err := SelectStrategy(closed, MVA)
	require.NoError(t, err)
	assert.IsType(t, &ClosedMVASolver{}, st)

	st, err = SelectStrategy(closed, BardSchweitzer)
	require.NoError(t, err)
	assert.IsType(t, &MixedSolver{}, st)

	st, err = SelectStrategy(closed, Linearizer)
	require.NoError(t, err)
	assert.IsType(t, &AMVASolver{}, st)

	st, err = SelectStrategy(mixedModel(t), MVA)
	require.NoError(t, err)
	assert.IsType(t, &MixedSolver{}, st)
}

func TestSelectStrategyNoPath(t *testing.T) {
	_, err := SelectStrategy(mixedModel(t), Linearizer)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
	assert.Contains(t, err.Error(), "LINEARIZER")
}

// A strategy that refuses its input ends the search with its own refusal
func TestSelectStrategyRefusal(t *testing.T) {
	md := mixedModel(t)
	md.Stations[0].Servers = 3
	_, err := SelectStrategy(md, MVA)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
	assert.Contains(t, err.Error(), "load-dependent")

	md = openModel(t, 1)
	md.Classes[0].Priority = 1
	_, err = SelectStrategy(md, BardSchweitzer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority")
}
