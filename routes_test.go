package qnsolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// routedModel is a processor feeding two disks, with the disks returning to the processor
func routedModel(open bool) *ModelDesc {
	mf := CreateModelFrame("routed")
	mf.AddStation("cpu", QueueStation, 1)
	mf.AddStation("disk1", QueueStation, 1)
	mf.AddStation("disk2", QueueStation, 1)
	mf.AddStation("spare", QueueStation, 1)
	var cd *ClassDesc
	if open {
		cd = mf.AddOpenClass("jobs", 0.5)
		// leave with probability 0.2 from the processor
		cd.Routing = [][]float64{
			{0, 0.5, 0.3, 0},
			{1, 0, 0, 0},
			{1, 0, 0, 0},
			{0, 0, 0, 0},
		}
	} else {
		cd = mf.AddClosedClass("jobs", 3)
		cd.Routing = [][]float64{
			{0.2, 0.5, 0.3, 0},
			{1, 0, 0, 0},
			{1, 0, 0, 0},
			{0, 0, 0, 1},
		}
	}
	cd.RefStation = "cpu"
	md := mf.Transform()
	md.Visits = nil
	return &md
}

func TestDeriveVisitsClosed(t *testing.T) {
	md := routedModel(false)
	require.NoError(t, DeriveVisits(md))
	assert.InDelta(t, 1.0, md.Visits[0][0], 1e-12)
	assert.InDelta(t, 0.5, md.Visits[1][0], 1e-12)
	assert.InDelta(t, 0.3, md.Visits[2][0], 1e-12)
	// never reached from the processor
	assert.Equal(t, 0.0, md.Visits[3][0])
}

func TestDeriveVisitsOpen(t *testing.T) {
	md := routedModel(true)
	require.NoError(t, DeriveVisits(md))
	// v_cpu = 1 + v_disk1 + v_disk2 = 1 + 0.8 v_cpu
	assert.InDelta(t, 5.0, md.Visits[0][0], 1e-9)
	assert.InDelta(t, 2.5, md.Visits[1][0], 1e-9)
	assert.InDelta(t, 1.5, md.Visits[2][0], 1e-9)
}

func TestDeriveVisitsErrors(t *testing.T) {
	md := routedModel(false)
	md.Classes[0].Routing[1] = []float64{0.5, 0, 0, 0}
	err := DeriveVisits(md)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loses customers")

	md = routedModel(false)
	md.Classes[0].Routing[1] = []float64{0, 0, 0, 1}
	err = DeriveVisits(md)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot return")

	md = routedModel(false)
	md.Classes[0].RefStation = "tape"
	assert.Error(t, DeriveVisits(md))

	md = routedModel(false)
	md.Classes[0].Routing = md.Classes[0].Routing[:2]
	assert.Error(t, DeriveVisits(md))
}

func TestMostLikelyPath(t *testing.T) {
	md := routedModel(false)
	names, prob, err := MostLikelyPath(md, "jobs", "disk2", "disk1")
	require.NoError(t, err)
	assert.Equal(t, "disk2,cpu,disk1", ShowPath(names))
	assert.InDelta(t, 0.5, prob, 1e-12)

	_, _, err = MostLikelyPath(md, "jobs", "cpu", "spare")
	assert.Error(t, err)
	_, _, err = MostLikelyPath(md, "nobody", "cpu", "disk1")
	assert.Error(t, err)
}

func TestRoutedModelSolves(t *testing.T) {
	md := routedModel(false)
	require.NoError(t, DeriveVisits(md))
	md.ServiceTimes[0][0] = 0.1
	md.ServiceTimes[1][0] = 0.2
	md.ServiceTimes[2][0] = 0.2
	md.ServiceTimes[3][0] = 0.5
	md.Algorithm = "MVA"
	require.NoError(t, Solve(md))
	assert.InDelta(t, 3.0, classQueue(md.Result, 0), 1e-9)
	assert.Equal(t, 0.0, md.Result.Throughput[3][0])
}
