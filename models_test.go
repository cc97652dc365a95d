package qnsolve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// repairmanModel is one single-server station visited by a closed class, with an
// optional think time
func repairmanModel(t testing.TB, population, demand, think float64) *ModelDesc {
	mf := CreateModelFrame("repairman")
	mf.AddStation("server", QueueStation, 1)
	mf.AddClosedClass("jobs", population)
	require.NoError(t, mf.SetService("server", "jobs", demand, 1))
	if think > 0 {
		mf.AddStation("think", DelayStation, 1)
		require.NoError(t, mf.SetService("think", "jobs", think, 1))
	}
	md := mf.Transform()
	md.Algorithm = "MVA"
	return &md
}

// tandemModel is two single-server stations visited in turn by one closed class
func tandemModel(t testing.TB, population float64, d1, d2 float64) *ModelDesc {
	mf := CreateModelFrame("tandem")
	mf.AddStation("first", QueueStation, 1)
	mf.AddStation("second", QueueStation, 1)
	mf.AddClosedClass("jobs", population)
	require.NoError(t, mf.SetService("first", "jobs", d1, 1))
	require.NoError(t, mf.SetService("second", "jobs", d2, 1))
	md := mf.Transform()
	md.Algorithm = "MVA"
	return &md
}

// twoClassModel is a closed network of a processor, a disk and a terminal population
func twoClassModel(t testing.TB) *ModelDesc {
	mf := CreateModelFrame("twoclass")
	mf.AddStation("cpu", QueueStation, 1)
	mf.AddStation("disk", QueueStation, 1)
	mf.AddStation("terminals", DelayStation, 1)
	mf.AddClosedClass("batch", 3)
	mf.AddClosedClass("online", 2)
	require.NoError(t, mf.SetService("cpu", "batch", 0.05, 4))
	require.NoError(t, mf.SetService("cpu", "online", 0.02, 6))
	require.NoError(t, mf.SetService("disk", "batch", 0.03, 3))
	require.NoError(t, mf.SetService("disk", "online", 0.04, 5))
	require.NoError(t, mf.SetService("terminals", "batch", 0.5, 1))
	require.NoError(t, mf.SetService("terminals", "online", 2.0, 1))
	md := mf.Transform()
	md.Algorithm = "MVA"
	return &md
}

// multiServerModel has a two-server station ahead of a single server and a delay
func multiServerModel(t testing.TB) *ModelDesc {
	mf := CreateModelFrame("multiserver")
	mf.AddStation("pool", QueueStation, 2)
	mf.AddStation("store", QueueStation, 1)
	mf.AddStation("think", DelayStation, 1)
	mf.AddClosedClass("users", 4)
	require.NoError(t, mf.SetService("pool", "users", 0.8, 1))
	require.NoError(t, mf.SetService("store", "users", 0.3, 1))
	require.NoError(t, mf.SetService("think", "users", 2.0, 1))
	md := mf.Transform()
	md.Algorithm = "MVA"
	return &md
}

// openModel is a single open class through two single-server stations
func openModel(t testing.TB, rate float64) *ModelDesc {
	mf := CreateModelFrame("open")
	mf.AddStation("front", QueueStation, 1)
	mf.AddStation("back", QueueStation, 1)
	mf.AddOpenClass("requests", rate)
	require.NoError(t, mf.SetService("front", "requests", 0.2, 1))
	require.NoError(t, mf.SetService("back", "requests", 0.1, 2))
	md := mf.Transform()
	md.Algorithm = "MVA"
	return &md
}

// mixedModel has one open and one closed class sharing two stations and a delay
func mixedModel(t testing.TB) *ModelDesc {
	mf := CreateModelFrame("mixed")
	mf.AddStation("cpu", QueueStation, 1)
	mf.AddStation("disk", QueueStation, 1)
	mf.AddStation("think", DelayStation, 1)
	mf.AddOpenClass("web", 2)
	mf.AddClosedClass("batch", 3)
	require.NoError(t, mf.SetService("cpu", "web", 0.1, 1))
	require.NoError(t, mf.SetService("disk", "web", 0.05, 2))
	require.NoError(t, mf.SetService("cpu", "batch", 0.2, 1))
	require.NoError(t, mf.SetService("disk", "batch", 0.1, 1))
	require.NoError(t, mf.SetService("think", "batch", 1.0, 1))
	md := mf.Transform()
	md.Algorithm = "MVA"
	return &md
}

// systemThroughput recovers the per-class system throughput from the first visited station
func systemThroughput(md *ModelDesc, res *ResultDesc, r int) float64 {
	for k := range md.Stations {
		if md.Visits[k][r] > 0 {
			return res.Throughput[k][r] / md.Visits[k][r]
		}
	}
	return 0
}

func classQueue(res *ResultDesc, r int) float64 {
	q := 0.0
	for k := range res.QueueLength {
		q += res.QueueLength[k][r]
	}
	return q
}

func relDiff(a, b float64) float64 {
	den := math.Max(math.Abs(a), math.Abs(b))
	if den == 0 {
		return 0
	}
	return math.Abs(a-b) / den
}

// solveWith solves a copy of md with the named algorithm
func solveWith(t testing.TB, md *ModelDesc, alg string, opts ...SolveOption) *ResultDesc {
	cp := md.Clone()
	cp.Algorithm = alg
	require.NoError(t, Solve(cp, opts...), "algorithm %s", alg)
	require.NotNil(t, cp.Result)
	return cp.Result
}
