package qnsolve

// routes.go derives visit ratios from per-class routing matrices.  The routing of a
// class is converted into a directed graph whose edge from station i to station j is
// weighted by -log P[i][j]; shortest-path trees over that graph tell which stations
// the class can reach from its reference station, and give its most likely path
// between two stations.  Visit ratios of the reachable stations solve the traffic
// equations:
//
//	open class:   v = e_ref + v P
//	closed class: v = v P, with v_ref = 1

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"
)

const routingTolerance = 1e-9

// buildRoutingGraph returns a graph.Graph data structure with one node per station and
// an edge for every positive routing probability
func buildRoutingGraph(P [][]float64) *simple.WeightedDirectedGraph {
	rtGraph := simple.NewWeightedDirectedGraph(0, math.Inf(1))
	for k := range P {
		rtGraph.AddNode(simple.Node(k))
	}
	for i, row := range P {
		for j, p := range row {
			// self-loops never shorten a path and the graph does not accept them
			if p <= 0 || i == j {
				continue
			}
			rtGraph.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(i), T: simple.Node(j), W: -math.Log(p)})
		}
	}
	return rtGraph
}

// reachableFrom returns, per station, whether a path from station ref reaches it
func reachableFrom(rtGraph *simple.WeightedDirectedGraph, ref, stations int) []bool {
	spTree := path.DijkstraFrom(simple.Node(ref), rtGraph)
	reach := make([]bool, stations)
	for k := range reach {
		reach[k] = k == ref || !math.IsInf(spTree.WeightTo(int64(k)), 1)
	}
	return reach
}

// convertNodeSeq extracts station indices from a sequence of graph nodes
func convertNodeSeq(nsQ []graph.Node) []int {
	rtn := []int{}
	for _, node := range nsQ {
		rtn = append(rtn, int(node.ID()))
	}
	return rtn
}

// checkRouting verifies the shape and row sums of a class's routing matrix
func checkRouting(cd *ClassDesc, stations int) error {
	if len(cd.Routing) != stations {
		return fmt.Errorf("routing matrix of class %s has %d rows, expected %d", cd.Name, len(cd.Routing), stations)
	}
	for i, row := range cd.Routing {
		if len(row) != stations {
			return fmt.Errorf("routing matrix of class %s row %d has %d entries, expected %d", cd.Name, i, len(row), stations)
		}
		sum := 0.0
		for _, p := range row {
			if p < 0 || math.IsNaN(p) {
				return fmt.Errorf("routing matrix of class %s has negative probability in row %d", cd.Name, i)
			}
			sum += p
		}
		if sum > 1+routingTolerance {
			return fmt.Errorf("routing matrix of class %s row %d sums to %v", cd.Name, i, sum)
		}
		if !cd.IsOpen() && sum > 0 && math.Abs(sum-1) > routingTolerance {
			return fmt.Errorf("closed class %s loses customers at row %d (sum %v)", cd.Name, i, sum)
		}
	}
	return nil
}

// refStation returns the index of the class's reference station, station 0 by default
func refStation(md *ModelDesc, cd *ClassDesc) (int, error) {
	if cd.RefStation == "" {
		return 0, nil
	}
	ref := md.StationIndex(cd.RefStation)
	if ref < 0 {
		return -1, fmt.Errorf("class %s names unknown reference station %s", cd.Name, cd.RefStation)
	}
	return ref, nil
}

// classVisits solves the traffic equations of one class over the stations reachable
// from its reference station.  Unreachable stations get zero visits.
func classVisits(md *ModelDesc, r int) ([]float64, error) {
	cd := &md.Classes[r]
	M := len(md.Stations)
	if err := checkRouting(cd, M); err != nil {
		return nil, err
	}
	ref, err := refStation(md, cd)
	if err != nil {
		return nil, err
	}

	rtGraph := buildRoutingGraph(cd.Routing)
	reach := reachableFrom(rtGraph, ref, M)
	idx := []int{}
	for k, ok := range reach {
		if ok {
			idx = append(idx, k)
		}
	}
	if !cd.IsOpen() {
		// every reachable station of a closed class must lead back to its reference
		for _, k := range idx {
			if !reachableFrom(rtGraph, k, M)[ref] {
				return nil, fmt.Errorf("closed class %s cannot return to %s from %s",
					cd.Name, md.Stations[ref].Name, md.Stations[k].Name)
			}
		}
	}

	// A v = b with A = (I - P)^T restricted to the reachable stations
	n := len(idx)
	A := mat.NewDense(n, n, nil)
	b := mat.NewVecDense(n, nil)
	refPos := 0
	for a, i := range idx {
		if i == ref {
			refPos = a
		}
		for c, j := range idx {
			v := -cd.Routing[j][i]
			if i == j {
				v += 1
			}
			A.Set(a, c, v)
		}
	}
	if cd.IsOpen() {
		b.SetVec(refPos, 1)
	} else {
		// the equations of a closed class are dependent; pin v_ref = 1 in place of one
		for c := 0; c < n; c++ {
			A.Set(refPos, c, 0)
		}
		A.Set(refPos, refPos, 1)
		b.SetVec(refPos, 1)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(A, b); err != nil {
		return nil, fmt.Errorf("traffic equations of class %s have no solution: %w", cd.Name, err)
	}
	visits := make([]float64, M)
	for a, k := range idx {
		visits[k] = math.Max(0, sol.AtVec(a))
	}
	return visits, nil
}

// DeriveVisits replaces the visit ratios of every class that carries a routing matrix
// with the solution of its traffic equations.  A description with no visit matrix gets
// one with every ratio 1 before routed classes are filled in.
func DeriveVisits(md *ModelDesc) error {
	M, R := len(md.Stations), len(md.Classes)
	if md.Visits == nil {
		md.Visits = newMatrix(M, R)
		for k := range md.Visits {
			for r := range md.Visits[k] {
				md.Visits[k][r] = 1
			}
		}
	}
	errs := []error{}
	for r := range md.Classes {
		if len(md.Classes[r].Routing) == 0 {
			continue
		}
		visits, err := classVisits(md, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(md.Visits) != M {
			errs = append(errs, fmt.Errorf("visit matrix has %d rows, expected %d", len(md.Visits), M))
			break
		}
		for k := range visits {
			if len(md.Visits[k]) != R {
				errs = append(errs, fmt.Errorf("visit matrix row %d has %d entries, expected %d", k, len(md.Visits[k]), R))
				break
			}
			md.Visits[k][r] = visits[k]
		}
	}
	return ReportErrs(errs)
}

// MostLikelyPath returns the station names on the most probable route of the named
// class from one station to another, and the probability of following it
func MostLikelyPath(md *ModelDesc, class, from, to string) ([]string, float64, error) {
	r := md.ClassIndex(class)
	if r < 0 {
		return nil, 0, fmt.Errorf("unknown class %s", class)
	}
	src, dst := md.StationIndex(from), md.StationIndex(to)
	if src < 0 || dst < 0 {
		return nil, 0, fmt.Errorf("unknown station in %s -> %s", from, to)
	}
	cd := &md.Classes[r]
	if err := checkRouting(cd, len(md.Stations)); err != nil {
		return nil, 0, err
	}
	spTree := path.DijkstraFrom(simple.Node(src), buildRoutingGraph(cd.Routing))
	nodeSeq, weight := spTree.To(int64(dst))
	if len(nodeSeq) == 0 {
		return nil, 0, fmt.Errorf("class %s never moves from %s to %s", class, from, to)
	}
	names := []string{}
	for _, k := range convertNodeSeq(nodeSeq) {
		names = append(names, md.Stations[k].Name)
	}
	return names, math.Exp(-weight), nil
}

// ShowPath joins the station names on a path
func ShowPath(names []string) string {
	return strings.Join(names, ",")
}
