package qnsolve

// treemva.go computes the normalizing constant by merging stations pairwise along a
// balanced binary tree.  Each node carries its partial constant only over the classes
// that visit some station beneath it, so sparse networks, where most classes visit
// few stations, keep small lattices until near the root.

import (
	"math/big"

	"golang.org/x/exp/slices"
)

// treeNode is the partial normalizing constant of a set of stations
type treeNode struct {
	classes []int // sorted global class indices covered
	lat     *popLattice
	g       []*big.Float
}

// project returns the sub-population of pop over the given classes
func project(pop []int, classes []int) []int {
	sub := make([]int, len(classes))
	for idx, r := range classes {
		sub[idx] = pop[r]
	}
	return sub
}

func treeLeaf(in *SolverInput, k int, pop []int, prec uint) *treeNode {
	classes := []int{}
	for r := range pop {
		if pop[r] > 0 && in.Demands[k][r] > 0 {
			classes = append(classes, r)
		}
	}
	lat := newPopLattice(project(pop, classes))
	dem := make([]float64, len(classes))
	for idx, r := range classes {
		dem[idx] = in.Demands[k][r]
	}
	return &treeNode{classes: classes, lat: lat, g: stationFactors(dem, in.Servers[k], in.isDelay(k), lat, prec)}
}

// mergeNodes convolves two partial constants over the union of their classes
func mergeNodes(a, b *treeNode, pop []int, prec uint) *treeNode {
	union := slices.Clone(a.classes)
	for _, r := range b.classes {
		if !slices.Contains(union, r) {
			union = append(union, r)
		}
	}
	slices.Sort(union)
	pos := make(map[int]int, len(union))
	for idx, r := range union {
		pos[r] = idx
	}
	lat := newPopLattice(project(pop, union))
	g := make([]*big.Float, lat.size)
	for idx := range g {
		g[idx] = bigZero(prec)
	}

	na := make([]int, len(a.classes))
	nb := make([]int, len(b.classes))
	n := make([]int, len(union))
	term := bigZero(prec)
	for ia := 0; ia < a.lat.size; ia++ {
		if a.g[ia].Sign() == 0 {
			continue
		}
		a.lat.vector(ia, na)
		for ib := 0; ib < b.lat.size; ib++ {
			if b.g[ib].Sign() == 0 {
				continue
			}
			b.lat.vector(ib, nb)
			for idx := range n {
				n[idx] = 0
			}
			for idx, r := range a.classes {
				n[pos[r]] += na[idx]
			}
			for idx, r := range b.classes {
				n[pos[r]] += nb[idx]
			}
			fits := true
			for idx, r := range union {
				if n[idx] > pop[r] {
					fits = false
					break
				}
			}
			if !fits {
				continue
			}
			ni := lat.index(n)
			term.Mul(a.g[ia], b.g[ib])
			g[ni].Add(g[ni], term)
		}
	}
	return &treeNode{classes: union, lat: lat, g: g}
}

// at returns the partial constant at the global population n, zero when n puts
// customers in classes the node does not cover
func (tn *treeNode) at(n []int, prec uint) *big.Float {
	covered := 0
	for _, r := range tn.classes {
		covered += n[r]
	}
	if covered != total(n) {
		return bigZero(prec)
	}
	return tn.g[tn.lat.index(project(n, tn.classes))]
}

// buildTree merges the leaves in balanced pairs until one root remains
func buildTree(leaves []*treeNode, pop []int, prec uint) *treeNode {
	level := leaves
	for len(level) > 1 {
		next := []*treeNode{}
		for idx := 0; idx+1 < len(level); idx += 2 {
			next = append(next, mergeNodes(level[idx], level[idx+1], pop, prec))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

// TreeSolver is the tree-structured exact solver for closed networks of single-server and delay stations
type TreeSolver struct {
	baseSolver
}

func (ts *TreeSolver) Solve() error {
	if err := ts.ready(); err != nil {
		return err
	}
	in := ts.in
	if in.hasLoadDependent() {
		return unsupportedErr("TREE_MVA does not handle multi-server stations")
	}
	prec := floatPrec(in.Precision)
	pop := closedPopulation(in)

	leaves := make([]*treeNode, ts.M)
	for k := 0; k < ts.M; k++ {
		leaves[k] = treeLeaf(in, k, pop, prec)
	}
	root := buildTree(leaves, pop, prec)
	G := root.at(pop, prec)
	if G.Sign() <= 0 {
		return solverErr(nil, "normalizing constant vanished")
	}
	ts.logG = logBig(G)

	for r := 0; r < ts.R; r++ {
		col := make([]float64, ts.M)
		if pop[r] == 0 {
			ts.fillFromQueueLengths(r, 0, col)
			continue
		}
		sub := removeOne(pop, r)
		X := ratio(root.at(sub, prec), G, prec)
		for k := 0; k < ts.M; k++ {
			if in.isDelay(k) || in.Demands[k][r] == 0 {
				col[k] = in.Demands[k][r] * X
				continue
			}
			// duplicate station k by merging its leaf into the root once more
			aug := mergeNodes(root, leaves[k], sub, prec)
			num := bigZero(prec).Mul(aug.at(sub, prec), bigZero(prec).SetFloat64(in.Demands[k][r]))
			col[k] = ratio(num, G, prec)
		}
		ts.fillFromQueueLengths(r, X, col)
	}
	logger.Debug("tree solver finished")
	return nil
}
