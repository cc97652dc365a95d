package qnsolve

// selector.go maps an algorithm and a model shape to the strategy that solves it.
// Closed models try the closed-specific strategies, then the mixed-capable ones, and
// only then the general approximate MVA family.  Open and mixed models consult the
// mixed-capable strategies alone.  The order is fixed by the lists below and is not
// derived from the declared capabilities: several algorithms reach closed models
// only through the mixed strategy.

// strategyEntry builds a fresh strategy for one algorithm
type strategyEntry struct {
	alg   AlgorithmID
	build func() Strategy
}

// registry is an ordered list of strategies tried for one family
type registry struct {
	name    string
	entries []strategyEntry
}

func (rg *registry) lookup(alg AlgorithmID) (strategyEntry, bool) {
	for _, se := range rg.entries {
		if se.alg == alg {
			return se, true
		}
	}
	return strategyEntry{}, false
}

func mixedEntry(alg AlgorithmID) strategyEntry {
	return strategyEntry{alg: alg, build: func() Strategy { return &MixedSolver{alg: alg} }}
}

func amvaEntry(alg AlgorithmID) strategyEntry {
	return strategyEntry{alg: alg, build: func() Strategy { return &AMVASolver{alg: alg} }}
}

var closedRegistry = &registry{
	name: "closed",
	entries: []strategyEntry{
		{alg: MVA, build: func() Strategy { return &ClosedMVASolver{} }},
		{alg: Convolution, build: func() Strategy { return &ConvolutionSolver{} }},
		{alg: RECAL, build: func() Strategy { return &RECALSolver{} }},
		{alg: TreeMVA, build: func() Strategy { return &TreeSolver{} }},
		{alg: MonteCarloLogistic, build: func() Strategy { return &MCLSolver{} }},
	},
}

var mixedRegistry = &registry{
	name:    "mixed",
	entries: []strategyEntry{mixedEntry(MVA), mixedEntry(Chow), mixedEntry(BardSchweitzer), mixedEntry(AQL)},
}

var amvaRegistry = &registry{
	name:    "amva",
	entries: []strategyEntry{amvaEntry(BardSchweitzer), amvaEntry(Linearizer), amvaEntry(FastLinearizer), amvaEntry(AQL)},
}

// precedence returns the registries consulted for a model kind, in order
func precedence(kind ModelKind) []*registry {
	if kind == ClosedModel {
		return []*registry{closedRegistry, mixedRegistry, amvaRegistry}
	}
	return []*registry{mixedRegistry}
}

// SelectionPath names the registry whose strategy would be chosen for the algorithm on a
// model of the given kind, and reports false when none has one
func SelectionPath(kind ModelKind, alg AlgorithmID) (string, bool) {
	for _, rg := range precedence(kind) {
		if _, ok := rg.lookup(alg); ok {
			return rg.name, true
		}
	}
	return "", false
}

// SelectStrategy builds the strategy for the description's model kind and the algorithm,
// and gives it the extracted input.  A strategy that refuses the input ends the search;
// its refusal is the selection failure returned.
func SelectStrategy(md *ModelDesc, alg AlgorithmID) (Strategy, error) {
	kind := md.Kind()
	for _, rg := range precedence(kind) {
		se, ok := rg.lookup(alg)
		if !ok {
			continue
		}
		st := se.build()
		if err := st.Input(NewSolverInput(md)); err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, unsupportedErr("no strategy implements %s for %s models", alg, kind)
}
