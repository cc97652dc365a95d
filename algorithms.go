package qnsolve

import (
	"fmt"
	"strings"
)

// AlgorithmID identifies one solution algorithm
type AlgorithmID int

const (
	MVA AlgorithmID = iota
	Convolution
	RECAL
	TreeMVA
	MonteCarloLogistic
	Chow
	BardSchweitzer
	AQL
	Linearizer
	FastLinearizer
)

// Capabilities are the static facts an algorithm declares about the models it handles
type Capabilities struct {
	Open          bool
	Closed        bool
	LoadDependent bool
	Priority      bool
	Iterative     bool
	Exact         bool
}

type algorithmInfo struct {
	name string
	caps Capabilities
}

var algorithmTable = map[AlgorithmID]algorithmInfo{
	MVA:                {"MVA", Capabilities{Open: true, Closed: true, LoadDependent: true, Exact: true}},
	Convolution:        {"CONVOLUTION", Capabilities{Closed: true, LoadDependent: true, Exact: true}},
	RECAL:              {"RECAL", Capabilities{Closed: true, Exact: true}},
	TreeMVA:            {"TREE_MVA", Capabilities{Closed: true, Exact: true}},
	MonteCarloLogistic: {"MONTE_CARLO_LOGISTIC", Capabilities{Closed: true, LoadDependent: true, Iterative: true}},
	Chow:               {"CHOW", Capabilities{Open: true, Closed: true, Iterative: true}},
	BardSchweitzer:     {"BARD_SCHWEITZER", Capabilities{Open: true, Closed: true, Priority: true, Iterative: true}},
	AQL:                {"AQL", Capabilities{Open: true, Closed: true, Iterative: true}},
	Linearizer:         {"LINEARIZER", Capabilities{Closed: true, Iterative: true}},
	FastLinearizer:     {"FAST_LINEARIZER", Capabilities{Closed: true, Iterative: true}},
}

// Algorithms lists every known algorithm in declaration order
func Algorithms() []AlgorithmID {
	return []AlgorithmID{MVA, Convolution, RECAL, TreeMVA, MonteCarloLogistic,
		Chow, BardSchweitzer, AQL, Linearizer, FastLinearizer}
}

func (alg AlgorithmID) String() string {
	info, present := algorithmTable[alg]
	if !present {
		return fmt.Sprintf("AlgorithmID(%d)", int(alg))
	}
	return info.name
}

// Capabilities returns the algorithm's declared capabilities
func (alg AlgorithmID) Capabilities() Capabilities {
	return algorithmTable[alg].caps
}

// ParseAlgorithm maps a name, case-insensitively and ignoring '-' versus '_', to its AlgorithmID
func ParseAlgorithm(name string) (AlgorithmID, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for _, alg := range Algorithms() {
		if algorithmTable[alg].name == norm {
			return alg, nil
		}
	}
	return 0, inputDataErr("unknown algorithm %q", name)
}
