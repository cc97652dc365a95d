package qnsolve

import "math"

// CheckModelAlgorithmCompatibility decides whether the algorithm can legally be
// applied to the model.  The checks are made in a fixed order and the first one
// that fails is reported:
//  1. every class value (population or arrival rate) is strictly positive and every
//     closed population is an integer, else an input data error
//  2. a load-dependent station requires an algorithm supporting load-dependent stations
//  3. a non-default priority requires an algorithm supporting priorities
//  4. an open or mixed model requires an algorithm supporting open classes
//  5. a closed or mixed model requires an algorithm supporting closed classes
//
// The check has no side effects.  Passing it does not guarantee that a strategy
// exists; SelectStrategy has the final word.
func CheckModelAlgorithmCompatibility(md *ModelDesc, alg AlgorithmID) error {
	kind := md.Kind()
	for _, cd := range md.Classes {
		if cd.Value() > 0 {
			continue
		}
		var what string
		switch kind {
		case ClosedModel:
			what = "populations"
		case OpenModel:
			what = "arrival rates"
		default:
			what = "populations and arrival rates"
		}
		if len(md.Classes) == 1 {
			return inputDataErr("%s must be positive, class %s has %v", what, cd.Name, cd.Value())
		}
		return inputDataErr("all %s must be positive, class %s has %v", what, cd.Name, cd.Value())
	}
	for _, cd := range md.Classes {
		if cd.IsOpen() {
			continue
		}
		if math.Abs(cd.Population-math.Round(cd.Population)) > populationTolerance {
			return inputDataErr("population %.6g of class %s is not an integer", cd.Population, cd.Name)
		}
	}

	caps := alg.Capabilities()
	if md.HasLoadDependent() && !caps.LoadDependent {
		return unsupportedErr("%s does not support load-dependent stations", alg)
	}
	if md.HasPriorities() && !caps.Priority {
		return unsupportedErr("%s does not support priority classes", alg)
	}
	if kind != ClosedModel && !caps.Open {
		return unsupportedErr("%s does not support open classes (model is %s)", alg, kind)
	}
	if kind != OpenModel && !caps.Closed {
		return unsupportedErr("%s does not support closed classes (model is %s)", alg, kind)
	}
	return nil
}
