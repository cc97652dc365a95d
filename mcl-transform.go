package qnsolve

// mcl-transform.go holds the logistic maps from unconstrained coordinates y in R^(M-1)
// to points x on the (M-1)-simplex.  Both maps have log-Jacobian sum_k log x_k, so the
// integrand and its stationary point in x are shared; only the y-space shape differs.

import (
	"fmt"
	"math"
)

type logisticTransform interface {
	// toSimplex writes the M coordinates of x for the M-1 coordinates of y
	toSimplex(y, x []float64)

	// fromSimplex writes y for a point x in the interior of the simplex
	fromSimplex(x, y []float64)

	// jacobian returns dx_k/dy_i as an M x (M-1) array
	jacobian(y, x []float64) [][]float64
}

func newTransform(name string) (logisticTransform, error) {
	switch name {
	case AdditiveTransform, "":
		return additiveLogistic{}, nil
	case MultiplicativeTransform:
		return multiplicativeLogistic{}, nil
	}
	return nil, fmt.Errorf("unknown logistic transform %q", name)
}

// additiveLogistic is x_k = e^{y_k} / (1 + sum_j e^{y_j}), with x_M = 1 / (1 + sum_j e^{y_j})
type additiveLogistic struct{}

func (additiveLogistic) toSimplex(y, x []float64) {
	mx := 0.0
	for _, v := range y {
		mx = math.Max(mx, v)
	}
	den := math.Exp(-mx)
	for _, v := range y {
		den += math.Exp(v - mx)
	}
	for i, v := range y {
		x[i] = math.Exp(v-mx) / den
	}
	x[len(y)] = math.Exp(-mx) / den
}

func (additiveLogistic) fromSimplex(x, y []float64) {
	last := x[len(x)-1]
	for i := range y {
		y[i] = math.Log(x[i] / last)
	}
}

func (additiveLogistic) jacobian(y, x []float64) [][]float64 {
	J := newMatrix(len(x), len(y))
	for k := range x {
		for i := range y {
			J[k][i] = -x[k] * x[i]
			if k == i {
				J[k][i] += x[k]
			}
		}
	}
	return J
}

// multiplicativeLogistic is the stick-breaking map x_k = s_k prod_{j<k} (1 - s_j), with
// s_j the logistic sigmoid of y_j and x_M the stick that remains
type multiplicativeLogistic struct{}

func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}

func (multiplicativeLogistic) toSimplex(y, x []float64) {
	rem := 1.0
	for k, v := range y {
		s := sigmoid(v)
		x[k] = s * rem
		rem *= 1 - s
	}
	x[len(y)] = rem
}

func (multiplicativeLogistic) fromSimplex(x, y []float64) {
	tail := x[len(x)-1]
	for k := len(y) - 1; k >= 0; k-- {
		y[k] = math.Log(x[k]) - math.Log(tail)
		tail += x[k]
	}
}

func (multiplicativeLogistic) jacobian(y, x []float64) [][]float64 {
	J := newMatrix(len(x), len(y))
	for k := range x {
		for i := range y {
			s := sigmoid(y[i])
			switch {
			case i < k:
				J[k][i] = -s * x[k]
			case i == k:
				J[k][i] = x[k] * (1 - s)
			}
		}
	}
	return J
}
