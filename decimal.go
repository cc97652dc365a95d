package qnsolve

// decimal.go accumulates importance weights in apd decimals.  Exponentials of the
// log-integrand can exceed the float64 range for large populations, so they are
// formed, summed, and logged back at the configured number of significant digits.

import (
	"math"

	"github.com/cockroachdb/apd/v3"
)

// decimalSum is a running sum of exp(v) terms
type decimalSum struct {
	ctx *apd.Context
	sum *apd.Decimal
	tmp *apd.Decimal
	arg *apd.Decimal
}

func newDecimalSum(digits uint32) *decimalSum {
	if digits == 0 {
		digits = DefaultPrecision
	}
	return &decimalSum{
		ctx: apd.BaseContext.WithPrecision(digits),
		sum: apd.New(0, 0),
		tmp: new(apd.Decimal),
		arg: new(apd.Decimal),
	}
}

// addExp adds exp(v) to the sum.  A value whose exponential is not a finite decimal
// contributes zero and addExp reports false.
func (ds *decimalSum) addExp(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if _, err := ds.arg.SetFloat64(v); err != nil {
		return false
	}
	if _, err := ds.ctx.Exp(ds.tmp, ds.arg); err != nil || ds.tmp.Form != apd.Finite {
		return false
	}
	if _, err := ds.ctx.Add(ds.sum, ds.sum, ds.tmp); err != nil {
		return false
	}
	return true
}

// merge adds another partial sum into this one
func (ds *decimalSum) merge(other *decimalSum) error {
	_, err := ds.ctx.Add(ds.sum, ds.sum, other.sum)
	return err
}

// logMean returns log(sum / n), -Inf when the sum is zero
func (ds *decimalSum) logMean(n int) (float64, error) {
	if ds.sum.IsZero() || n <= 0 {
		return math.Inf(-1), nil
	}
	mean := new(apd.Decimal)
	if _, err := ds.ctx.Quo(mean, ds.sum, apd.New(int64(n), 0)); err != nil {
		return math.NaN(), err
	}
	lg := new(apd.Decimal)
	if _, err := ds.ctx.Ln(lg, mean); err != nil {
		return math.NaN(), err
	}
	return lg.Float64()
}
