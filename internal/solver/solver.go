// Package solver computes an annualized money-weighted rate of return
// from a signed cash-flow series. It is pure: no I/O, no shared state.
package solver

import (
	"fmt"

	"github.com/shopspring/decimal"

	"IRREngine/internal/domain"
)

const (
	maxNewtonIterations = 100
	maxBisectIterations = 200
	daysPerYear         = 365
	powPrecision        = 20
)

var (
	tolerance    = decimal.New(1, -6)  // |f(r)| < 1e-6
	minStep      = decimal.New(1, -12) // Newton stalled below this step size
	initialGuess = decimal.RequireFromString("0.10")
	bracketLow   = decimal.RequireFromString("-0.99")
	bracketHigh  = decimal.RequireFromString("10.0")
	// newtonHigh bounds Newton iterates well above any plausible annual
	// rate; escaping it means divergence, not a root beyond bracketHigh.
	newtonHigh = decimal.New(1, 6)
	one          = decimal.NewFromInt(1)
	two          = decimal.NewFromInt(2)
	yearDays     = decimal.NewFromInt(daysPerYear)
)

// Result carries the solved rate plus diagnostics.
type Result struct {
	// Rate is annualized and rounded to 4 fractional digits, half-to-even.
	Rate decimal.Decimal
	// Iterations spent across Newton-Raphson and, if needed, bisection.
	Iterations int
	// Bisected reports that Newton-Raphson diverged and the rate came
	// from the bisection fallback.
	Bisected bool
}

// Annualized solves f(r) = Σ cf_i / (1+r)^(days_i/365) = 0 for a
// chronologically sorted series that already includes the synthetic
// terminal flow. Newton-Raphson from 0.10 with an analytic derivative;
// bisection over [-0.99, 10.0] when Newton diverges.
//
// Fails with domain.ErrInsufficientCashFlows when the series has fewer
// than two flows or no sign change, and domain.ErrNonConvergent when
// bisection cannot bracket a root.
func Annualized(flows []domain.Flow) (Result, error) {
	if err := validate(flows); err != nil {
		return Result{}, err
	}

	times := yearFractions(flows)

	r := initialGuess
	for i := 0; i < maxNewtonIterations; i++ {
		fv, ok := npvAt(flows, times, r)
		if !ok {
			return bisect(flows, times, i)
		}
		if fv.Abs().LessThan(tolerance) {
			return Result{Rate: r.RoundBank(4), Iterations: i}, nil
		}

		dv, ok := derivativeAt(flows, times, r)
		if !ok || dv.Abs().LessThan(minStep) {
			// Derivative vanished; Newton cannot make progress.
			return bisect(flows, times, i)
		}

		// Newton may legitimately converge above the bisection bracket;
		// only a step into the undefined region below bracketLow or a
		// runaway escape past newtonHigh abandons it.
		next := r.Sub(fv.Div(dv))
		if next.LessThanOrEqual(bracketLow) || next.GreaterThan(newtonHigh) {
			return bisect(flows, times, i)
		}
		if next.Sub(r).Abs().LessThan(minStep) {
			return bisect(flows, times, i)
		}
		r = next
	}

	return bisect(flows, times, maxNewtonIterations)
}

// NPV evaluates the net present value of the series at rate r. Exposed
// so callers can verify NPV(solved rate) ≈ 0.
func NPV(flows []domain.Flow, r decimal.Decimal) (decimal.Decimal, error) {
	if len(flows) == 0 {
		return decimal.Zero, fmt.Errorf("%w: empty series", domain.ErrInsufficientCashFlows)
	}
	v, ok := npvAt(flows, yearFractions(flows), r)
	if !ok {
		return decimal.Zero, fmt.Errorf("npv undefined at rate %s", r)
	}
	return v, nil
}

func validate(flows []domain.Flow) error {
	if len(flows) < 2 {
		return fmt.Errorf("%w: got %d flows, need at least 2", domain.ErrInsufficientCashFlows, len(flows))
	}
	var havePos, haveNeg bool
	for _, f := range flows {
		if f.Amount.IsPositive() {
			havePos = true
		}
		if f.Amount.IsNegative() {
			haveNeg = true
		}
	}
	if !havePos || !haveNeg {
		return fmt.Errorf("%w: no sign change across series", domain.ErrInsufficientCashFlows)
	}
	return nil
}

// yearFractions returns days_i/365 per flow, measured from the series'
// first date. Dates before the first carry a negative fraction.
func yearFractions(flows []domain.Flow) []decimal.Decimal {
	first := flows[0].Date
	out := make([]decimal.Decimal, len(flows))
	for i, f := range flows {
		days := int64(f.Date.Sub(first).Hours() / 24)
		out[i] = decimal.NewFromInt(days).Div(yearDays)
	}
	return out
}

// npvAt returns f(r) = Σ cf_i * (1+r)^(-t_i). ok is false when the
// discount base is non-positive, i.e. the rate left the solvable region.
func npvAt(flows []domain.Flow, times []decimal.Decimal, r decimal.Decimal) (decimal.Decimal, bool) {
	base := one.Add(r)
	if !base.IsPositive() {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for i, f := range flows {
		factor, err := base.PowWithPrecision(times[i], powPrecision)
		if err != nil {
			return decimal.Zero, false
		}
		sum = sum.Add(f.Amount.Div(factor))
	}
	return sum, true
}

// derivativeAt returns f'(r) = Σ cf_i * (-t_i) * (1+r)^(-t_i-1),
// the closed form of d/dr of the NPV.
func derivativeAt(flows []domain.Flow, times []decimal.Decimal, r decimal.Decimal) (decimal.Decimal, bool) {
	base := one.Add(r)
	if !base.IsPositive() {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for i, f := range flows {
		if times[i].IsZero() {
			continue // t=0 terms have zero derivative
		}
		factor, err := base.PowWithPrecision(times[i].Add(one), powPrecision)
		if err != nil {
			return decimal.Zero, false
		}
		sum = sum.Sub(f.Amount.Mul(times[i]).Div(factor))
	}
	return sum, true
}

// bisect is the fallback once Newton-Raphson oscillates, stalls or walks
// out of bounds. spent carries the Newton iterations already consumed.
func bisect(flows []domain.Flow, times []decimal.Decimal, spent int) (Result, error) {
	lo, hi := bracketLow, bracketHigh
	flo, ok := npvAt(flows, times, lo)
	if !ok {
		return Result{}, fmt.Errorf("%w: npv undefined at bracket edge", domain.ErrNonConvergent)
	}
	fhi, ok := npvAt(flows, times, hi)
	if !ok {
		return Result{}, fmt.Errorf("%w: npv undefined at bracket edge", domain.ErrNonConvergent)
	}
	if flo.Sign() == fhi.Sign() {
		return Result{}, fmt.Errorf("%w: no root bracketed in [%s, %s]", domain.ErrNonConvergent, lo, hi)
	}

	for i := 0; i < maxBisectIterations; i++ {
		mid := lo.Add(hi).Div(two)
		fmid, ok := npvAt(flows, times, mid)
		if !ok {
			return Result{}, fmt.Errorf("%w: npv undefined at %s", domain.ErrNonConvergent, mid)
		}
		if fmid.Abs().LessThan(tolerance) {
			return Result{Rate: mid.RoundBank(4), Iterations: spent + i + 1, Bisected: true}, nil
		}
		if fmid.Sign() == flo.Sign() {
			lo, flo = mid, fmid
		} else {
			hi = mid
		}
	}

	return Result{}, fmt.Errorf("%w: bisection exhausted %d iterations", domain.ErrNonConvergent, maxBisectIterations)
}
