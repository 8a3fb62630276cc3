package domain

import "errors"

// Typed failures surfaced by the solver, the extractor and the cache.
// Callers classify with errors.Is; call sites add context with fmt.Errorf
// and %w.
var (
	// ErrInsufficientCashFlows: fewer than two flows, or no sign change
	// across the series. A rate is mathematically undefined.
	ErrInsufficientCashFlows = errors.New("insufficient cash flows")

	// ErrInvalidValuation: the terminal valuation is missing or unusable.
	ErrInvalidValuation = errors.New("invalid valuation")

	// ErrNonConvergent: Newton-Raphson diverged and bisection could not
	// bracket a root.
	ErrNonConvergent = errors.New("irr did not converge")

	// ErrDataAccess: the underlying store is unreachable. Never retried
	// by the component that observed it.
	ErrDataAccess = errors.New("data access failure")

	// ErrNoValuation: no valuation point exists on or before the query
	// date. Absence of data is explicit, never interpolated.
	ErrNoValuation = errors.New("no valuation on or before date")

	// ErrNoDataAvailable: a cache key has no valid payload history to
	// serve, not even a stale one.
	ErrNoDataAvailable = errors.New("no data available")
)
