package rollup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"IRREngine/internal/domain"
)

// CheckConsistency verifies that the sum of direct child valuations at
// asOf equals the parent's own valuation within tolerance: one minor
// currency unit per 100 children. A child with no valuation on or
// before the date contributes zero, which itself shows up as a
// mismatch. Violations are logged as data-integrity warnings and
// counted; they never block result delivery.
//
// Returns ok=false and the absolute difference on violation. Fund-level
// nodes and childless parents are trivially consistent.
func (e *Engine) CheckConsistency(ctx context.Context, level domain.Level, parentID uuid.UUID, asOf time.Time, parentValue decimal.Decimal) (bool, decimal.Decimal, error) {
	if level == domain.LevelFund {
		return true, decimal.Zero, nil
	}

	children, err := e.hierarchy.Children(ctx, level, parentID)
	if err != nil {
		return true, decimal.Zero, err
	}
	if len(children) == 0 {
		return true, decimal.Zero, nil
	}

	sum := decimal.Zero
	for _, childID := range children {
		point, err := e.valuations.LatestAsOf(ctx, childID, asOf)
		if err != nil {
			continue // absence contributes zero
		}
		sum = sum.Add(point.Value)
	}

	diff := parentValue.Sub(sum).Abs()
	tol := tolerance(len(children))
	if diff.GreaterThan(tol) {
		e.logger.Warn().
			Str("level", string(level)).
			Str("entity_id", parentID.String()).
			Str("parent_value", parentValue.String()).
			Str("children_sum", sum.String()).
			Str("difference", diff.String()).
			Int("children", len(children)).
			Msg("valuation consistency violation")
		if e.metrics != nil {
			e.metrics.ConsistencyViolations.WithLabelValues(string(level)).Inc()
		}
		return false, diff, nil
	}
	return true, diff, nil
}

// tolerance is one minor unit (0.01) per started group of 100 children.
func tolerance(children int) decimal.Decimal {
	groups := int64((children + 99) / 100)
	if groups < 1 {
		groups = 1
	}
	return decimal.New(groups, -2)
}
