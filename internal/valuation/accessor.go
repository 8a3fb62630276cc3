// Package valuation resolves point-in-time valuations. Absence of data
// is explicit: nothing is ever inferred or interpolated.
package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"IRREngine/internal/domain"
)

// Store looks up the most recent valuation on or before a date.
// Implementations return domain.ErrNoValuation when none exists and
// domain.ErrDataAccess when the store is unreachable.
type Store interface {
	LatestAsOf(ctx context.Context, entityID uuid.UUID, asOf time.Time) (domain.ValuationPoint, error)
}

// Accessor wraps a Store with integrity checks. Valuations feed the
// solver's terminal flow and anchor the level-consistency checks, so a
// negative value is rejected here rather than propagated.
type Accessor struct {
	store Store
}

func NewAccessor(store Store) *Accessor {
	return &Accessor{store: store}
}

// LatestAsOf returns the most recent valuation with date' <= asOf.
func (a *Accessor) LatestAsOf(ctx context.Context, entityID uuid.UUID, asOf time.Time) (domain.ValuationPoint, error) {
	point, err := a.store.LatestAsOf(ctx, entityID, asOf)
	if err != nil {
		return domain.ValuationPoint{}, err
	}
	if point.Value.IsNegative() {
		return domain.ValuationPoint{}, fmt.Errorf("%w: negative value %s for %s on %s",
			domain.ErrInvalidValuation, point.Value, entityID, point.Date.Format("2006-01-02"))
	}
	return point, nil
}
