// Package cashflow turns raw activity records into the normalized,
// date-sorted signed series the solver consumes.
package cashflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"IRREngine/internal/domain"
)

var (
	minusOne = decimal.NewFromInt(-1)
	plusOne  = decimal.NewFromInt(1)
)

// EventStore reads raw activity records for one entity. Implementations
// return rows in recorded order; failure to reach the store surfaces as
// domain.ErrDataAccess.
type EventStore interface {
	EventsInRange(ctx context.Context, entityID uuid.UUID, from, to time.Time) ([]domain.CashFlowEvent, error)
}

// Extractor classifies raw events by kind and produces a signed series.
// Read-only; retry policy belongs to the caller.
type Extractor struct {
	store  EventStore
	logger zerolog.Logger
}

func NewExtractor(store EventStore, logger zerolog.Logger) *Extractor {
	return &Extractor{store: store, logger: logger}
}

// SeriesInRange returns the entity's signed flows within [from, to],
// sorted by date with ties kept in insertion order. An entity with no
// events yields an empty series, not an error.
func (x *Extractor) SeriesInRange(ctx context.Context, entityID uuid.UUID, from, to time.Time) ([]domain.Flow, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: %s after %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	events, err := x.store.EventsInRange(ctx, entityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("extract flows for %s: %w", entityID, err)
	}

	flows := make([]domain.Flow, 0, len(events))
	for _, evt := range events {
		sign, ok := signFor(evt.Kind)
		if !ok {
			x.logger.Warn().
				Str("entity_id", evt.EntityID.String()).
				Str("kind", string(evt.Kind)).
				Time("date", evt.Date).
				Msg("skipping event with unknown kind")
			continue
		}
		flows = append(flows, domain.Flow{
			Date:   evt.Date,
			Amount: evt.Amount.Abs().Mul(sign),
		})
	}

	sort.SliceStable(flows, func(i, j int) bool { return flows[i].Date.Before(flows[j].Date) })
	return flows, nil
}

// signFor maps an event kind to its NPV sign: money from the investor
// into the entity is an investor outflow (negative); money back to the
// investor is positive.
func signFor(kind domain.FlowKind) (decimal.Decimal, bool) {
	switch kind {
	case domain.KindContribution, domain.KindRegularContribution, domain.KindTransferIn:
		return minusOne, true
	case domain.KindWithdrawal, domain.KindTransferOut:
		return plusOne, true
	}
	return decimal.Zero, false
}
