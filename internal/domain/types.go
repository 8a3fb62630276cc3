// Package domain holds the shared types of the IRR engine: the hierarchy
// levels, cash-flow and valuation inputs, and the computed result shapes
// that flow between the rollup, the cache and the query façade.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Level identifies a node's position in the aggregation hierarchy.
type Level string

const (
	LevelFund         Level = "fund"
	LevelPortfolio    Level = "portfolio"
	LevelClient       Level = "client"
	LevelOrganization Level = "organization"
)

// ParseLevel validates a level string from an external surface.
func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelFund, LevelPortfolio, LevelClient, LevelOrganization:
		return Level(s), true
	}
	return "", false
}

// OrganizationID is the sentinel entity identifier for the single
// organization-wide node. There is exactly one organization.
var OrganizationID = uuid.Nil

// FlowKind classifies a raw activity record.
type FlowKind string

const (
	KindContribution        FlowKind = "contribution"
	KindRegularContribution FlowKind = "regular_contribution"
	KindWithdrawal          FlowKind = "withdrawal"
	KindTransferIn          FlowKind = "transfer_in"
	KindTransferOut         FlowKind = "transfer_out"
)

// CashFlowEvent is a raw activity record as read from the portal's store.
// Amount is the recorded magnitude; the NPV sign is derived solely from
// Kind during extraction. Events are immutable once recorded.
type CashFlowEvent struct {
	EntityID uuid.UUID
	Date     time.Time
	Amount   decimal.Decimal
	Kind     FlowKind
}

// Flow is one element of a normalized, signed cash-flow series: money
// from the investor into the entity is negative, money back to the
// investor (including the synthetic terminal valuation) is positive.
type Flow struct {
	Date   time.Time
	Amount decimal.Decimal
}

// ValuationPoint is a periodic snapshot of an entity's value. Value is
// never negative.
type ValuationPoint struct {
	EntityID uuid.UUID
	Date     time.Time
	Value    decimal.Decimal
}

// Status reports the outcome of one IRR computation.
type Status string

const (
	StatusConverged        Status = "converged"
	StatusInsufficientData Status = "insufficient_data"
	StatusNonConvergent    Status = "non_convergent"
)

// IRRResult is the outcome of solving one entity at one level. Rate is
// only meaningful when Status is StatusConverged; it is rounded to 4
// fractional digits, half-to-even.
type IRRResult struct {
	EntityID   uuid.UUID       `json:"entity_id"`
	Level      Level           `json:"level"`
	AsOfDate   time.Time       `json:"as_of_date"`
	Rate       decimal.Decimal `json:"rate"`
	ComputedAt time.Time       `json:"computed_at"`
	Status     Status          `json:"status"`
}

// Converged reports whether the result carries a meaningful rate.
func (r IRRResult) Converged() bool { return r.Status == StatusConverged }

// AggregateResult is the cache payload for one (level, entity, as-of)
// key: the level's own IRR plus its summary statistics. Fund and product
// counts include only descendant funds whose own series converged.
type AggregateResult struct {
	IRR          IRRResult       `json:"irr"`
	TotalValue   decimal.Decimal `json:"total_value"`
	FundCount    int             `json:"fund_count"`
	ProductCount int             `json:"product_count"`
}
