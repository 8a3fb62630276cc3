package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"IRREngine/internal/domain"
)

// Façade-level statuses, on top of the computation statuses: a bounded
// synchronous attempt that timed out is "pending", a key with no
// payload history at all is "no_data".
const (
	StatusPending = "pending"
	StatusNoData  = "no_data"
)

// IRRResponse is the façade's answer for one (level, entity, as-of)
// request. Rate is nil unless Status is "converged"; dashboards render
// a dash for anything without a rate.
type IRRResponse struct {
	Level      domain.Level     `json:"level"`
	EntityID   uuid.UUID        `json:"entity_id"`
	AsOfDate   time.Time        `json:"as_of_date"`
	Status     string           `json:"status"`
	Rate       *decimal.Decimal `json:"rate,omitempty"`
	TotalValue decimal.Decimal  `json:"total_value"`
	IsStale    bool             `json:"is_stale"`
	ComputedAt time.Time        `json:"computed_at"`
}

// DashboardSummary is the aggregate payload behind the landing page:
// organization-wide value, rate and activity counts, all cache-backed.
type DashboardSummary struct {
	TotalManagedValue decimal.Decimal  `json:"total_managed_value"`
	OrganizationRate  *decimal.Decimal `json:"organization_rate,omitempty"`
	RateStatus        string           `json:"rate_status"`
	FundCount         int              `json:"fund_count"`
	ProductCount      int              `json:"product_count"`
	LastComputedAt    time.Time        `json:"last_computed_at"`
	IsStale           bool             `json:"is_stale"`
}
