// Package rollup computes one money-weighted return per hierarchy level.
// Every level is solved from its own cash-flow series and valuation;
// a parent's rate is never derived from a weighted blend of its
// children, because level-level cash timing differs.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"IRREngine/internal/cashflow"
	"IRREngine/internal/domain"
	"IRREngine/internal/observability"
	"IRREngine/internal/solver"
	"IRREngine/internal/valuation"
)

// FundInfo identifies one fund holding and the product it belongs to.
type FundInfo struct {
	ID          uuid.UUID
	PortfolioID uuid.UUID
	ProductID   uuid.UUID
}

// Hierarchy resolves parent/child relationships between levels. It is a
// read-only collaborator backed by the portal's relational store.
type Hierarchy interface {
	// Children returns the direct child entity ids of the given node:
	// clients under the organization, portfolios under a client, funds
	// under a portfolio. A fund has no children.
	Children(ctx context.Context, level domain.Level, parentID uuid.UUID) ([]uuid.UUID, error)

	// DescendantFunds returns every fund holding under the given node.
	// For a fund it returns the fund itself.
	DescendantFunds(ctx context.Context, level domain.Level, id uuid.UUID) ([]FundInfo, error)
}

// Engine sources level-appropriate flows and valuations and invokes the
// solver. Stateless apart from its collaborators; safe for concurrent use.
type Engine struct {
	extractor  *cashflow.Extractor
	valuations *valuation.Accessor
	hierarchy  Hierarchy
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewEngine(
	extractor *cashflow.Extractor,
	valuations *valuation.Accessor,
	hierarchy Hierarchy,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		extractor:  extractor,
		valuations: valuations,
		hierarchy:  hierarchy,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// inception is the open lower bound of every series query: flows are
// always gathered from the entity's first recorded event.
var inception = time.Time{}

// ComputeIRR solves one entity at one level. Solvable failures
// (insufficient flows, non-convergence) come back as result statuses;
// a missing or negative terminal valuation is a typed
// domain.ErrInvalidValuation, and store unavailability is a typed
// domain.ErrDataAccess.
func (e *Engine) ComputeIRR(ctx context.Context, level domain.Level, entityID uuid.UUID, asOf time.Time) (domain.IRRResult, error) {
	flows, err := e.extractor.SeriesInRange(ctx, entityID, inception, asOf)
	if err != nil {
		return domain.IRRResult{}, err
	}

	terminal, err := e.valuations.LatestAsOf(ctx, entityID, asOf)
	if err != nil {
		if errors.Is(err, domain.ErrNoValuation) {
			return domain.IRRResult{}, fmt.Errorf("%w: no terminal valuation for %s as of %s",
				domain.ErrInvalidValuation, entityID, asOf.Format("2006-01-02"))
		}
		return domain.IRRResult{}, err
	}

	// The terminal valuation enters the series as a synthetic positive
	// inflow on the as-of date.
	series := append(flows, domain.Flow{Date: asOf, Amount: terminal.Value})

	result := domain.IRRResult{
		EntityID:   entityID,
		Level:      level,
		AsOfDate:   asOf,
		ComputedAt: e.now(),
	}

	solved, err := solver.Annualized(series)
	switch {
	case err == nil:
		result.Status = domain.StatusConverged
		result.Rate = solved.Rate
		if e.metrics != nil {
			e.metrics.SolverIterations.Observe(float64(solved.Iterations))
			if solved.Bisected {
				e.metrics.SolverBisections.Inc()
			}
		}
	case errors.Is(err, domain.ErrInsufficientCashFlows):
		result.Status = domain.StatusInsufficientData
	case errors.Is(err, domain.ErrNonConvergent):
		result.Status = domain.StatusNonConvergent
	default:
		return domain.IRRResult{}, err
	}

	if e.metrics != nil {
		e.metrics.Computations.WithLabelValues(string(level), string(result.Status)).Inc()
	}
	return result, nil
}

// ComputeAggregate produces the cache payload for one key: the node's
// own IRR, its latest valuation, and summary counts over descendant
// funds. A descendant fund whose series fails to solve is excluded from
// the counts but never blocks the node's own result.
func (e *Engine) ComputeAggregate(ctx context.Context, level domain.Level, entityID uuid.UUID, asOf time.Time) (*domain.AggregateResult, error) {
	start := e.now()

	own, err := e.ComputeIRR(ctx, level, entityID, asOf)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	if point, verr := e.valuations.LatestAsOf(ctx, entityID, asOf); verr == nil {
		total = point.Value
	}

	fundCount, productCount := e.summaryCounts(ctx, level, entityID, asOf)

	// Data-integrity anchor: does the children's valuation sum match
	// this node's own valuation? Violations warn, never fail.
	if _, _, cerr := e.CheckConsistency(ctx, level, entityID, asOf, total); cerr != nil {
		e.logger.Warn().Err(cerr).
			Str("level", string(level)).
			Str("entity_id", entityID.String()).
			Msg("consistency check skipped")
	}

	if e.metrics != nil {
		e.metrics.ComputeDuration.WithLabelValues(string(level)).Observe(e.now().Sub(start).Seconds())
	}

	return &domain.AggregateResult{
		IRR:          own,
		TotalValue:   total,
		FundCount:    fundCount,
		ProductCount: productCount,
	}, nil
}

// summaryCounts solves every descendant fund independently and counts
// the ones that converge, plus their distinct products. Per-fund
// failures are absorbed with a warning.
func (e *Engine) summaryCounts(ctx context.Context, level domain.Level, entityID uuid.UUID, asOf time.Time) (funds, products int) {
	infos, err := e.hierarchy.DescendantFunds(ctx, level, entityID)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("level", string(level)).
			Str("entity_id", entityID.String()).
			Msg("descendant funds unavailable, summary counts omitted")
		return 0, 0
	}

	seen := make(map[uuid.UUID]struct{})
	for _, info := range infos {
		res, err := e.ComputeIRR(ctx, domain.LevelFund, info.ID, asOf)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("fund_id", info.ID.String()).
				Msg("fund excluded from summary: computation failed")
			continue
		}
		if !res.Converged() {
			e.logger.Warn().
				Str("fund_id", info.ID.String()).
				Str("status", string(res.Status)).
				Msg("fund excluded from summary")
			continue
		}
		funds++
		if _, dup := seen[info.ProductID]; !dup {
			seen[info.ProductID] = struct{}{}
		}
	}
	return funds, len(seen)
}
