// Package store implements the engine's read-only data accessors
// against the portal's PostgreSQL schema. The engine never writes these
// tables; ownership of schema and migrations stays with the portal.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"IRREngine/internal/domain"
	"IRREngine/internal/rollup"
)

// dateLayout formats query bounds as calendar dates. Sending text for a
// date column keeps range comparisons independent of the server's
// session time zone.
const dateLayout = "2006-01-02"

// PostgresStore satisfies cashflow.EventStore, valuation.Store and
// rollup.Hierarchy from one connection pool.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EventsInRange reads the entity's activity records within [from, to],
// ordered by event date with recorded order breaking ties.
func (s *PostgresStore) EventsInRange(ctx context.Context, entityID uuid.UUID, from, to time.Time) ([]domain.CashFlowEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, event_date, amount, kind
		FROM portal.cash_flow_events
		WHERE entity_id = $1 AND event_date >= $2::date AND event_date <= $3::date
		ORDER BY event_date, recorded_at
	`, entityID, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("%w: query cash flows: %v", domain.ErrDataAccess, err)
	}
	defer rows.Close()

	var events []domain.CashFlowEvent
	for rows.Next() {
		var (
			evt    domain.CashFlowEvent
			amount string
			kind   string
		)
		if err := rows.Scan(&evt.EntityID, &evt.Date, &amount, &kind); err != nil {
			return nil, fmt.Errorf("%w: scan cash flow: %v", domain.ErrDataAccess, err)
		}
		evt.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("%w: bad amount %q: %v", domain.ErrDataAccess, amount, err)
		}
		evt.Kind = domain.FlowKind(kind)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate cash flows: %v", domain.ErrDataAccess, err)
	}
	return events, nil
}

// LatestAsOf returns the most recent valuation with date <= asOf, or
// domain.ErrNoValuation when the entity has none.
func (s *PostgresStore) LatestAsOf(ctx context.Context, entityID uuid.UUID, asOf time.Time) (domain.ValuationPoint, error) {
	var (
		point domain.ValuationPoint
		value string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id, valuation_date, value
		FROM portal.valuations
		WHERE entity_id = $1 AND valuation_date <= $2::date
		ORDER BY valuation_date DESC
		LIMIT 1
	`, entityID, asOf.Format(dateLayout)).Scan(&point.EntityID, &point.Date, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ValuationPoint{}, fmt.Errorf("%w: entity %s as of %s",
			domain.ErrNoValuation, entityID, asOf.Format("2006-01-02"))
	}
	if err != nil {
		return domain.ValuationPoint{}, fmt.Errorf("%w: query valuation: %v", domain.ErrDataAccess, err)
	}
	point.Value, err = decimal.NewFromString(value)
	if err != nil {
		return domain.ValuationPoint{}, fmt.Errorf("%w: bad value %q: %v", domain.ErrDataAccess, value, err)
	}
	return point, nil
}

// Children resolves direct child ids: clients under the organization,
// portfolios under a client, funds under a portfolio.
func (s *PostgresStore) Children(ctx context.Context, level domain.Level, parentID uuid.UUID) ([]uuid.UUID, error) {
	var q string
	args := []interface{}{parentID}
	switch level {
	case domain.LevelOrganization:
		q = `SELECT id FROM portal.clients WHERE active ORDER BY id`
		args = nil
	case domain.LevelClient:
		q = `SELECT id FROM portal.portfolios WHERE client_id = $1 AND active ORDER BY id`
	case domain.LevelPortfolio:
		q = `SELECT id FROM portal.fund_holdings WHERE portfolio_id = $1 AND active ORDER BY id`
	case domain.LevelFund:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown level %q", level)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query children: %v", domain.ErrDataAccess, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan child id: %v", domain.ErrDataAccess, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate children: %v", domain.ErrDataAccess, err)
	}
	return ids, nil
}

// DescendantFunds lists every active fund holding under the node.
func (s *PostgresStore) DescendantFunds(ctx context.Context, level domain.Level, id uuid.UUID) ([]rollup.FundInfo, error) {
	var q string
	args := []interface{}{id}
	switch level {
	case domain.LevelOrganization:
		q = `
			SELECT f.id, f.portfolio_id, f.product_id
			FROM portal.fund_holdings f
			WHERE f.active
			ORDER BY f.id`
		args = nil
	case domain.LevelClient:
		q = `
			SELECT f.id, f.portfolio_id, f.product_id
			FROM portal.fund_holdings f
			JOIN portal.portfolios p ON p.id = f.portfolio_id
			WHERE p.client_id = $1 AND f.active
			ORDER BY f.id`
	case domain.LevelPortfolio:
		q = `
			SELECT f.id, f.portfolio_id, f.product_id
			FROM portal.fund_holdings f
			WHERE f.portfolio_id = $1 AND f.active
			ORDER BY f.id`
	case domain.LevelFund:
		q = `
			SELECT f.id, f.portfolio_id, f.product_id
			FROM portal.fund_holdings f
			WHERE f.id = $1`
	default:
		return nil, fmt.Errorf("unknown level %q", level)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query funds: %v", domain.ErrDataAccess, err)
	}
	defer rows.Close()

	var funds []rollup.FundInfo
	for rows.Next() {
		var info rollup.FundInfo
		if err := rows.Scan(&info.ID, &info.PortfolioID, &info.ProductID); err != nil {
			return nil, fmt.Errorf("%w: scan fund: %v", domain.ErrDataAccess, err)
		}
		funds = append(funds, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate funds: %v", domain.ErrDataAccess, err)
	}
	return funds, nil
}
