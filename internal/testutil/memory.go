// Package testutil provides in-memory fixture stores for engine tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"IRREngine/internal/domain"
	"IRREngine/internal/rollup"
)

// Date is shorthand for a UTC-midnight date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Dec parses a decimal literal, panicking on bad input. Test-only.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// MemoryStore is an in-memory implementation of cashflow.EventStore,
// valuation.Store and rollup.Hierarchy. Zero value is not usable; call
// NewMemoryStore.
type MemoryStore struct {
	mu         sync.Mutex
	events     map[uuid.UUID][]domain.CashFlowEvent
	valuations map[uuid.UUID][]domain.ValuationPoint
	children   map[string][]uuid.UUID
	funds      map[string][]rollup.FundInfo

	// FailEvents / FailValuations force domain.ErrDataAccess, for
	// simulating an unreachable store.
	FailEvents     bool
	FailValuations bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[uuid.UUID][]domain.CashFlowEvent),
		valuations: make(map[uuid.UUID][]domain.ValuationPoint),
		children:   make(map[string][]uuid.UUID),
		funds:      make(map[string][]rollup.FundInfo),
	}
}

func nodeKey(level domain.Level, id uuid.UUID) string {
	return string(level) + "/" + id.String()
}

// AddEvent records a raw activity row for an entity.
func (m *MemoryStore) AddEvent(entityID uuid.UUID, date time.Time, amount, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[entityID] = append(m.events[entityID], domain.CashFlowEvent{
		EntityID: entityID,
		Date:     date,
		Amount:   Dec(amount),
		Kind:     domain.FlowKind(kind),
	})
}

// AddValuation records a valuation snapshot for an entity.
func (m *MemoryStore) AddValuation(entityID uuid.UUID, date time.Time, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valuations[entityID] = append(m.valuations[entityID], domain.ValuationPoint{
		EntityID: entityID,
		Date:     date,
		Value:    Dec(value),
	})
}

// AddChild links a child entity under a parent node.
func (m *MemoryStore) AddChild(level domain.Level, parentID, childID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := nodeKey(level, parentID)
	m.children[k] = append(m.children[k], childID)
}

// AddFund registers a fund holding under every ancestor node so
// DescendantFunds resolves from any level.
func (m *MemoryStore) AddFund(info rollup.FundInfo, clientID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range []string{
		nodeKey(domain.LevelOrganization, domain.OrganizationID),
		nodeKey(domain.LevelClient, clientID),
		nodeKey(domain.LevelPortfolio, info.PortfolioID),
		nodeKey(domain.LevelFund, info.ID),
	} {
		m.funds[k] = append(m.funds[k], info)
	}
}

// EventsInRange implements cashflow.EventStore.
func (m *MemoryStore) EventsInRange(ctx context.Context, entityID uuid.UUID, from, to time.Time) ([]domain.CashFlowEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailEvents {
		return nil, fmt.Errorf("%w: store down", domain.ErrDataAccess)
	}
	var out []domain.CashFlowEvent
	for _, evt := range m.events[entityID] {
		if evt.Date.Before(from) || evt.Date.After(to) {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// LatestAsOf implements valuation.Store.
func (m *MemoryStore) LatestAsOf(ctx context.Context, entityID uuid.UUID, asOf time.Time) (domain.ValuationPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailValuations {
		return domain.ValuationPoint{}, fmt.Errorf("%w: store down", domain.ErrDataAccess)
	}
	points := append([]domain.ValuationPoint(nil), m.valuations[entityID]...)
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	var best *domain.ValuationPoint
	for i := range points {
		if !points[i].Date.After(asOf) {
			best = &points[i]
		}
	}
	if best == nil {
		return domain.ValuationPoint{}, fmt.Errorf("%w: entity %s", domain.ErrNoValuation, entityID)
	}
	return *best, nil
}

// Children implements rollup.Hierarchy.
func (m *MemoryStore) Children(ctx context.Context, level domain.Level, parentID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.children[nodeKey(level, parentID)]...), nil
}

// DescendantFunds implements rollup.Hierarchy.
func (m *MemoryStore) DescendantFunds(ctx context.Context, level domain.Level, id uuid.UUID) ([]rollup.FundInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rollup.FundInfo(nil), m.funds[nodeKey(level, id)]...), nil
}
