// Package cache is a keyed, TTL-bound store of computed aggregate
// results. Reads never block on computation: they serve the current
// payload (flagged stale past its TTL) or report that no data exists
// yet. At most one computation runs per key at any instant.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"IRREngine/internal/domain"
	"IRREngine/internal/observability"
)

const (
	// DefaultTTL keeps dashboard results fresh for a day; staleness is
	// evaluated lazily on read.
	DefaultTTL = 24 * time.Hour

	// DefaultRefreshTimeout bounds one background recomputation.
	DefaultRefreshTimeout = 30 * time.Second

	dateFormat = "2006-01-02"
)

// Key identifies one cached aggregate. AsOf is the ISO date string so
// the key stays comparable.
type Key struct {
	Level    domain.Level
	EntityID uuid.UUID
	AsOf     string
}

func NewKey(level domain.Level, entityID uuid.UUID, asOf time.Time) Key {
	return Key{Level: level, EntityID: entityID, AsOf: asOf.UTC().Format(dateFormat)}
}

// AsOfDate returns the key's date at UTC midnight.
func (k Key) AsOfDate() time.Time {
	t, _ := time.Parse(dateFormat, k.AsOf)
	return t
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Level, k.EntityID, k.AsOf)
}

// Result is what a read returns: the payload plus freshness metadata.
type Result struct {
	Payload    *domain.AggregateResult
	ComputedAt time.Time
	IsStale    bool
}

// ComputeFunc produces the payload for one key. It must be stateless
// and side-effect-free so the manager's per-key lock is the only shared
// mutable state.
type ComputeFunc func(ctx context.Context, key Key) (*domain.AggregateResult, error)

// entry is the authoritative record for one key. done is non-nil for
// exactly as long as a computation is in flight.
type entry struct {
	payload       *domain.AggregateResult
	computedAt    time.Time
	failedRefresh bool
	done          chan struct{}
}

// Manager owns the cache state machine. Empty on construction; Flush is
// the explicit teardown. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	entries map[Key]*entry

	ttl            time.Duration
	refreshTimeout time.Duration
	compute        ComputeFunc
	logger         zerolog.Logger
	metrics        *observability.Metrics
	clock          func() time.Time

	invocations atomic.Int64
	wg          sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.refreshTimeout = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock substitutes the time source; tests drive TTL transitions
// with it.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

func NewManager(compute ComputeFunc, opts ...Option) *Manager {
	m := &Manager{
		entries:        make(map[Key]*entry),
		ttl:            DefaultTTL,
		refreshTimeout: DefaultRefreshTimeout,
		compute:        compute,
		logger:         zerolog.Nop(),
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get serves the current payload for key without ever blocking on
// computation. A payload past its TTL is returned immediately with
// IsStale=true while exactly one background refresh is scheduled.
// A key with no payload history returns domain.ErrNoDataAvailable;
// the caller may then attempt ComputeSync.
func (m *Manager) Get(ctx context.Context, key Key) (Result, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok || e.payload == nil {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.CacheMisses.Inc()
		}
		return Result{}, fmt.Errorf("%w: %s", domain.ErrNoDataAvailable, key)
	}

	res := m.resultLocked(e)
	if res.IsStale && e.done == nil {
		m.startRefreshLocked(key, e)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		state := "valid"
		if res.IsStale {
			state = "stale"
		}
		m.metrics.CacheHits.WithLabelValues(state).Inc()
	}
	return res, nil
}

// ComputeSync computes the key's payload on the caller's goroutine,
// bounded by ctx. Concurrent callers for the same key coalesce onto a
// single computation: the first runs it, the rest wait for its result.
func (m *Manager) ComputeSync(ctx context.Context, key Key) (Result, error) {
	m.mu.Lock()
	e := m.entryLocked(key)

	if e.done != nil {
		// Another goroutine is already computing this key; wait for it.
		ch := e.done
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ch:
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		cur, ok := m.entries[key]
		if !ok || cur.payload == nil {
			return Result{}, fmt.Errorf("%w: %s", domain.ErrNoDataAvailable, key)
		}
		return m.resultLocked(cur), nil
	}

	e.done = make(chan struct{})
	m.mu.Unlock()

	payload, err := m.runCompute(ctx, key)
	return m.finish(key, e, payload, err)
}

// ForceRefresh schedules an asynchronous recomputation for key even if
// its entry is still fresh. This is the only invalidation trigger;
// nothing cascades across levels or entities. No-op when a computation
// is already in flight.
func (m *Manager) ForceRefresh(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryLocked(key)
	if e.done == nil {
		m.startRefreshLocked(key, e)
	}
}

// RefreshLevel force-refreshes every currently cached key at the given
// level.
func (m *Manager) RefreshLevel(level domain.Level) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, e := range m.entries {
		if key.Level != level || e.done != nil {
			continue
		}
		m.startRefreshLocked(key, e)
		n++
	}
	return n
}

// Flush drops all entries, returning the cache to its startup state.
// In-flight computations are not cancelled; their results are discarded
// on completion.
func (m *Manager) Flush() {
	m.mu.Lock()
	m.entries = make(map[Key]*entry)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.CacheEntries.Set(0)
	}
}

// Wait blocks until all background refreshes have completed. Used by
// tests and orderly shutdown.
func (m *Manager) Wait() { m.wg.Wait() }

// Invocations reports how many times the compute function has run.
func (m *Manager) Invocations() int64 { return m.invocations.Load() }

// Len reports the number of entries currently held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) entryLocked(key Key) *entry {
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
		if m.metrics != nil {
			m.metrics.CacheEntries.Set(float64(len(m.entries)))
		}
	}
	return e
}

func (m *Manager) resultLocked(e *entry) Result {
	stale := e.failedRefresh || m.clock().Sub(e.computedAt) > m.ttl
	return Result{Payload: e.payload, ComputedAt: e.computedAt, IsStale: stale}
}

// startRefreshLocked marks the entry computing and launches the refresh
// goroutine. Caller holds m.mu.
func (m *Manager) startRefreshLocked(key Key, e *entry) {
	e.done = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
		defer cancel()
		payload, err := m.runCompute(ctx, key)
		m.finish(key, e, payload, err)
	}()
}

func (m *Manager) runCompute(ctx context.Context, key Key) (*domain.AggregateResult, error) {
	m.invocations.Add(1)
	return m.compute(ctx, key)
}

// finish applies a completed computation. Writes are last-writer-wins
// by computed_at: a result that raced with a newer write is discarded.
// The old payload stays visible until the new one is fully applied, so
// no partial write is ever observed.
func (m *Manager) finish(key Key, e *entry, payload *domain.AggregateResult, err error) (Result, error) {
	computedAt := m.clock()

	m.mu.Lock()
	cur, present := m.entries[key]
	sameEntry := present && cur == e

	if e.done != nil {
		close(e.done)
		e.done = nil
	}

	if err != nil {
		// Serve the last valid payload, flagged stale. With no valid
		// history the key surfaces NoDataAvailable instead.
		if m.metrics != nil {
			m.metrics.CacheRefreshFailures.Inc()
		}
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("refresh failed")
		if sameEntry && cur.payload != nil {
			cur.failedRefresh = true
			res := m.resultLocked(cur)
			m.mu.Unlock()
			return res, nil
		}
		m.mu.Unlock()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// The caller's bound expired, not the data: let it decide
			// whether to report pending.
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %s", domain.ErrNoDataAvailable, key)
	}

	if !sameEntry {
		// Entry was flushed while computing; hand the payload to the
		// caller but do not resurrect the cache state.
		m.mu.Unlock()
		return Result{Payload: payload, ComputedAt: computedAt}, nil
	}

	if computedAt.After(cur.computedAt) {
		cur.payload = payload
		cur.computedAt = computedAt
		cur.failedRefresh = false
	} else {
		m.logger.Debug().Str("key", key.String()).Msg("discarding superseded computation")
	}
	res := m.resultLocked(cur)
	m.mu.Unlock()
	return res, nil
}
