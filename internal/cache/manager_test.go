package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IRREngine/internal/cache"
	"IRREngine/internal/domain"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingCompute returns a payload whose FundCount is the invocation
// ordinal, so tests can tell which computation produced a result.
func countingCompute() cache.ComputeFunc {
	var n atomic.Int64
	return func(ctx context.Context, key cache.Key) (*domain.AggregateResult, error) {
		return &domain.AggregateResult{FundCount: int(n.Add(1))}, nil
	}
}

func testKey() cache.Key {
	return cache.NewKey(domain.LevelFund, uuid.New(), time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC))
}

func TestGet_EmptyCacheIsNoData(t *testing.T) {
	m := cache.NewManager(countingCompute())

	_, err := m.Get(context.Background(), testKey())
	assert.True(t, errors.Is(err, domain.ErrNoDataAvailable), "err = %v, want ErrNoDataAvailable", err)
	assert.Equal(t, int64(0), m.Invocations(), "a miss must not compute")
}

func TestComputeSyncThenGet_ValidWithoutRecompute(t *testing.T) {
	clock := newFakeClock()
	m := cache.NewManager(countingCompute(), cache.WithClock(clock.Now))
	key := testKey()

	res, err := m.ComputeSync(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, res.IsStale)
	assert.Equal(t, 1, res.Payload.FundCount)

	// Repeated reads inside the TTL serve the same payload and never
	// touch the compute function.
	for i := 0; i < 5; i++ {
		got, err := m.Get(context.Background(), key)
		require.NoError(t, err)
		assert.False(t, got.IsStale)
		assert.Equal(t, 1, got.Payload.FundCount)
	}
	assert.Equal(t, int64(1), m.Invocations())
}

func TestComputeSync_ConcurrentCallersCoalesce(t *testing.T) {
	release := make(chan struct{})
	var n atomic.Int64
	m := cache.NewManager(func(ctx context.Context, key cache.Key) (*domain.AggregateResult, error) {
		<-release
		return &domain.AggregateResult{FundCount: int(n.Add(1))}, nil
	})
	key := testKey()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]cache.Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.ComputeSync(context.Background(), key)
		}(i)
	}

	time.Sleep(50 * time.Millisecond) // let every caller reach the manager
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 1, results[i].Payload.FundCount)
	}
	assert.Equal(t, int64(1), m.Invocations(), "callers must share one computation")
}

func TestGet_StaleServesImmediatelyAndRefreshesOnce(t *testing.T) {
	clock := newFakeClock()
	release := make(chan struct{})
	var n atomic.Int64
	m := cache.NewManager(func(ctx context.Context, key cache.Key) (*domain.AggregateResult, error) {
		if n.Add(1) > 1 {
			<-release // hold the refresh open so repeated reads observe it
		}
		return &domain.AggregateResult{FundCount: int(n.Load())}, nil
	}, cache.WithClock(clock.Now), cache.WithTTL(time.Hour))
	key := testKey()

	_, err := m.ComputeSync(context.Background(), key)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	// Every read past the TTL serves the old payload without blocking,
	// and only the first schedules a refresh.
	for i := 0; i < 3; i++ {
		res, err := m.Get(context.Background(), key)
		require.NoError(t, err)
		assert.True(t, res.IsStale)
		assert.Equal(t, 1, res.Payload.FundCount)
	}

	close(release)
	m.Wait()
	assert.Equal(t, int64(2), m.Invocations(), "stale reads must coalesce onto one refresh")

	res, err := m.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, res.IsStale)
	assert.Equal(t, 2, res.Payload.FundCount)
}

func TestGet_FailedRefreshServesLastValidAsStale(t *testing.T) {
	clock := newFakeClock()
	var n atomic.Int64
	m := cache.NewManager(func(ctx context.Context, key cache.Key) (*domain.AggregateResult, error) {
		if n.Add(1) > 1 {
			return nil, errors.New("store down")
		}
		return &domain.AggregateResult{FundCount: 1}, nil
	}, cache.WithClock(clock.Now), cache.WithTTL(time.Hour))
	key := testKey()

	_, err := m.ComputeSync(context.Background(), key)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = m.Get(context.Background(), key) // schedules the failing refresh
	require.NoError(t, err)
	m.Wait()

	res, err := m.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, res.IsStale, "a failed refresh leaves the payload flagged stale")
	assert.Equal(t, 1, res.Payload.FundCount, "last valid payload must survive the failure")
}

func TestComputeSync_AlwaysFailingIsNoData(t *testing.T) {
	m := cache.NewManager(func(ctx context.Context, key cache.Key) (*domain.AggregateResult, error) {
		return nil, errors.New("store down")
	})

	_, err := m.ComputeSync(context.Background(), testKey())
	assert.True(t, errors.Is(err, domain.ErrNoDataAvailable), "err = %v, want ErrNoDataAvailable", err)
}

func TestComputeSync_DeadlinePropagates(t *testing.T) {
	m := cache.NewManager(func(ctx context.Context, key cache.Key) (*domain.AggregateResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.ComputeSync(ctx, testKey())
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v, want DeadlineExceeded", err)
}

func TestForceRefresh_RecomputesFreshEntry(t *testing.T) {
	clock := newFakeClock()
	m := cache.NewManager(countingCompute(), cache.WithClock(clock.Now))
	key := testKey()

	_, err := m.ComputeSync(context.Background(), key)
	require.NoError(t, err)

	clock.Advance(time.Minute) // last-writer-wins needs a later stamp
	m.ForceRefresh(key)
	m.Wait()

	res, err := m.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, res.IsStale)
	assert.Equal(t, 2, res.Payload.FundCount)
	assert.Equal(t, int64(2), m.Invocations())
}

func TestRefreshLevel_TouchesOnlyThatLevel(t *testing.T) {
	clock := newFakeClock()
	m := cache.NewManager(countingCompute(), cache.WithClock(clock.Now))
	asOf := time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC)

	fundA := cache.NewKey(domain.LevelFund, uuid.New(), asOf)
	fundB := cache.NewKey(domain.LevelFund, uuid.New(), asOf)
	client := cache.NewKey(domain.LevelClient, uuid.New(), asOf)
	for _, k := range []cache.Key{fundA, fundB, client} {
		_, err := m.ComputeSync(context.Background(), k)
		require.NoError(t, err)
	}

	clock.Advance(time.Minute)
	n := m.RefreshLevel(domain.LevelFund)
	m.Wait()

	assert.Equal(t, 2, n)
	assert.Equal(t, int64(5), m.Invocations(), "three initial computes plus two refreshes")
}

func TestFlush_DropsAllEntries(t *testing.T) {
	m := cache.NewManager(countingCompute())
	key := testKey()

	_, err := m.ComputeSync(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	m.Flush()

	assert.Equal(t, 0, m.Len())
	_, err = m.Get(context.Background(), key)
	assert.True(t, errors.Is(err, domain.ErrNoDataAvailable), "err = %v, want ErrNoDataAvailable", err)
}

func TestFlush_DiscardsInFlightResult(t *testing.T) {
	release := make(chan struct{})
	m := cache.NewManager(func(ctx context.Context, key cache.Key) (*domain.AggregateResult, error) {
		<-release
		return &domain.AggregateResult{FundCount: 1}, nil
	})
	key := testKey()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := m.ComputeSync(context.Background(), key)
		// The caller still receives its payload.
		assert.NoError(t, err)
		assert.Equal(t, 1, res.Payload.FundCount)
	}()

	time.Sleep(20 * time.Millisecond)
	m.Flush()
	close(release)
	wg.Wait()

	// The flushed cache must not be repopulated by the stale write.
	_, err := m.Get(context.Background(), key)
	assert.True(t, errors.Is(err, domain.ErrNoDataAvailable), "err = %v, want ErrNoDataAvailable", err)
}
