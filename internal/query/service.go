// Package query is the engine's single external entry point. It
// resolves requests through the cache manager, falls back to one
// bounded synchronous computation on a cold key, and reports partial
// failures without aborting the response.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"IRREngine/internal/cache"
	"IRREngine/internal/domain"
	"IRREngine/internal/observability"
)

// DefaultSyncTimeout bounds the synchronous fallback on a cache miss.
// Past it the caller gets "pending" rather than blocking indefinitely.
const DefaultSyncTimeout = 5 * time.Second

// Service fronts the cache manager. Safe for concurrent invocation
// from many request-handling goroutines.
type Service struct {
	cache       *cache.Manager
	syncTimeout time.Duration
	logger      zerolog.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithSyncTimeout(d time.Duration) Option {
	return func(s *Service) { s.syncTimeout = d }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cacheManager *cache.Manager, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		cache:       cacheManager,
		syncTimeout: DefaultSyncTimeout,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetIRR resolves one entity's rate at one level. Cache hit (fresh or
// stale) answers immediately; a cold key gets one synchronous
// computation attempt bounded by the sync timeout, after which the
// status degrades to "pending". The synchronous path populates the
// cache as a byproduct.
func (s *Service) GetIRR(ctx context.Context, level domain.Level, entityID uuid.UUID, asOf time.Time) (IRRResponse, error) {
	start := s.now()
	key := cache.NewKey(level, entityID, asOf)

	res, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNoDataAvailable) {
			return IRRResponse{}, err
		}
		res, err = s.computeBounded(ctx, key)
		if err != nil {
			resp := s.emptyResponse(level, entityID, asOf, err)
			s.observe("get_irr", resp.Status, start)
			return resp, nil
		}
	}

	resp := s.toResponse(level, entityID, asOf, res)
	s.observe("get_irr", resp.Status, start)
	return resp, nil
}

// GetDashboardSummary returns the organization-wide aggregate as of
// today, cache-backed like any other key.
func (s *Service) GetDashboardSummary(ctx context.Context) (DashboardSummary, error) {
	start := s.now()
	asOf := s.now().UTC().Truncate(24 * time.Hour)
	key := cache.NewKey(domain.LevelOrganization, domain.OrganizationID, asOf)

	res, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNoDataAvailable) {
			return DashboardSummary{}, err
		}
		res, err = s.computeBounded(ctx, key)
		if err != nil {
			status := StatusNoData
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				status = StatusPending
			}
			s.observe("dashboard", status, start)
			return DashboardSummary{RateStatus: status}, nil
		}
	}

	summary := DashboardSummary{
		RateStatus:        string(res.Payload.IRR.Status),
		FundCount:         res.Payload.FundCount,
		ProductCount:      res.Payload.ProductCount,
		TotalManagedValue: res.Payload.TotalValue,
		LastComputedAt:    res.ComputedAt,
		IsStale:           res.IsStale,
	}
	if res.Payload.IRR.Converged() {
		rate := res.Payload.IRR.Rate
		summary.OrganizationRate = &rate
	}
	s.observe("dashboard", summary.RateStatus, start)
	return summary, nil
}

// ForceRefresh explicitly invalidates and recomputes. With a nil
// entityID every cached key at the level is refreshed; with one, only
// that entity's key for the given date. Returns the number of refreshes
// scheduled.
func (s *Service) ForceRefresh(level domain.Level, entityID *uuid.UUID, asOf time.Time) int {
	if entityID == nil {
		n := s.cache.RefreshLevel(level)
		s.logger.Info().Str("level", string(level)).Int("scheduled", n).Msg("level refresh requested")
		return n
	}
	s.cache.ForceRefresh(cache.NewKey(level, *entityID, asOf))
	s.logger.Info().Str("level", string(level)).Str("entity_id", entityID.String()).Msg("entity refresh requested")
	return 1
}

// Flush drops all cached results. Exposed for operational tooling and
// orderly teardown.
func (s *Service) Flush() { s.cache.Flush() }

// computeBounded runs one synchronous computation attempt under the
// sync timeout.
func (s *Service) computeBounded(ctx context.Context, key cache.Key) (cache.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()
	return s.cache.ComputeSync(ctx, key)
}

func (s *Service) toResponse(level domain.Level, entityID uuid.UUID, asOf time.Time, res cache.Result) IRRResponse {
	resp := IRRResponse{
		Level:      level,
		EntityID:   entityID,
		AsOfDate:   asOf,
		Status:     string(res.Payload.IRR.Status),
		TotalValue: res.Payload.TotalValue,
		IsStale:    res.IsStale,
		ComputedAt: res.ComputedAt,
	}
	if res.Payload.IRR.Converged() {
		rate := res.Payload.IRR.Rate
		resp.Rate = &rate
	}
	return resp
}

// emptyResponse maps a failed synchronous attempt onto a non-throwing
// response: deadline expiry is "pending", anything else "no_data".
func (s *Service) emptyResponse(level domain.Level, entityID uuid.UUID, asOf time.Time, err error) IRRResponse {
	status := StatusNoData
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusPending
	} else {
		s.logger.Warn().Err(err).
			Str("level", string(level)).
			Str("entity_id", entityID.String()).
			Msg("no data available")
	}
	return IRRResponse{Level: level, EntityID: entityID, AsOfDate: asOf, Status: status}
}

func (s *Service) observe(endpoint, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(s.now().Sub(start).Seconds())
}
