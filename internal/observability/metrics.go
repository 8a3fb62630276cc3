package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the IRR engine. Components
// accept a possibly-nil *Metrics; tests pass nil to avoid registering
// collectors twice on the default registry.
type Metrics struct {
	// --- Cache ---
	CacheHits            *prometheus.CounterVec // state: valid|stale
	CacheMisses          prometheus.Counter
	CacheRefreshFailures prometheus.Counter
	CacheEntries         prometheus.Gauge

	// --- Computation ---
	Computations     *prometheus.CounterVec // level, status
	ComputeDuration  *prometheus.HistogramVec
	SolverIterations prometheus.Histogram
	SolverBisections prometheus.Counter

	// --- Data integrity ---
	ConsistencyViolations *prometheus.CounterVec // level

	// --- Query façade ---
	QueryRequests *prometheus.CounterVec // endpoint, status
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	computeBuckets := []float64{
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
	}

	return &Metrics{
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "irr_cache_hits_total",
			Help: "Cache reads served from an existing payload",
		}, []string{"state"}),

		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "irr_cache_misses_total",
			Help: "Cache reads with no payload to serve",
		}),

		CacheRefreshFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "irr_cache_refresh_failures_total",
			Help: "Refreshes that failed and reverted to the last valid payload",
		}),

		CacheEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "irr_cache_entries",
			Help: "Current number of cache entries",
		}),

		Computations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "irr_computations_total",
			Help: "Aggregate computations by outcome",
		}, []string{"level", "status"}),

		ComputeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "irr_compute_duration_seconds",
			Help:    "Time to compute one aggregate result",
			Buckets: computeBuckets,
		}, []string{"level"}),

		SolverIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "irr_solver_iterations",
			Help:    "Iterations spent per converged solve",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 300},
		}),

		SolverBisections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "irr_solver_bisections_total",
			Help: "Solves that fell back to bisection",
		}),

		ConsistencyViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "irr_consistency_violations_total",
			Help: "Parent valuation != sum of child valuations beyond tolerance",
		}, []string{"level"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "irr_query_requests_total",
			Help: "Query façade requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "irr_query_duration_seconds",
			Help:    "Query façade latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"endpoint"}),
	}
}
