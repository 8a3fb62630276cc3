package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"IRREngine/internal/cache"
	"IRREngine/internal/cashflow"
	"IRREngine/internal/config"
	"IRREngine/internal/domain"
	"IRREngine/internal/ingestion"
	"IRREngine/internal/observability"
	"IRREngine/internal/query"
	"IRREngine/internal/rollup"
	"IRREngine/internal/server"
	"IRREngine/internal/store"
	"IRREngine/internal/valuation"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	logger := observability.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres (read-only collaborator) ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	// --- Engine assembly ---
	metrics := observability.NewMetrics()
	pg := store.NewPostgresStore(db)

	extractor := cashflow.NewExtractor(pg, observability.NewLogger("cashflow"))
	valuations := valuation.NewAccessor(pg)
	engine := rollup.NewEngine(extractor, valuations, pg, observability.NewLogger("rollup"), metrics)

	// Cache starts empty; the compute func is the only path that fills it.
	manager := cache.NewManager(
		func(ctx context.Context, key cache.Key) (*domain.AggregateResult, error) {
			return engine.ComputeAggregate(ctx, key.Level, key.EntityID, key.AsOfDate())
		},
		cache.WithTTL(cfg.CacheTTL),
		cache.WithRefreshTimeout(cfg.RefreshTimeout),
		cache.WithLogger(observability.NewLogger("cache")),
		cache.WithMetrics(metrics),
	)

	service := query.NewService(
		manager,
		observability.NewLogger("query"),
		query.WithSyncTimeout(cfg.SyncComputeTimeout),
		query.WithMetrics(metrics),
	)

	health := observability.NewHealthChecker()

	// --- HTTP API ---
	api := server.New(service, health, observability.NewLogger("http"))
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: cors.Default().Handler(api.Router()),
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http api listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http api")
		}
	}()

	// --- Metrics / health server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", health.LivenessHandler)
	metricsMux.HandleFunc("/readyz", health.ReadinessHandler)
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("metrics server")
		}
	}()

	// --- NATS refresh listener (optional) ---
	var listener *ingestion.RefreshListener
	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL,
			nats.Name("irrengine"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer conn.Close()

		listener = ingestion.NewRefreshListener(conn, service, observability.NewLogger("ingestion"))
		if err := listener.Subscribe(cfg.RefreshSubject); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}
	}

	health.SetReady(true)
	logger.Info().Msg("irr engine ready")

	<-sigChan
	logger.Info().Msg("shutting down")
	health.SetReady(false)
	cancel()

	if listener != nil {
		if err := listener.Close(); err != nil {
			logger.Warn().Err(err).Msg("drain refresh listener")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics shutdown")
	}

	// Explicit teardown: drop cached state, then let in-flight
	// refreshes finish and be discarded.
	manager.Flush()
	manager.Wait()
	logger.Info().Msg("irr engine stopped")
}
