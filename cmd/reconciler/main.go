package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"

	"github.com/josh-kwaku/ledger-sync/internal/config"
	"github.com/josh-kwaku/ledger-sync/internal/domain"
	"github.com/josh-kwaku/ledger-sync/internal/handler"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
	"github.com/josh-kwaku/ledger-sync/internal/metrics"
	"github.com/josh-kwaku/ledger-sync/internal/middleware"
	"github.com/josh-kwaku/ledger-sync/internal/repository"
	"github.com/josh-kwaku/ledger-sync/internal/service"
	"github.com/josh-kwaku/ledger-sync/internal/service/reconcile"
	"github.com/josh-kwaku/ledger-sync/internal/service/transfer"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("ledger-sync", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := connectDB(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewPrometheus("ledger_sync", reg)
	if err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	entries := repository.NewEntryRepository(db)
	families := repository.NewFamilyRepository(db)
	transfers := repository.NewTransferRepository(db)
	batches := repository.NewSyncBatchRepository(db)

	reconciler := reconcile.NewService(
		entries,
		repository.NewHoldingRepository(db),
		repository.NewSecurityRepository(db),
		repository.NewProviderLinkRepository(db),
		families,
		db,
		cfg.Matching,
		rec,
	)
	matcher := transfer.NewMatcher(
		transfers,
		entries,
		families,
		repository.NewExchangeRateRepository(db),
		db,
		cfg.Matching,
		rec,
		cfg.AutoMatchWorkers,
	)
	processor := service.NewSyncProcessor(
		batches,
		repository.NewAccountRepository(db),
		reconciler,
		matcher,
		logger,
		rec,
		cfg.SyncPollInterval,
		cfg.SyncBatchSize,
		cfg.SyncConcurrency,
		domain.SyncRetryPolicy{
			Lease:       cfg.SyncLease,
			RetryDelay:  cfg.SyncRetryDelay,
			MaxAttempts: cfg.SyncMaxAttempts,
		},
	)

	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	if _, err := scheduler.AddFunc(cfg.AutoMatchSchedule, func() {
		results, err := matcher.AutoMatchAll(ctx)
		if err != nil {
			slog.Error("scheduled auto-match failed", "error", err)
		}
		matched := 0
		for _, r := range results {
			matched += len(r.Matched)
		}
		slog.Info("scheduled auto-match finished", "families", len(results), "matched", matched)
	}); err != nil {
		slog.Error("invalid auto-match schedule", "schedule", cfg.AutoMatchSchedule, "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)

	health := handler.NewHealthHandler(db, version)
	r.Get("/health", health.Liveness)
	r.Get("/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if cfg.OpsToken != "" {
		transferHandler := handler.NewTransferHandler(matcher, transfers)
		r.Group(func(r chi.Router) {
			r.Use(middleware.OpsAuth(cfg.OpsToken))
			r.Post("/families/{familyID}/transfers/auto-match", transferHandler.AutoMatch)
			r.Post("/transfers/rejections", transferHandler.Reject)
		})
	} else {
		slog.Warn("OPS_TOKEN not set, transfer operator endpoints disabled")
	}

	if cfg.IngestSecret != "" {
		r.Post("/sync-batches", handler.NewSyncBatchHandler(batches, cfg.IngestSecret).Enqueue)
	} else {
		slog.Warn("INGEST_SECRET not set, sync batch ingestion endpoint disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	processorDone := make(chan struct{})
	go func() {
		defer close(processorDone)
		processor.Start(ctx)
	}()
	scheduler.Start()

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	<-scheduler.Stop().Done()
	<-processorDone
	slog.Info("server stopped")
}

func connectDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}

	var (
		db      *sql.DB
		attempt int
	)
	backoff := retry.WithMaxRetries(29, retry.NewConstant(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var err error
		if db, err = repository.NewPostgresDB(ctx, cfg.DatabaseURL, pool); err != nil {
			slog.Info("waiting for database", "attempt", attempt)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connectDB: gave up after %d attempts: %w", attempt, err)
	}
	return db, nil
}
