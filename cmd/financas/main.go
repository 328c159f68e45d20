package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"financas/internal/amqp"
	"financas/internal/backend"
	"financas/internal/cache"
	"financas/internal/cli"
	apphttp "financas/internal/http"
	"financas/internal/log"
	"financas/internal/rates"
	"financas/internal/session"
	"financas/internal/storage"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	// Transaction source for /sessions/import
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentSheets).Slog()).
		CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize transaction source", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	// Rate schedule with optional SQLite snapshots
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	var snapshots rates.SnapshotStore
	deps := apphttp.Deps{Logger: logger, Source: result.Source}
	if repo != nil {
		snapshots = repo
		deps.Snapshots = repo
		deps.SchemaVersion = func() (uint, bool, error) { return storage.MigrationVersion(cfg.SQLiteDBPath) }
	}
	rateLog := logger.WithComponent(log.ComponentRates).Slog()
	rateService := rates.NewService(
		rates.NewHTTPProvider(cfg.RateSourceURL, cfg.RateFetchTimeout, rateLog),
		snapshots,
		rates.Config{
			Freshness:    cfg.RateCacheTTL,
			FetchTimeout: cfg.RateFetchTimeout,
			Policy:       cfg.Policy(),
		},
		rateLog,
	)
	deps.Rates = rateService

	deps.Sessions = session.NewStore(cfg.SessionMax, cfg.SessionTTL, session.Options{
		Rates:        rateService,
		FallbackRate: cfg.FallbackRate(),
	}, logger.WithComponent(log.ComponentSession).Slog())

	cacheManager := cache.NewManager(logger.WithComponent(log.ComponentCache).Slog())
	cacheManager.Register("sessions", deps.Sessions.Cache())
	cacheManager.Register("rates", rateService.Cache())
	cacheManager.StartCleanup(10 * time.Minute)

	// Drop the memoized schedule whenever the worker publishes a fresh one.
	var amqpClient *amqp.Client
	consumeCtx, stopConsumer := context.WithCancel(context.Background())
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, logger.WithComponent(log.ComponentAMQP).Slog())
		if err != nil {
			logger.Warn("AMQP unavailable, rate invalidation disabled", "error", err)
		} else {
			go func() {
				err := amqpClient.ConsumeRatesRefreshed(consumeCtx, cfg.AMQPQueue, func(ctx context.Context, msg *amqp.RatesRefreshedMessage) error {
					rateService.Invalidate()
					logger.InfoContext(ctx, "Rate cache invalidated",
						log.FieldSeries, msg.Series,
						log.FieldRecords, msg.Records,
						"latest_rate", msg.LatestRate)
					return nil
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Rate message consumption stopped", "error", err)
				}
			}()
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, deps)
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		stopConsumer()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
		cacheManager.Stop()
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Warn("Backend cleanup error", "error", err)
			}
		}
		if repo != nil {
			if err := repo.Close(); err != nil {
				logger.Warn("SQLite close error", "error", err)
			}
		}
		m := srv.TraceMetrics()
		logger.Info("Request totals",
			"requests", m.TotalRequests,
			"avg_response", m.AverageResponseTime().String(),
			"rate_limited", srv.RateLimitMetrics().Rejected)
	})

	logger.Info("Starting financas server",
		log.FieldOperation, log.OpStartup,
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"source", result.Source.Describe(),
		"rate_source", cfg.RateSourceURL,
		"snapshots", repo != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
