package main

import (
	"context"
	"errors"
	"os"
	"time"

	"financas/internal/amqp"
	"financas/internal/cli"
	"financas/internal/log"
	"financas/internal/rates"
	"financas/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger = logger.WithComponent(log.ComponentWorker)
	logger.Info("Starting rates-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)

	// Snapshots are the worker's output.
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	if repo == nil {
		logger.Error("rates-worker requires SQLITE_DB_PATH")
		os.Exit(1)
	}
	defer repo.Close()

	rateLog := logger.WithComponent(log.ComponentRates).Slog()
	service := rates.NewService(
		rates.NewHTTPProvider(cfg.RateSourceURL, cfg.RateFetchTimeout, rateLog),
		repo,
		rates.Config{
			Freshness:    cfg.RateCacheTTL,
			FetchTimeout: cfg.RateFetchTimeout,
			Policy:       cfg.Policy(),
		},
		rateLog,
	)

	var publisher worker.Publisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, logger.WithComponent(log.ComponentAMQP).Slog())
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		publisher = amqpClient
	} else {
		logger.Info("AMQP disabled - refreshes will not be announced")
	}

	refresher := worker.NewRateRefresher(service, publisher, rates.DefaultSeries, cfg.RateFetchTimeout*2, logger.Slog())

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		refresher.Stop(shutdownCtx)
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
	})

	// Refresh on startup so a fresh deployment has a snapshot before the first tick.
	if err := refresher.RefreshOnce(ctx); err != nil {
		if errors.Is(err, worker.ErrStaleSchedule) {
			logger.Warn("Startup refresh served a stale snapshot")
		} else {
			logger.Error("Startup refresh failed", "error", err)
		}
	}

	if err := refresher.Start(ctx, cfg.RateRefreshCron); err != nil {
		logger.Error("Failed to start rate refresher", "error", err, "cron_schedule", cfg.RateRefreshCron)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("rates-worker stopped")
}
