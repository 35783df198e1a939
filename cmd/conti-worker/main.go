package main

import (
	"context"
	"errors"
	"os"
	"time"

	"conti/internal/amqp"
	"conti/internal/cli"
	"conti/internal/log"
	"conti/internal/metrics"
	"conti/internal/services"
	"conti/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Stdout)
	logger.Info("Starting conti-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo, err := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	if err != nil {
		os.Exit(1)
	}
	defer repo.Close()

	balanceCache, stopCache := cli.InitBalanceCache(context.Background(), cfg, logger)
	defer stopCache()

	balances := services.NewBalanceService(repo, balanceCache, logger)
	debtWorker := worker.NewDebtWorker(repo, balances, worker.DebtWorkerConfig{
		Interval:  cfg.SnapshotInterval,
		BatchSize: cfg.SnapshotBatchSize,
	}, logger)

	amqpClient, err := cli.InitAMQP(cfg, logger)
	if err != nil {
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := debtWorker.Stop(shutdownCtx); err != nil {
			logger.Warn("Debt worker did not stop cleanly", log.FieldError, err)
		}
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close failed", log.FieldError, err)
		}
	})

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("Metrics server failed", log.FieldError, err)
			}
		}()
	}

	// Reconciliation runs at startup and then on every tick, catching
	// anything the event stream missed.
	if err := debtWorker.Start(ctx); err != nil {
		logger.Error("Failed to start debt worker", log.FieldError, err)
		os.Exit(1)
	}

	if amqpClient != nil {
		go consume(ctx, amqpClient, debtWorker, logger)
	} else {
		logger.Info("Skipping AMQP message consumption - relying on periodic reconciliation",
			"interval", cfg.SnapshotInterval)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}

func consume(ctx context.Context, client *amqp.Client, w *worker.DebtWorker, logger *log.Logger) {
	err := client.ConsumeGroupEvents(ctx, w.HandleGroupEvent)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
	}
}
