// Package cli holds the conti command tree and the initialization shared by
// cmd/conti and cmd/conti-worker.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"conti/internal/amqp"
	"conti/internal/cache"
	"conti/internal/config"
	"conti/internal/log"
	"conti/internal/storage"
)

// SetupLogger builds the process logger at the given level and makes it
// the slog default.
func SetupLogger(level string, out io.Writer) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(level),
		Component: log.ComponentApp,
		Output:    out,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and exits the process when it
// does not validate.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens the repository at dbPath, running pending migrations.
func InitSQLite(logger *log.Logger, dbPath string) (*storage.SQLiteRepository, error) {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		return nil, err
	}
	return repo, nil
}

// InitBalanceCache builds the configured balance cache. The returned cleanup
// stops background expiry and closes the Redis connection, whichever
// applies. A Redis backend that cannot be reached falls back to memory.
func InitBalanceCache(ctx context.Context, cfg *config.Config, logger *log.Logger) (cache.BalanceCache, func()) {
	if cfg.BalanceCacheBackend == config.CacheBackendRedis {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			logger.Info("Using Redis balance cache", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
			return cache.NewRedisBalanceCache(client, cfg.BalanceCacheTTL, logger), func() { _ = client.Close() }
		}
		logger.Warn("Redis unavailable, falling back to in-memory balance cache", log.FieldError, err)
	}

	mem := cache.NewMemoryBalanceCache(cfg.BalanceCacheSize, cfg.BalanceCacheTTL)
	manager := cache.NewManager(logger)
	manager.Register(mem)
	manager.StartCleanup(cfg.BalanceCacheTTL)
	return mem, manager.Stop
}

// InitAMQP connects to the broker when one is configured. A nil client
// means events are not published.
func InitAMQP(cfg *config.Config, logger *log.Logger) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil, nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		return nil, err
	}
	return client, nil
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup ran.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
