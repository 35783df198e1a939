package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Balance cache
	BalanceCacheBackend string
	BalanceCacheTTL     time.Duration
	BalanceCacheSize    int
	RedisAddr           string
	RedisPassword       string
	RedisDB             int

	// Worker
	SnapshotInterval  time.Duration
	SnapshotBatchSize int
	MetricsAddr       string

	LogLevel        string
	DefaultCurrency string
}

func Load() *Config {
	return &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/conti.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "conti"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "group_events"),

		BalanceCacheBackend: getEnv("BALANCE_CACHE_BACKEND", CacheBackendMemory),
		BalanceCacheTTL:     getEnvDuration("BALANCE_CACHE_TTL", 5*time.Minute),
		BalanceCacheSize:    getEnvInt("BALANCE_CACHE_SIZE", 500),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),

		SnapshotInterval:  getEnvDuration("SNAPSHOT_INTERVAL", 10*time.Minute),
		SnapshotBatchSize: getEnvInt("SNAPSHOT_BATCH_SIZE", 20),
		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "INR"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// AMQP is optional; when set, exchange and queue are required
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	validBackends := []string{CacheBackendMemory, CacheBackendRedis}
	if !slices.Contains(validBackends, c.BalanceCacheBackend) {
		errors = append(errors, fmt.Sprintf("invalid balance cache backend '%s': must be one of %v", c.BalanceCacheBackend, validBackends))
	}
	if c.BalanceCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid balance cache TTL %v: must be at least 1 second", c.BalanceCacheTTL))
	}
	if c.BalanceCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid balance cache size %d: must be at least 1", c.BalanceCacheSize))
	}
	if c.BalanceCacheBackend == CacheBackendRedis {
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Redis address '%s': %v", c.RedisAddr, err))
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			errors = append(errors, fmt.Sprintf("invalid Redis DB %d: must be between 0 and 15", c.RedisDB))
		}
	}

	if c.SnapshotBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid snapshot batch size %d: must be at least 1", c.SnapshotBatchSize))
	} else if c.SnapshotBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid snapshot batch size %d: must be at most 1000", c.SnapshotBatchSize))
	}

	if c.SnapshotInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid snapshot interval %v: must be at least 1 second", c.SnapshotInterval))
	} else if c.SnapshotInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid snapshot interval %v: must be at most 24 hours", c.SnapshotInterval))
	}

	if c.MetricsAddr != "" {
		if _, port, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid metrics address '%s': %v", c.MetricsAddr, err))
		} else if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
			errors = append(errors, fmt.Sprintf("invalid metrics port '%s': must be between 1 and 65535", port))
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}

	if len(c.DefaultCurrency) != 3 {
		errors = append(errors, fmt.Sprintf("invalid default currency '%s': must be a 3-letter code", c.DefaultCurrency))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
