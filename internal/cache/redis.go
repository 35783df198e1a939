package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"conti/internal/core"
	"conti/internal/log"
)

const balanceKeyPrefix = "conti:balances:"

// RedisBalanceCache shares balances between processes through Redis. Read
// and write failures degrade to cache misses.
type RedisBalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *log.Logger
}

func NewRedisBalanceCache(client redis.UniversalClient, ttl time.Duration, logger *log.Logger) *RedisBalanceCache {
	return &RedisBalanceCache{client: client, ttl: ttl, logger: logger.WithComponent(log.ComponentCache)}
}

// NewRedisClient connects to addr and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (c *RedisBalanceCache) Get(ctx context.Context, groupID string, version core.GroupVersion) (*core.Balances, bool) {
	data, err := c.client.Get(ctx, balanceKeyPrefix+groupID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "Redis balance read failed", log.FieldGroupID, groupID, log.FieldError, err)
		return nil, false
	}

	var entry balanceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.WarnContext(ctx, "Corrupt balance cache entry", log.FieldGroupID, groupID, log.FieldError, err)
		return nil, false
	}
	if entry.Version != version || entry.Balances == nil {
		return nil, false
	}
	return entry.Balances, true
}

func (c *RedisBalanceCache) Set(ctx context.Context, groupID string, version core.GroupVersion, balances *core.Balances) {
	data, err := json.Marshal(balanceEntry{Version: version, Balances: balances})
	if err != nil {
		c.logger.WarnContext(ctx, "Balance cache encode failed", log.FieldGroupID, groupID, log.FieldError, err)
		return
	}
	if err := c.client.Set(ctx, balanceKeyPrefix+groupID, data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "Redis balance write failed", log.FieldGroupID, groupID, log.FieldError, err)
	}
}

// Invalidate deletes the group's entry. Failures are returned, not logged.
func (c *RedisBalanceCache) Invalidate(ctx context.Context, groupID string) error {
	if err := c.client.Del(ctx, balanceKeyPrefix+groupID).Err(); err != nil {
		return fmt.Errorf("redis delete balances %s: %w", groupID, err)
	}
	return nil
}
