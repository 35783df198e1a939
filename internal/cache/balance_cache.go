package cache

import (
	"context"
	"time"

	"conti/internal/core"
)

// BalanceCache memoizes group balances. An entry is only valid for the
// group version it was computed at; any other expense count or revision is
// a miss, so an entry written late by a slow reader is never served after a
// newer write.
type BalanceCache interface {
	Get(ctx context.Context, groupID string, version core.GroupVersion) (*core.Balances, bool)
	Set(ctx context.Context, groupID string, version core.GroupVersion, balances *core.Balances)
	Invalidate(ctx context.Context, groupID string) error
}

type balanceEntry struct {
	Version  core.GroupVersion `json:"version"`
	Balances *core.Balances    `json:"balances"`
}

// MemoryBalanceCache keeps balances in an in-process LRU.
type MemoryBalanceCache struct {
	lru *LRUCache[balanceEntry]
}

func NewMemoryBalanceCache(maxGroups int, ttl time.Duration) *MemoryBalanceCache {
	return &MemoryBalanceCache{lru: NewLRUCache[balanceEntry](maxGroups, ttl)}
}

func (c *MemoryBalanceCache) Get(_ context.Context, groupID string, version core.GroupVersion) (*core.Balances, bool) {
	entry, ok := c.lru.Get(groupID)
	if !ok || entry.Version != version {
		return nil, false
	}
	return entry.Balances.Clone(), true
}

func (c *MemoryBalanceCache) Set(_ context.Context, groupID string, version core.GroupVersion, balances *core.Balances) {
	c.lru.Set(groupID, balanceEntry{Version: version, Balances: balances.Clone()})
}

func (c *MemoryBalanceCache) Invalidate(_ context.Context, groupID string) error {
	c.lru.Delete(groupID)
	return nil
}

// CleanExpired lets a Manager purge the underlying LRU.
func (c *MemoryBalanceCache) CleanExpired() int {
	return c.lru.CleanExpired()
}

func (c *MemoryBalanceCache) Size() int {
	return c.lru.Size()
}

// NopBalanceCache never stores anything.
type NopBalanceCache struct{}

func (NopBalanceCache) Get(context.Context, string, core.GroupVersion) (*core.Balances, bool) {
	return nil, false
}
func (NopBalanceCache) Set(context.Context, string, core.GroupVersion, *core.Balances) {}
func (NopBalanceCache) Invalidate(context.Context, string) error                     { return nil }
