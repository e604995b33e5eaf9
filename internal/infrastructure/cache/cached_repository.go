package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/duragraph/duragraph/internal/infrastructure/store"
)

// CachedStore wraps a store.Store, caching GetFlowVersion lookups. Compiled
// execution graphs are immutable once created (spec.md §4.1: a version is
// never mutated after compilation), which makes them an ideal Redis
// candidate — unlike a Run, whose state changes on nearly every call and is
// deliberately never cached here.
type CachedStore struct {
	store.Store
	cache *RedisCache
	ttl   time.Duration
}

// NewCachedStore wraps inner with a flow-version cache in front of
// GetFlowVersion. ttl of zero defaults to one hour.
func NewCachedStore(inner store.Store, cache *RedisCache, ttl time.Duration) *CachedStore {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &CachedStore{Store: inner, cache: cache, ttl: ttl}
}

// GetFlowVersion serves from cache when present, falling back to the
// wrapped Store and populating the cache on a miss.
func (c *CachedStore) GetFlowVersion(ctx context.Context, versionID string) (*stitchgraph.ExecutionGraph, error) {
	key := fmt.Sprintf("flowversion:%s", versionID)

	if raw, err := c.cache.GetString(ctx, key); err == nil {
		var graph stitchgraph.ExecutionGraph
		if err := json.Unmarshal([]byte(raw), &graph); err == nil {
			return &graph, nil
		}
	}

	graph, err := c.Store.GetFlowVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	// Cache population failures never fail the read.
	_ = c.cache.Set(ctx, key, graph, c.ttl)
	return graph, nil
}
