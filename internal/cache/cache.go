// Package cache is the Redis-backed query result cache. Concurrent
// identical queries are collapsed through singleflight so a cold key is
// computed once, and any index mutation invalidates the whole query
// keyspace.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/medsearch/medsearch/internal/planner"
	"github.com/medsearch/medsearch/internal/retrieval"
	"github.com/medsearch/medsearch/pkg/metrics"
	"github.com/medsearch/medsearch/pkg/redis"
)

const keyPrefix = "query:"

// QueryCache caches serialized search responses. A nil Redis client turns
// the cache into a pass-through, which keeps the searcher usable when Redis
// is down or not deployed.
type QueryCache struct {
	redis   *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a QueryCache. metrics may be nil.
func New(rdb *redis.Client, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		redis:   rdb,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key derives a deterministic cache key from a search request. Requests
// differing in any field, including cursor and limit, cache separately.
func Key(req planner.Request) string {
	data, _ := json.Marshal(struct {
		Query   string          `json:"q"`
		Mode    planner.Mode    `json:"m"`
		Filters planner.Filters `json:"f"`
		Limit   int             `json:"l"`
		Cursor  string          `json:"c"`
	}{req.Query, req.Mode, req.Filters, req.Limit, req.Cursor})
	sum := sha256.Sum256(data)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// GetOrCompute returns the cached response for key, or runs compute and
// caches its result. The boolean reports a cache hit. compute errors are
// never cached.
func (c *QueryCache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (*retrieval.Response, error)) (*retrieval.Response, bool, error) {
	if c.redis == nil {
		resp, err := compute(ctx)
		return resp, false, err
	}

	if raw, err := c.redis.Get(ctx, key); err == nil {
		var resp retrieval.Response
		if err := json.Unmarshal([]byte(raw), &resp); err == nil {
			if c.metrics != nil {
				c.metrics.CacheHitsTotal.Inc()
			}
			return &resp, true, nil
		}
		// Unreadable entries are dropped and recomputed.
		_ = c.redis.Del(ctx, key)
	} else if !redis.IsNilError(err) {
		c.logger.Warn("cache read failed", "error", err)
	}
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(resp); err == nil {
			if err := c.redis.Set(ctx, key, string(data), c.ttl); err != nil {
				c.logger.Warn("cache write failed", "error", err)
			}
		}
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*retrieval.Response), false, nil
}

// Invalidate drops every cached query response. Called after any index
// mutation.
func (c *QueryCache) Invalidate(ctx context.Context) {
	if c.redis == nil {
		return
	}
	n, err := c.redis.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		c.logger.Warn("cache invalidation failed", "error", err)
		return
	}
	c.logger.Debug("query cache invalidated", "keys", n)
}
