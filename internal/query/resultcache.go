package query

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/katta-cluster/katta/pkg/config"
	pkgredis "github.com/katta-cluster/katta/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const resultCacheKeyPrefix = "katta:query:"

// ResultCache wraps a Redis client with singleflight deduplication so a
// burst of identical queries computes the answer once. Cached results are
// invalidated wholesale whenever the shard map changes — per-query
// invalidation would need to track which shards each cached query touched,
// and the shard map already changes rarely enough that a full flush is
// cheap (the resolved form of spec.md §9's open question on cache
// staleness).
type ResultCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
}

// NewResultCache builds a ResultCache backed by client.
func NewResultCache(client *pkgredis.Client, cfg config.RedisConfig) *ResultCache {
	return &ResultCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-result-cache"),
	}
}

// Get returns a cached SearchResult, or (nil, false) on miss.
func (c *ResultCache) Get(ctx context.Context, index, query string, limit int) (*SearchResult, bool) {
	key := c.buildKey(index, query, limit)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var result SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

// Set stores result under the query's cache key with the configured TTL.
func (c *ResultCache) Set(ctx context.Context, index, query string, limit int, result *SearchResult) {
	key := c.buildKey(index, query, limit)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns a cached SearchResult if present; otherwise it
// calls computeFn, caches the result, and returns it. The second return
// value reports whether the result came from cache. A singleflight group
// collapses concurrent identical queries into one computeFn call.
func (c *ResultCache) GetOrCompute(ctx context.Context, index, query string, limit int, computeFn func() (*SearchResult, error)) (*SearchResult, bool, error) {
	if result, ok := c.Get(ctx, index, query, limit); ok {
		return result, true, nil
	}
	key := c.buildKey(index, query, limit)
	val, err, _ := c.group.Do(key, func() (any, error) {
		if result, ok := c.Get(ctx, index, query, limit); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, index, query, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*SearchResult), false, nil
}

// Invalidate drops every cached query result.
func (c *ResultCache) Invalidate(ctx context.Context) {
	deleted, err := c.client.FlushByPattern(ctx, resultCacheKeyPrefix+"*")
	if err != nil {
		c.logger.Error("cache invalidate failed", "error", err)
		return
	}
	c.logger.Info("result cache invalidated", "keys_deleted", deleted)
}

func (c *ResultCache) buildKey(index, query string, limit int) string {
	normalized := normalizeQuery(query)
	raw := fmt.Sprintf("%s|%s|limit=%d", index, normalized, limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", resultCacheKeyPrefix, hash[:16])
}

// normalizeQuery canonicalises a query string so that semantically
// identical queries (different whitespace, term order, or case) share one
// cache entry.
func normalizeQuery(query string) string {
	plan := Parse(query)
	terms := append([]string{}, plan.Terms...)
	excludes := append([]string{}, plan.ExcludeTerms...)
	sort.Strings(terms)
	sort.Strings(excludes)
	parts := []string{plan.Type.String(), strings.Join(terms, ",")}
	if len(excludes) > 0 {
		parts = append(parts, "NOT:"+strings.Join(excludes, ","))
	}
	return strings.Join(parts, "|")
}
