// Package cache keeps merged search responses in Redis for a short while so
// repeated queries do not hit the marketplaces again.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-aggregator/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL    = 10 * time.Minute
	DefaultPrefix = "pricecompare:search:"
)

// Client is the subset of go-redis the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type RedisCache struct {
	client Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewRedisCache(client Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: DefaultPrefix,
		logger: logger.With("component", "search_cache"),
	}
}

// Get returns the cached results for key. A miss is not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]models.SearchResult, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var results []models.SearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return nil, false, nil
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	return results, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, results []models.SearchResult) error {
	if results == nil {
		results = []models.SearchResult{}
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}
