package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// BalanceCache holds computed stock balances. Implementations must treat the
// cache as advisory: a miss or an error falls back to recomputing from the
// ledger, never to a wrong answer.
type BalanceCache interface {
	Get(ctx context.Context, key StockKey) (decimal.Decimal, bool, error)
	Set(ctx context.Context, key StockKey, balance decimal.Decimal) error
	Invalidate(ctx context.Context, keys ...StockKey) error
}

// RedisBalanceCache stores balances in Redis under stock:{tenant}:{sku}:{warehouse}.
type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisBalanceCache constructs a cache with the given TTL. The TTL is a
// safety net against missed invalidations; correctness comes from the
// synchronous invalidation after each committed append.
func NewRedisBalanceCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisBalanceCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisBalanceCache) cacheKey(key StockKey) string {
	return fmt.Sprintf("stock:%s:%s:%s", key.TenantID, key.SKUID, key.WarehouseID)
}

// Get returns the cached balance, reporting a miss on absence or on any redis
// failure so the caller recomputes from the ledger.
func (c *RedisBalanceCache) Get(ctx context.Context, key StockKey) (decimal.Decimal, bool, error) {
	raw, err := c.client.Get(ctx, c.cacheKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		c.logger.Warn("balance cache get failed", "key", c.cacheKey(key), "error", err)
		return decimal.Zero, false, nil
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		// Corrupt entry: drop it and recompute.
		_ = c.client.Del(ctx, c.cacheKey(key)).Err()
		return decimal.Zero, false, nil
	}
	return balance, true, nil
}

// Set writes the balance with the configured TTL.
func (c *RedisBalanceCache) Set(ctx context.Context, key StockKey, balance decimal.Decimal) error {
	if err := c.client.Set(ctx, c.cacheKey(key), balance.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("ledger: cache set: %w", err)
	}
	return nil
}

// Invalidate deletes the cached balances for the given keys. Called after
// commit; a failure here is surfaced so the caller can log it, but the TTL
// bounds the staleness window regardless.
func (c *RedisBalanceCache) Invalidate(ctx context.Context, keys ...StockKey) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = c.cacheKey(k)
	}
	if err := c.client.Del(ctx, names...).Err(); err != nil {
		return fmt.Errorf("ledger: cache invalidate: %w", err)
	}
	return nil
}

// NoopBalanceCache disables caching; every read recomputes from the ledger.
type NoopBalanceCache struct{}

func (NoopBalanceCache) Get(context.Context, StockKey) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopBalanceCache) Set(context.Context, StockKey, decimal.Decimal) error { return nil }

func (NoopBalanceCache) Invalidate(context.Context, ...StockKey) error { return nil }
