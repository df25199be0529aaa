package ledger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisBalanceCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBalanceCache(client, ttl, slog.New(slog.DiscardHandler)), srv
}

func TestRedisBalanceCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, 30*time.Second)
	ctx := context.Background()
	key := StockKey{TenantID: uuid.New(), SKUID: uuid.New(), WarehouseID: uuid.New()}

	_, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, key, decimal.RequireFromString("42.5000")))
	balance, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, balance.Equal(decimal.RequireFromString("42.5")))
}

func TestRedisBalanceCacheKeyLayout(t *testing.T) {
	cache, srv := newTestCache(t, 30*time.Second)
	key := StockKey{TenantID: uuid.New(), SKUID: uuid.New(), WarehouseID: uuid.New()}

	require.NoError(t, cache.Set(context.Background(), key, decimal.NewFromInt(5)))
	want := "stock:" + key.TenantID.String() + ":" + key.SKUID.String() + ":" + key.WarehouseID.String()
	require.True(t, srv.Exists(want))
}

func TestRedisBalanceCacheTTL(t *testing.T) {
	cache, srv := newTestCache(t, 30*time.Second)
	key := StockKey{TenantID: uuid.New(), SKUID: uuid.New(), WarehouseID: uuid.New()}

	require.NoError(t, cache.Set(context.Background(), key, decimal.NewFromInt(5)))
	srv.FastForward(31 * time.Second)

	_, ok, err := cache.Get(context.Background(), key)
	require.NoError(t, err)
	require.False(t, ok, "entry must expire after the TTL")
}

func TestRedisBalanceCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t, 30*time.Second)
	ctx := context.Background()
	a := StockKey{TenantID: uuid.New(), SKUID: uuid.New(), WarehouseID: uuid.New()}
	b := StockKey{TenantID: a.TenantID, SKUID: uuid.New(), WarehouseID: a.WarehouseID}

	require.NoError(t, cache.Set(ctx, a, decimal.NewFromInt(1)))
	require.NoError(t, cache.Set(ctx, b, decimal.NewFromInt(2)))
	require.NoError(t, cache.Invalidate(ctx, a, b))

	_, ok, _ := cache.Get(ctx, a)
	require.False(t, ok)
	_, ok, _ = cache.Get(ctx, b)
	require.False(t, ok)
}

func TestRedisBalanceCacheDropsCorruptEntry(t *testing.T) {
	cache, srv := newTestCache(t, 30*time.Second)
	key := StockKey{TenantID: uuid.New(), SKUID: uuid.New(), WarehouseID: uuid.New()}

	name := "stock:" + key.TenantID.String() + ":" + key.SKUID.String() + ":" + key.WarehouseID.String()
	require.NoError(t, srv.Set(name, "not-a-number"))

	_, ok, err := cache.Get(context.Background(), key)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, srv.Exists(name), "corrupt entry must be dropped")
}

func TestRedisBalanceCacheMissOnRedisDown(t *testing.T) {
	cache, srv := newTestCache(t, 30*time.Second)
	key := StockKey{TenantID: uuid.New(), SKUID: uuid.New(), WarehouseID: uuid.New()}

	require.NoError(t, cache.Set(context.Background(), key, decimal.NewFromInt(5)))
	srv.Close()

	_, ok, err := cache.Get(context.Background(), key)
	require.NoError(t, err, "redis failure must degrade to a miss")
	require.False(t, ok)
}
