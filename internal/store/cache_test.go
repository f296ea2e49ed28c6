// internal/store/cache_test.go
package store

import (
	"context"
	"testing"
	"time"

	"loan-engine/internal/common/logger"
	"loan-engine/internal/models"
	"loan-engine/internal/scoring"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*MatrixCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewMatrixCache(client, time.Hour, logger.NewNoOpLogger()), mr
}

func cacheFacts() *models.FinancialFacts {
	revenue := 25_000_000.0
	dscr := 1.1
	return &models.FinancialFacts{Revenue: &revenue, DSCR: &dscr, CollateralPresent: true}
}

func TestMatrixCacheKeyStability(t *testing.T) {
	cache, _ := newTestCache(t)

	key1 := cache.Key(cacheFacts())
	key2 := cache.Key(cacheFacts())
	assert.Equal(t, key1, key2, "equal facts must map to the same key")
	assert.Contains(t, key1, "riskmatrix:")

	other := cacheFacts()
	*other.DSCR = 0.8
	assert.NotEqual(t, key1, cache.Key(other))
}

func TestMatrixCachePutGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	facts := cacheFacts()

	_, ok := cache.Get(ctx, facts)
	assert.False(t, ok, "cold cache misses")

	matrix := scoring.ComputeRiskMatrix(facts)
	cache.Put(ctx, facts, matrix)

	cached, ok := cache.Get(ctx, facts)
	require.True(t, ok)
	assert.Equal(t, matrix, cached)
}

func TestMatrixCacheTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	facts := cacheFacts()

	cache.Put(ctx, facts, scoring.ComputeRiskMatrix(facts))
	mr.FastForward(2 * time.Hour)

	_, ok := cache.Get(ctx, facts)
	assert.False(t, ok, "entries expire after the configured TTL")
}

func TestMatrixCacheCorruptEntry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	facts := cacheFacts()

	require.NoError(t, mr.Set(cache.Key(facts), "not json"))
	_, ok := cache.Get(ctx, facts)
	assert.False(t, ok)
}

func TestComputeOrCached(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	facts := cacheFacts()

	matrix := cache.ComputeOrCached(ctx, facts)
	assert.Equal(t, scoring.ComputeRiskMatrix(facts), matrix)
	assert.True(t, mr.Exists(cache.Key(facts)), "first computation is written back")

	// Second call is served from the cache.
	assert.Equal(t, matrix, cache.ComputeOrCached(ctx, facts))
}

func TestComputeOrCachedNilReceiver(t *testing.T) {
	var cache *MatrixCache
	facts := cacheFacts()
	matrix := cache.ComputeOrCached(context.Background(), facts)
	assert.Equal(t, scoring.ComputeRiskMatrix(facts), matrix)
}

func TestComputeOrCachedRedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	facts := cacheFacts()
	matrix := cache.ComputeOrCached(context.Background(), facts)
	assert.Equal(t, scoring.ComputeRiskMatrix(facts), matrix, "cache failure degrades to direct computation")
}
