package semcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func memCache(cfg Config) *Cache {
	return New(cfg, nil, zap.NewNop())
}

func TestExactMatchHit(t *testing.T) {
	c := memCache(Config{})
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	c.Set(ctx, "what is Go?", "a language", vec)

	hit := c.Get(ctx, "what is Go?", vec)
	require.NotNil(t, hit)
	assert.Equal(t, "a language", hit.Answer)
	assert.Equal(t, "what is Go?", hit.CachedQuestion)
	assert.InDelta(t, 1.0, float64(hit.Similarity), 1e-4)
}

func TestNearMatchAboveThreshold(t *testing.T) {
	c := memCache(Config{Threshold: 0.95})
	ctx := context.Background()

	c.Set(ctx, "question A", "answer A", []float32{1, 0, 0})

	// cosine ~0.995
	hit := c.Get(ctx, "question A?", []float32{1, 0.1, 0})
	require.NotNil(t, hit)
	assert.Equal(t, "answer A", hit.Answer)
}

func TestDissimilarMiss(t *testing.T) {
	c := memCache(Config{})
	ctx := context.Background()

	c.Set(ctx, "question A", "answer A", []float32{1, 0, 0})
	assert.Nil(t, c.Get(ctx, "unrelated", []float32{0, 1, 0}))
}

func TestEmptyAnswerNeverCached(t *testing.T) {
	c := memCache(Config{})
	ctx := context.Background()
	vec := []float32{1, 0}

	c.Set(ctx, "q", "", vec)
	assert.Nil(t, c.Get(ctx, "q", vec))
}

func TestTTLExpiry(t *testing.T) {
	c := memCache(Config{TTL: time.Minute})
	ctx := context.Background()
	vec := []float32{1, 0}
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(ctx, "q", "a", vec)
	now = now.Add(2 * time.Minute)
	assert.Nil(t, c.Get(ctx, "q", vec))
}

func TestEvictionDropsOldestTenth(t *testing.T) {
	c := memCache(Config{MaxSize: 10, Threshold: 0.5})
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		c.Set(ctx, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i), []float32{1, float32(i)})
	}

	c.mu.Lock()
	n := len(c.entries)
	first := c.entries[0].Question
	c.mu.Unlock()
	assert.Equal(t, 10, n)
	assert.Equal(t, "q1", first, "oldest entry evicted")
}

func TestBestOfMultipleMatches(t *testing.T) {
	c := memCache(Config{Threshold: 0.5})
	ctx := context.Background()

	c.Set(ctx, "close", "close answer", []float32{1, 0.2})
	c.Set(ctx, "closer", "closer answer", []float32{1, 0.05})

	hit := c.Get(ctx, "query", []float32{1, 0})
	require.NotNil(t, hit)
	assert.Equal(t, "closer answer", hit.Answer)
}

func TestAdjustThreshold(t *testing.T) {
	c := memCache(Config{Threshold: 0.95})
	ctx := context.Background()

	c.Set(ctx, "q", "a", []float32{1, 0})
	query := []float32{1, 0.5} // cosine ~0.894

	assert.Nil(t, c.Get(ctx, "q2", query))

	c.AdjustThreshold(0.8)
	assert.NotNil(t, c.Get(ctx, "q2", query))

	c.AdjustThreshold(1.5) // ignored
	assert.NotNil(t, c.Get(ctx, "q3", query))
}

func TestStats(t *testing.T) {
	c := memCache(Config{})
	ctx := context.Background()
	vec := []float32{1, 0}

	c.Set(ctx, "q", "a", vec)
	require.NotNil(t, c.Get(ctx, "q", vec))
	require.Nil(t, c.Get(ctx, "other", []float32{0, 1}))

	stats := c.Stats(ctx)
	assert.Equal(t, "memory", stats["backend"])
	assert.Equal(t, 1, stats["cache_size"])
	assert.EqualValues(t, 1, stats["hits"])
	assert.EqualValues(t, 1, stats["misses"])
	assert.Equal(t, 0.5, stats["hit_rate"])
	assert.Equal(t, 0.95, stats["similarity_threshold"])
	assert.Equal(t, costPerCallUSD, stats["estimated_savings"])
}

func TestClear(t *testing.T) {
	c := memCache(Config{})
	ctx := context.Background()
	vec := []float32{1, 0}

	c.Set(ctx, "q", "a", vec)
	c.Clear(ctx)
	assert.Nil(t, c.Get(ctx, "q", vec))
	assert.Equal(t, 0, c.Stats(ctx)["cache_size"])
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(Config{}, rdb, zap.NewNop())
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	c.Set(ctx, "what is Go?", "a language", vec)

	hit := c.Get(ctx, "what is Go?", vec)
	require.NotNil(t, hit)
	assert.Equal(t, "a language", hit.Answer)

	stats := c.Stats(ctx)
	assert.Equal(t, "redis", stats["backend"])
	assert.Equal(t, 1, stats["cache_size"])

	// expired entries are pruned from the index lazily
	mr.FastForward(2 * time.Hour)
	assert.Nil(t, c.Get(ctx, "what is Go?", vec))

	c.Clear(ctx)
	assert.Equal(t, 0, c.Stats(ctx)["cache_size"])
}
