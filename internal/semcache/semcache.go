// Package semcache caches question/answer pairs and serves answers for
// semantically similar questions, so paraphrases of an answered question
// skip the whole retrieval pipeline.
package semcache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/metrics"
	"github.com/ragnote/ragcore/internal/vectorstore"
)

// Defaults applied by New for zero config fields.
const (
	DefaultThreshold = 0.95
	DefaultTTL       = time.Hour
	DefaultMaxSize   = 1000
)

const (
	qaKeyPrefix = "semcache:qa:"
	indexKey    = "semcache:index"

	// rough per-hit provider saving used in stats
	costPerCallUSD = 0.005
)

// Hit is a successful cache lookup.
type Hit struct {
	Answer         string  `json:"answer"`
	Similarity     float32 `json:"similarity"`
	CachedQuestion string  `json:"cached_question"`
	ResponseTimeMs float64 `json:"response_time_ms"`
}

type cacheEntry struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Config tunes matching and retention.
type Config struct {
	Threshold float64
	TTL       time.Duration
	MaxSize   int
}

// Cache matches by cosine similarity over stored question embeddings.
// Redis is used when available; otherwise an in-memory slice.
type Cache struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu        sync.Mutex
	entries   []cacheEntry
	threshold float64
	ttl       time.Duration
	maxSize   int

	hits   int64
	misses int64
	now    func() time.Time
}

// New builds a cache. rdb may be nil for the in-memory backend.
func New(cfg Config, rdb *redis.Client, logger *zap.Logger) *Cache {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	return &Cache{
		rdb:       rdb,
		logger:    logger,
		threshold: cfg.Threshold,
		ttl:       cfg.TTL,
		maxSize:   cfg.MaxSize,
		now:       time.Now,
	}
}

func questionKey(question string) string {
	h := md5.Sum([]byte(question))
	return qaKeyPrefix + hex.EncodeToString(h[:])
}

// Get returns the best cached answer whose question similarity clears the
// threshold, or nil on a miss.
func (c *Cache) Get(ctx context.Context, question string, queryVec []float32) *Hit {
	start := c.now()

	var best *Hit
	if c.rdb != nil {
		best = c.getRedis(ctx, queryVec)
	} else {
		best = c.getMemory(queryVec)
	}

	c.mu.Lock()
	if best != nil {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if best == nil {
		metrics.SemanticCacheMisses.Inc()
		return nil
	}
	best.ResponseTimeMs = float64(c.now().Sub(start).Microseconds()) / 1000
	metrics.SemanticCacheHits.Inc()
	c.logger.Debug("Semantic cache hit",
		zap.Float32("similarity", best.Similarity),
		zap.String("cached_question", best.CachedQuestion),
	)
	return best
}

// Set stores a question/answer pair. Empty answers are never cached so a
// failed generation cannot be replayed.
func (c *Cache) Set(ctx context.Context, question, answer string, queryVec []float32) {
	if answer == "" || question == "" || len(queryVec) == 0 {
		return
	}
	entry := cacheEntry{
		Question:  question,
		Answer:    answer,
		Embedding: queryVec,
		CreatedAt: c.now(),
	}

	if c.rdb != nil {
		raw, err := json.Marshal(entry)
		if err != nil {
			return
		}
		key := questionKey(question)
		pipe := c.rdb.TxPipeline()
		pipe.Set(ctx, key, raw, c.ttl)
		pipe.SAdd(ctx, indexKey, key)
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Warn("Semantic cache redis write failed", zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// replace an identical question in place
	for i := range c.entries {
		if c.entries[i].Question == question {
			c.entries[i] = entry
			return
		}
	}

	if len(c.entries) >= c.maxSize {
		drop := c.maxSize / 10
		if drop < 1 {
			drop = 1
		}
		c.entries = append(c.entries[:0], c.entries[drop:]...)
	}
	c.entries = append(c.entries, entry)
	metrics.SemanticCacheSize.Set(float64(len(c.entries)))
}

func (c *Cache) getMemory(queryVec []float32) *Hit {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	live := c.entries[:0]
	for _, e := range c.entries {
		if e.CreatedAt.After(cutoff) {
			live = append(live, e)
		}
	}
	c.entries = live

	var best *Hit
	for _, e := range c.entries {
		sim := vectorstore.Cosine(queryVec, e.Embedding)
		if float64(sim) < c.threshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &Hit{Answer: e.Answer, Similarity: sim, CachedQuestion: e.Question}
		}
	}
	return best
}

func (c *Cache) getRedis(ctx context.Context, queryVec []float32) *Hit {
	keys, err := c.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		c.logger.Warn("Semantic cache index read failed", zap.Error(err))
		return nil
	}

	c.mu.Lock()
	threshold := c.threshold
	c.mu.Unlock()

	var best *Hit
	for _, key := range keys {
		raw, err := c.rdb.Get(ctx, key).Bytes()
		if err != nil {
			// entry expired out from under the index
			_ = c.rdb.SRem(ctx, indexKey, key).Err()
			continue
		}
		var e cacheEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		sim := vectorstore.Cosine(queryVec, e.Embedding)
		if float64(sim) < threshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &Hit{Answer: e.Answer, Similarity: sim, CachedQuestion: e.Question}
		}
	}
	return best
}

// AdjustThreshold changes the similarity floor at runtime. Values outside
// (0, 1] are ignored.
func (c *Cache) AdjustThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		return
	}
	c.mu.Lock()
	c.threshold = threshold
	c.mu.Unlock()
	c.logger.Info("Semantic cache threshold adjusted", zap.Float64("threshold", threshold))
}

// Clear drops every cached pair.
func (c *Cache) Clear(ctx context.Context) {
	if c.rdb != nil {
		keys, err := c.rdb.SMembers(ctx, indexKey).Result()
		if err == nil && len(keys) > 0 {
			_ = c.rdb.Del(ctx, keys...).Err()
		}
		_ = c.rdb.Del(ctx, indexKey).Err()
	}
	c.mu.Lock()
	c.entries = nil
	c.hits = 0
	c.misses = 0
	c.mu.Unlock()
	metrics.SemanticCacheSize.Set(0)
}

// Stats reports cache effectiveness.
func (c *Cache) Stats(ctx context.Context) map[string]interface{} {
	c.mu.Lock()
	hits, misses := c.hits, c.misses
	threshold := c.threshold
	size := len(c.entries)
	c.mu.Unlock()

	backend := "memory"
	if c.rdb != nil {
		backend = "redis"
		if n, err := c.rdb.SCard(ctx, indexKey).Result(); err == nil {
			size = int(n)
		}
	}

	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return map[string]interface{}{
		"backend":              backend,
		"cache_size":           size,
		"hits":                 hits,
		"misses":               misses,
		"hit_rate":             hitRate,
		"similarity_threshold": threshold,
		"estimated_savings":    float64(hits) * costPerCallUSD,
	}
}
