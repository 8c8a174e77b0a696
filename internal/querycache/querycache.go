// Package querycache is a read-through cache for relational query results.
// It uses redis when configured and falls back to an in-process LRU.
package querycache

import (
	"container/list"
	"context"
	"encoding/json"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/metrics"
)

// DefaultTTL applies when Set is called with ttl <= 0.
const DefaultTTL = 5 * time.Minute

const (
	memoryCap = 500
	keyPrefix = "querycache:"
)

// Cache stores serialized query results under structured keys.
type Cache struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu   sync.Mutex
	list *list.List               // front = most recent
	m    map[string]*list.Element // key -> element
}

type entry struct {
	key string
	val []byte
	exp time.Time
}

// New builds a cache. rdb may be nil, in which case the in-process backend
// is used.
func New(rdb *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		rdb:    rdb,
		logger: logger,
		list:   list.New(),
		m:      make(map[string]*list.Element, memoryCap),
	}
}

// Key builds a cache key from a prefix and its arguments, "prefix:a:b".
func Key(prefix string, args ...string) string {
	if len(args) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(args, ":")
}

func prefixOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// Get unmarshals the cached value for key into out. Returns false on miss.
func (c *Cache) Get(ctx context.Context, key string, out interface{}) bool {
	raw, ok := c.getRaw(ctx, key)
	if !ok {
		metrics.QueryCacheMisses.WithLabelValues(prefixOf(key)).Inc()
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn("Cache entry undecodable, dropping",
			zap.String("key", key), zap.Error(err))
		c.Delete(ctx, key)
		metrics.QueryCacheMisses.WithLabelValues(prefixOf(key)).Inc()
		return false
	}
	metrics.QueryCacheHits.WithLabelValues(prefixOf(key)).Inc()
	return true
}

// Set stores val under key. Nil values are never cached so that a negative
// lookup cannot shadow a later write.
func (c *Cache) Set(ctx context.Context, key string, val interface{}, ttl time.Duration) {
	if val == nil {
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(val)
	if err != nil {
		c.logger.Warn("Cache value not serializable", zap.String("key", key), zap.Error(err))
		return
	}

	if c.rdb != nil {
		err := c.rdb.Set(ctx, keyPrefix+key, raw, ttl).Err()
		if err == nil {
			return
		}
		c.logger.Warn("Redis set failed, using memory backend", zap.Error(err))
	}
	c.setMemory(key, raw, ttl)
}

// Delete removes a single key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.rdb != nil {
		_ = c.rdb.Del(ctx, keyPrefix+key).Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		c.list.Remove(el)
		delete(c.m, key)
	}
}

// ClearPattern removes every key matching the glob pattern, e.g.
// "conversations:42:*".
func (c *Cache) ClearPattern(ctx context.Context, pattern string) int {
	removed := 0
	if c.rdb != nil {
		iter := c.rdb.Scan(ctx, 0, keyPrefix+pattern, 100).Iterator()
		for iter.Next(ctx) {
			if c.rdb.Del(ctx, iter.Val()).Err() == nil {
				removed++
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.m {
		if ok, _ := path.Match(pattern, key); ok {
			c.list.Remove(el)
			delete(c.m, key)
			removed++
		}
	}
	return removed
}

// Stats reports the backend in use and the entry count.
func (c *Cache) Stats(ctx context.Context) map[string]interface{} {
	if c.rdb != nil {
		count := 0
		iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			count++
		}
		return map[string]interface{}{"backend": "redis", "items_count": count}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{"backend": "memory", "items_count": c.list.Len()}
}

func (c *Cache) getRaw(ctx context.Context, key string) ([]byte, bool) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
		if err == nil {
			return raw, true
		}
		if err != redis.Nil {
			c.logger.Warn("Redis get failed, using memory backend", zap.Error(err))
		} else {
			return nil, false
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.m[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(entry)
	if !ent.exp.After(time.Now()) {
		c.list.Remove(el)
		delete(c.m, key)
		return nil, false
	}
	c.list.MoveToFront(el)
	return ent.val, true
}

func (c *Cache) setMemory(key string, raw []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.m[key]; ok {
		el.Value = entry{key: key, val: raw, exp: time.Now().Add(ttl)}
		c.list.MoveToFront(el)
		return
	}

	if c.list.Len() >= memoryCap {
		// drop the oldest tenth to avoid evicting on every write
		drop := memoryCap / 10
		if drop < 1 {
			drop = 1
		}
		for i := 0; i < drop; i++ {
			back := c.list.Back()
			if back == nil {
				break
			}
			ent := back.Value.(entry)
			delete(c.m, ent.key)
			c.list.Remove(back)
		}
	}

	el := c.list.PushFront(entry{key: key, val: raw, exp: time.Now().Add(ttl)})
	c.m[key] = el
}
