package embeddings

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"sync"
)

// LocalLRU is a small in-process vector cache. Entries have no TTL; an
// embedding for a given model/text pair never goes stale.
type LocalLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List               // front = most recent
	m    map[string]*list.Element // key -> element
}

type lruEntry struct {
	key string
	vec []float32
}

// NewLocalLRU builds a cache with the given capacity.
func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 200
	}
	return &LocalLRU{cap: capacity, list: list.New(), m: make(map[string]*list.Element, capacity)}
}

func (l *LocalLRU) Get(key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		l.list.MoveToFront(el)
		return el.Value.(lruEntry).vec, true
	}
	return nil, false
}

func (l *LocalLRU) Set(key string, v []float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		el.Value = lruEntry{key: key, vec: v}
		l.list.MoveToFront(el)
		return
	}
	el := l.list.PushFront(lruEntry{key: key, vec: v})
	l.m[key] = el
	if l.list.Len() > l.cap {
		if lru := l.list.Back(); lru != nil {
			ent := lru.Value.(lruEntry)
			delete(l.m, ent.key)
			l.list.Remove(lru)
		}
	}
}

// Len reports the number of cached vectors.
func (l *LocalLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}

// MakeKey hashes the model and text into a cache key.
func MakeKey(model, text string) string {
	h := md5.Sum([]byte(model + "|" + text))
	return "emb:" + hex.EncodeToString(h[:])
}
