// Package cache provides the size- and time-bounded caches that sit in front
// of the key store and the memory read path. Caches are an optimization only;
// nothing in the vault treats a cache entry as authoritative.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize = 500
	MinTTL      = time.Minute
	MaxTTL      = 5 * time.Minute
	DefaultTTL  = MaxTTL
)

// ClampTTL bounds ttl to [MinTTL, MaxTTL]. A non-positive ttl selects
// DefaultTTL.
func ClampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return DefaultTTL
	case ttl < MinTTL:
		return MinTTL
	case ttl > MaxTTL:
		return MaxTTL
	}
	return ttl
}

// Stats receives hit and miss notifications.
type Stats interface {
	CacheHit(name string)
	CacheMiss(name string)
}

// Cache is a concurrency-safe expirable LRU keyed by user id.
type Cache[V any] struct {
	name  string
	lru   *expirable.LRU[string, V]
	stats Stats
}

// New creates a cache holding at most size entries for ttl each. onEvict,
// when not nil, is called for entries that are removed or expire.
func New[V any](name string, size int, ttl time.Duration, onEvict func(key string, v V)) *Cache[V] {
	if size <= 0 {
		size = DefaultSize
	}
	var cb expirable.EvictCallback[string, V]
	if onEvict != nil {
		cb = onEvict
	}
	return &Cache[V]{
		name: name,
		lru:  expirable.NewLRU[string, V](size, cb, ClampTTL(ttl)),
	}
}

// WithStats attaches a Stats sink and returns c.
func (c *Cache[V]) WithStats(s Stats) *Cache[V] {
	c.stats = s
	return c
}

func (c *Cache[V]) Name() string { return c.name }

func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if c.stats != nil {
		if ok {
			c.stats.CacheHit(c.name)
		} else {
			c.stats.CacheMiss(c.name)
		}
	}
	return v, ok
}

func (c *Cache[V]) Add(key string, v V) {
	c.lru.Add(key, v)
}

// Remove drops key. It is safe to call for absent keys.
func (c *Cache[V]) Remove(key string) {
	c.lru.Remove(key)
}

func (c *Cache[V]) Len() int { return c.lru.Len() }

// Purge drops every entry.
func (c *Cache[V]) Purge() { c.lru.Purge() }
