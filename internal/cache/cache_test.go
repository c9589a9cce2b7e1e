package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampTTL(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, 5 * time.Minute},
		{-time.Second, 5 * time.Minute},
		{time.Second, time.Minute},
		{3 * time.Minute, 3 * time.Minute},
		{time.Hour, 5 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampTTL(tt.in), "in=%v", tt.in)
	}
}

type countingStats struct {
	mu           sync.Mutex
	hits, misses int
}

func (s *countingStats) CacheHit(string) {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *countingStats) CacheMiss(string) {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

func TestCache_GetAddRemove(t *testing.T) {
	stats := &countingStats{}
	c := New[[]byte]("keys", 2, time.Minute, nil).WithStats(stats)
	assert.Equal(t, "keys", c.Name())

	_, ok := c.Get("u1")
	assert.False(t, ok)

	c.Add("u1", []byte{1})
	v, ok := c.Get("u1")
	require.True(t, ok)
	assert.Equal(t, []byte{1}, v)

	c.Remove("u1")
	c.Remove("absent")
	_, ok = c.Get("u1")
	assert.False(t, ok)

	assert.Equal(t, 1, stats.hits)
	assert.Equal(t, 2, stats.misses)
}

func TestCache_SizeBoundEvicts(t *testing.T) {
	var evicted []string
	c := New[int]("lists", 2, time.Minute, func(k string, _ int) { evicted = append(evicted, k) })

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"a"}, evicted)

	c.Purge()
	assert.Zero(t, c.Len())
}
