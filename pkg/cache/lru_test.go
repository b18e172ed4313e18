package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLRURejectsBadCapacity(t *testing.T) {
	_, err := NewLRU[int](0)
	require.Error(t, err)
	_, err = NewLRU[int](-5)
	require.Error(t, err)
}

func TestGetSetRoundTrip(t *testing.T) {
	c, err := NewLRU[string](4)
	require.NoError(t, err)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", "alpha")
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", got)

	c.Set("a", "alpha-2")
	got, _ = c.Get("a")
	assert.Equal(t, "alpha-2", got)
	assert.Equal(t, 1, c.Len())
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewLRU[int](2)
	require.NoError(t, err)

	c.Set("a", 1)
	c.Set("b", 2)

	// Touch "a" so "b" is the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestDelete(t *testing.T) {
	c, err := NewLRU[int](2)
	require.NoError(t, err)

	c.Set("a", 1)
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 0, c.Len())
}

func TestStatsCountHitsAndMisses(t *testing.T) {
	c, err := NewLRU[int](2)
	require.NoError(t, err)

	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestConcurrentAccess(t *testing.T) {
	c, err := NewLRU[int](64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (n*200+j)%100)
				c.Set(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 64)
}
