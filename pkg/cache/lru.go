// Package cache provides a small thread-safe LRU for read-mostly lookups.
// The workflow store uses it for pinned version records, which are
// immutable once published and hot for the lifetime of their executions.
package cache

import (
	"container/list"
	"fmt"
	"sync"
)

// Stats counts cache activity since creation
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

type entry[V any] struct {
	key   string
	value V
}

// LRU is a fixed-capacity cache evicting the least recently used entry.
// All methods are safe for concurrent use.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
	stats    Stats
}

// NewLRU creates a cache holding at most capacity entries
func NewLRU[V any](capacity int) (*LRU[V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	return &LRU[V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}, nil
}

// Get returns the cached value and marks it most recently used
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	c.order.MoveToFront(elem)
	return elem.Value.(*entry[V]).value, true
}

// Set stores the value, evicting the least recently used entry when full
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[V]).value = value
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry[V]).key)
			c.stats.Evictions++
		}
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value})
}

// Delete removes the entry if present
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.items, key)
	return true
}

// Len returns the current number of entries
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the activity counters
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
