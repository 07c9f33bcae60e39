package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure EmbeddingCache implements the interface.
var _ driven.EmbeddingCache = (*EmbeddingCache)(nil)

// EmbeddingCache is a bounded least-recently-used key/value cache.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key   string
	value []byte
}

// NewEmbeddingCache creates a cache holding at most capacity entries.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &EmbeddingCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached value and marks it recently used.
func (c *EmbeddingCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	return append([]byte(nil), el.Value.(*cacheEntry).value...), true, nil
}

// Set stores value, evicting the least recently used entry when full.
func (c *EmbeddingCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	value = append([]byte(nil), value...)
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.order.MoveToFront(el)
		return nil
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	return nil
}

// Purge removes every entry.
func (c *EmbeddingCache) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	return nil
}

// Len returns the number of cached entries.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
