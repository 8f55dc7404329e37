package indexstore

import (
	"container/list"
	"sync"
)

// Cache is a bounded in-process LRU in front of a Map's reads. It is never
// authoritative: writes invalidate, only Get populates, and eviction is
// silent. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type cacheItem struct {
	key   string
	value []byte
}

// NewCache creates a cache holding at most capacity values.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

func (c *Cache) Get(key []byte) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[string(key)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).value, true
}

func (c *Cache) Put(key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := string(key)
	if el, ok := c.entries[k]; ok {
		el.Value.(*cacheItem).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[k] = c.order.PushFront(&cacheItem{key: k, value: value})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheItem).key)
	}
}

func (c *Cache) Delete(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[string(key)]; ok {
		c.order.Remove(el)
		delete(c.entries, string(key))
	}
}

// Len returns the number of cached values.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
