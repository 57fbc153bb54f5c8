package cache

import (
	"context"
	"sync"
	"time"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

func (it *item) expired() bool {
	return time.Now().After(it.expiresAt)
}

// Cache is a thread-safe in-memory TTL cache for derived key material.
// Values are held only in memory and vanish with the process.
type Cache struct {
	items       map[string]*item
	mu          sync.RWMutex
	ttl         time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// New creates a cache whose entries expire after ttl. A background
// goroutine sweeps expired entries until Stop is called.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		items:       make(map[string]*item),
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get retrieves a value, reporting a miss for expired entries.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || it.expired() {
		return nil, false
	}
	return it.value, true
}

// Set stores a value with the cache TTL.
func (c *Cache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &item{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// GetOrSet retrieves from cache or computes the value via fallback and
// caches the result. Concurrent misses for the same key may each run
// the fallback; the derivations are deterministic so duplicates are
// harmless.
func (c *Cache) GetOrSet(ctx context.Context, key string, fallback func(context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := fallback(ctx)
	if err != nil {
		return nil, err
	}

	c.Set(key, value)
	return value, nil
}

// Size returns the number of unexpired entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, it := range c.items {
		if !it.expired() {
			n++
		}
	}
	return n
}

func (c *Cache) cleanup() {
	interval := c.ttl / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			for key, it := range c.items {
				if it.expired() {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop terminates the cleanup goroutine.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}
