package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultSweepInterval is how often expired entries are purged.
const DefaultSweepInterval = time.Minute

type CacheItem struct {
	Value     interface{}
	ExpiresAt time.Time
}

// Cache is an in-memory TTL cache. Entries are never returned past their expiry.
type Cache struct {
	mu    sync.RWMutex
	items map[string]CacheItem

	now   func() time.Time
	group singleflight.Group
	hooks Hooks

	stop chan struct{}
	once sync.Once
}

// Hooks observe lookups. Either field may be nil.
type Hooks struct {
	OnHit  func(key string)
	OnMiss func(key string)
}

type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithHooks(h Hooks) Option {
	return func(c *Cache) { c.hooks = h }
}

// New creates a cache and starts its sweep loop. A non-positive interval disables the loop.
func New(sweep time.Duration, opts ...Option) *Cache {
	c := &Cache{
		items: make(map[string]CacheItem),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	if sweep > 0 {
		go c.cleanupLoop(sweep)
	}
	return c
}

// Close stops the sweep loop.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Set stores value until now+ttl, replacing any existing entry.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = CacheItem{
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
}

// Get returns the live value for key. An expired entry is deleted and reported as a miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	item, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		c.miss(key)
		return nil, false
	}

	if !c.now().Before(item.ExpiresAt) {
		c.mu.Lock()
		// a concurrent Set may have refreshed the entry
		if cur, ok := c.items[key]; ok && !c.now().Before(cur.ExpiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		c.miss(key)
		return nil, false
	}

	if c.hooks.OnHit != nil {
		c.hooks.OnHit(key)
	}
	return item.Value, true
}

func (c *Cache) miss(key string) {
	if c.hooks.OnMiss != nil {
		c.hooks.OnMiss(key)
	}
}

// GetOrSet returns the cached value or computes, stores and returns a fresh one.
// Concurrent callers for the same key share one computation. Errors are not cached.
//
// The shared computation does not inherit cancellation from the caller that
// started it; each caller stops waiting when its own ctx ends.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		v, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetOrSetTyped is GetOrSet with a typed result.
func GetOrSetTyped[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.GetOrSet(ctx, key, ttl, func(ctx context.Context) (interface{}, error) {
		return compute(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// peek is Get without hooks or deletion.
func (c *Cache) peek(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[key]
	if !ok || !c.now().Before(item.ExpiresAt) {
		return nil, false
	}
	return item.Value, true
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// InvalidatePattern deletes every key containing substr and returns how many were removed.
func (c *Cache) InvalidatePattern(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.items {
		if strings.Contains(key, substr) {
			delete(c.items, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if !now.Before(item.ExpiresAt) {
			delete(c.items, key)
		}
	}
}
