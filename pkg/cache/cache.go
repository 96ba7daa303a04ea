package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options configures cache behavior
type Options struct {
	TTL         time.Duration
	NegativeTTL time.Duration
	MaxEntries  int
}

type entry struct {
	value     interface{}
	err       error
	expiresAt time.Time
	negative  bool

	// lastUsed is touched on every hit while other readers hold the same
	// read lock, so it must be atomic.
	lastUsed atomic.Int64
}

// Cache is a small in-process TTL cache with request coalescing.
// Loads for the same key are collapsed through singleflight so a burst of
// lookups for a cold key produces a single loader call.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*entry
	opts  Options
	sf    singleflight.Group
}

// Loader fetches the value for a key on cache miss. ok=false results are
// cached negatively (with NegativeTTL) when configured.
type Loader func(ctx context.Context, key string) (interface{}, bool, error)

type loadResult struct {
	val interface{}
	ok  bool
}

// New creates a cache with the given options
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1024
	}
	return &Cache{
		items: make(map[string]*entry),
		opts:  opts,
	}
}

// Get returns the cached value for key, loading it on miss.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (interface{}, bool, error) {
	now := time.Now()

	c.mu.RLock()
	if e, ok := c.items[key]; ok && now.Before(e.expiresAt) {
		e.lastUsed.Store(now.UnixNano())
		value, negative, err := e.value, e.negative, e.err
		c.mu.RUnlock()
		return value, !negative, err
	}
	c.mu.RUnlock()

	res, err, _ := c.sf.Do(key, func() (interface{}, error) {
		val, ok, err := loader(ctx, key)
		if err != nil {
			return nil, err
		}
		c.store(key, val, ok)
		return loadResult{val: val, ok: ok}, nil
	})
	if err != nil {
		return nil, false, err
	}

	lr := res.(loadResult)
	return lr.val, lr.ok, nil
}

// Invalidate drops a key from the cache
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) store(key string, val interface{}, ok bool) {
	now := time.Now()
	ttl := c.opts.TTL
	if !ok {
		if c.opts.NegativeTTL <= 0 {
			return
		}
		ttl = c.opts.NegativeTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.opts.MaxEntries {
		c.evictOldestLocked()
	}

	e := &entry{
		value:     val,
		negative:  !ok,
		expiresAt: now.Add(ttl),
	}
	e.lastUsed.Store(now.UnixNano())
	c.items[key] = e
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest int64
	for k, e := range c.items {
		used := e.lastUsed.Load()
		if oldestKey == "" || used < oldest {
			oldestKey = k
			oldest = used
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
