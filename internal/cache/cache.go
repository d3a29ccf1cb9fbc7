// Package cache provides a TTL cache that coalesces concurrent misses for the
// same key into one upstream fetch.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// LiveQuoteTTL bounds how long a polled quote is reused
	LiveQuoteTTL = 5 * time.Second
	// HeavyEndpointTTL is used for the rate limited pass-through endpoints
	HeavyEndpointTTL = 30 * time.Second
)

// FetchError is returned to every waiter of a fetch that failed
type FetchError struct {
	Key    string
	Shared bool
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Stats are cumulative cache counters
type Stats struct {
	Hits    uint64
	Misses  uint64
	Fetches uint64
	Errors  uint64
}

// Cache is a keyed TTL cache with request coalescing
type Cache[V any] struct {
	store  Store[V]
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group
	logger *zap.Logger

	hits, misses, fetches, errs atomic.Uint64
}

// Option configures a Cache
type Option[V any] func(*Cache[V])

// WithStore replaces the default in-memory store
func WithStore[V any](s Store[V]) Option[V] {
	return func(c *Cache[V]) { c.store = s }
}

// WithClock replaces time.Now, mostly for tests
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a cache whose entries live for ttl unless a call overrides it
func New[V any](ttl time.Duration, logger *zap.Logger, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		store:  NewMemoryStore[V](),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the default entry lifetime
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// GetOrFetch returns the live value for key, or runs fetch once for all
// concurrent callers missing the same key. A ttl of zero uses the default.
// A failed fetch caches nothing and every waiter receives a *FetchError.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (V, error) {
	e, err := c.GetOrFetchEntry(ctx, key, ttl, fetch)
	return e.Value, err
}

// GetOrFetchEntry is GetOrFetch returning the whole entry. Callers that must
// consume each upstream value once compare FetchedAt between calls.
func (c *Cache[V]) GetOrFetchEntry(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (Entry[V], error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if e, ok := c.lookup(ctx, key, ttl); ok {
		c.hits.Add(1)
		return e, nil
	}
	c.misses.Add(1)

	// The fetch outlives any single waiter; adapters bound it with their own timeout.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if e, ok := c.lookup(fetchCtx, key, ttl); ok {
			return e, nil
		}
		c.fetches.Add(1)
		v, err := fetch(fetchCtx)
		if err != nil {
			c.errs.Add(1)
			return nil, err
		}
		entry := Entry[V]{Value: v, FetchedAt: c.now(), TTL: ttl}
		if err := c.store.Set(fetchCtx, key, entry); err != nil {
			c.logger.Warn("Failed to store cache entry", zap.String("key", key), zap.Error(err))
		}
		return entry, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Entry[V]{}, &FetchError{Key: key, Shared: res.Shared, Err: res.Err}
		}
		return res.Val.(Entry[V]), nil
	case <-ctx.Done():
		return Entry[V]{}, ctx.Err()
	}
}

// Peek returns the live entry for key without fetching
func (c *Cache[V]) Peek(ctx context.Context, key string) (Entry[V], bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok || !e.Live(c.now(), e.TTL) {
		return Entry[V]{}, false
	}
	return e, true
}

// Invalidate drops key so the next read fetches
func (c *Cache[V]) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Stats returns a snapshot of the counters
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
		Errors:  c.errs.Load(),
	}
}

// Run sweeps expired entries every interval until ctx is done. Expiry is
// already enforced on read; sweeping only bounds memory for dropped keys.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	sw, ok := c.store.(interface{ Sweep(time.Time) int })
	if !ok || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sw.Sweep(c.now()); n > 0 {
				c.logger.Debug("Swept expired cache entries", zap.Int("count", n))
			}
		}
	}
}

func (c *Cache[V]) lookup(ctx context.Context, key string, ttl time.Duration) (Entry[V], bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache lookup failed, treating as miss", zap.String("key", key), zap.Error(err))
		return Entry[V]{}, false
	}
	if !ok || !e.Live(c.now(), ttl) {
		return Entry[V]{}, false
	}
	return e, true
}
