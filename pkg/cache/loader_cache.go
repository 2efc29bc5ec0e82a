// Package cache provides a size-bounded, optionally expiring read-through cache
// that collapses concurrent loads of the same key.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidSize is returned when MaxEntries is not positive.
var ErrInvalidSize = errors.New("cache: max entries must be positive")

// LoadFunc fetches the value for a key on a miss.
type LoadFunc[K any, V any] func(ctx context.Context, key K) (V, error)

// Options configures a LoaderCache. A zero TTL keeps entries until they are evicted by size.
type Options struct {
	MaxEntries int
	TTL        time.Duration
}

// LoaderCache maps K to V through a string key. Failed loads are not cached.
type LoaderCache[K any, V any] struct {
	lru   *expirable.LRU[string, V]
	group singleflight.Group
	key   func(K) string
}

// New returns a LoaderCache. keyFn must map equal keys to equal strings.
func New[K any, V any](opts Options, keyFn func(K) string) (*LoaderCache[K, V], error) {
	if opts.MaxEntries <= 0 {
		return nil, ErrInvalidSize
	}

	return &LoaderCache[K, V]{
		lru: expirable.NewLRU[string, V](opts.MaxEntries, nil, opts.TTL),
		key: keyFn,
	}, nil
}

// Get returns the cached value or loads it. hit is true when no load was needed by this
// caller. Concurrent misses for one key share a single load; each caller still stops
// waiting when its own ctx is done.
func (c *LoaderCache[K, V]) Get(ctx context.Context, key K, load LoadFunc[K, V]) (value V, hit bool, err error) {
	k := c.key(key)

	if v, ok := c.lru.Get(k); ok {
		return v, true, nil
	}

	ch := c.group.DoChan(k, func() (any, error) {
		if v, ok := c.lru.Get(k); ok {
			return v, nil
		}

		// Cancelling one waiter must not fail the others; the deadline still bounds the load.
		loadCtx := context.WithoutCancel(ctx)

		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc

			loadCtx, cancel = context.WithDeadline(loadCtx, deadline)
			defer cancel()
		}

		v, err := load(loadCtx, key)
		if err != nil {
			return v, err
		}

		c.lru.Add(k, v)

		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V

		return zero, false, ctx.Err()
	case res := <-ch:
		v, _ := res.Val.(V)

		return v, false, res.Err
	}
}

// Peek returns a cached value without loading.
func (c *LoaderCache[K, V]) Peek(key K) (V, bool) {
	return c.lru.Peek(c.key(key))
}

// Invalidate drops one key.
func (c *LoaderCache[K, V]) Invalidate(key K) {
	c.lru.Remove(c.key(key))
}

// Purge drops everything.
func (c *LoaderCache[K, V]) Purge() {
	c.lru.Purge()
}

// Len counts live entries.
func (c *LoaderCache[K, V]) Len() int {
	return c.lru.Len()
}
