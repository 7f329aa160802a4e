// Package cache memoizes remote reads for a fixed time-to-live.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/metrics"
)

const (
	// BlockTTL bounds facts that change every block: active band, oracle price.
	BlockTTL = time.Minute
	// StructuralTTL bounds full-range scans and route selection.
	StructuralTTL = 5 * time.Minute
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a concurrency-safe TTL map. Concurrent misses on the same key may
// both compute; the last write wins.
type Cache struct {
	sync.Mutex
	entries map[string]entry
	clock   Clock
}

// New creates a cache driven by clock; nil means SystemClock.
func New(clock Clock) *Cache {
	if clock == nil {
		clock = SystemClock
	}
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// Key builds the cache key for a function identity and its arguments.
func Key(fn string, args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return fn + "(" + strings.Join(parts, ",") + ")"
}

// Get returns the live value stored under key.
func (c *Cache) Get(key string) (any, bool) {
	c.Lock()
	defer c.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key until ttl elapses.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.Lock()
	defer c.Unlock()

	c.entries[key] = entry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.Lock()
	defer c.Unlock()
	return len(c.entries)
}

// Purge drops expired entries and returns how many it dropped.
func (c *Cache) Purge() int {
	c.Lock()
	defer c.Unlock()

	now := c.clock.Now()
	dropped := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// PurgeEvery runs Purge on every tick of interval until ctx is done.
// Keys that are never read again are only released here.
func (c *Cache) PurgeEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Purge(); n > 0 {
				metrics.CacheEvictions.Add(float64(n))
			}
		}
	}
}

// Memo returns the cached result of fn(args) or computes and stores it.
// Errors are never cached.
func Memo[T any](ctx context.Context, c *Cache, ttl time.Duration, fn string, compute func(context.Context) (T, error), args ...any) (T, error) {
	key := Key(fn, args...)
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			metrics.CacheHits.WithLabelValues(fn).Inc()
			return typed, nil
		}
	}
	metrics.CacheMisses.WithLabelValues(fn).Inc()

	v, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v, ttl)
	return v, nil
}
