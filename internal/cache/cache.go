// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 10000
)

// entry is a node of the recency list.
type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	prev       *entry[V]
	next       *entry[V]
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// Cache is a thread-safe TTL cache with an LRU capacity bound.
//
// An entry is live while now - insertedAt < ttl. Expired entries are removed
// lazily on Get and eagerly by the janitor started with Start. When the cache
// is full the least recently used entry is evicted.
//
// The cache only accelerates reads; it is never the source of truth.
type Cache[V any] struct {
	mu sync.Mutex

	name     string
	ttl      time.Duration
	capacity int
	interval time.Duration

	items map[string]*entry[V]

	// head.next is the most recently used, tail.prev the least.
	head *entry[V]
	tail *entry[V]

	hits      int64
	misses    int64
	evictions int64

	now func() time.Time

	janitorMu sync.Mutex
	stop      context.CancelFunc
	done      chan struct{}
}

// New creates a cache. name labels its prometheus series.
// Zero TTL and MaxEntries fall back to 5 minutes and 10 000 entries.
func New[V any](name string, cfg config.CacheConfig) *Cache[V] {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	capacity := cfg.MaxEntries
	if capacity <= 0 {
		capacity = defaultMaxEntries
	}

	c := &Cache[V]{
		name:     name,
		ttl:      ttl,
		capacity: capacity,
		interval: cfg.CleanupInterval,
		items:    make(map[string]*entry[V]),
		head:     &entry[V]{},
		tail:     &entry[V]{},
		now:      time.Now,
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns a live entry and marks it most recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.recordMiss()
		var zero V
		return zero, false
	}
	if !c.live(e, c.now()) {
		c.removeEntry(e)
		c.recordEviction("expired", 1)
		c.recordMiss()
		var zero V
		return zero, false
	}

	c.moveToFront(e)
	c.recordHit()
	return e.value, true
}

// Set inserts or replaces an entry and restarts its TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.insertedAt = now
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value, insertedAt: now}
	c.addToFront(e)
	c.items[key] = e

	evicted := 0
	for len(c.items) > c.capacity {
		c.evictOldest()
		evicted++
	}
	if evicted > 0 {
		c.recordEviction("capacity", evicted)
	}
	c.updateSize()
}

// Delete removes an entry. It reports whether the key was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeEntry(e)
	c.updateSize()
	return true
}

// Clear drops every entry and returns how many were removed.
func (c *Cache[V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.items)
	c.items = make(map[string]*entry[V])
	c.head.next = c.tail
	c.tail.prev = c.head
	c.updateSize()
	return n
}

// Len returns the number of entries, expired ones included until cleanup.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CleanupExpired removes every expired entry and returns the count.
func (c *Cache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if !c.live(e, now) {
			c.removeEntry(e)
			removed++
		}
		e = prev
	}
	if removed > 0 {
		c.recordEviction("expired", removed)
		c.updateSize()
	}
	return removed
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.items),
	}
}

// HitRate returns the hit rate as a percentage.
func (c *Cache[V]) HitRate() float64 {
	s := c.Stats()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}

// Start runs the janitor until ctx is done or Stop is called. It is a no-op
// when CleanupInterval is zero or the janitor is already running.
func (c *Cache[V]) Start(ctx context.Context) {
	if c.interval <= 0 {
		return
	}

	c.janitorMu.Lock()
	defer c.janitorMu.Unlock()
	if c.stop != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.done = make(chan struct{})
	go c.janitor(ctx, c.done)
}

// Stop halts the janitor and waits for it to exit.
func (c *Cache[V]) Stop() {
	c.janitorMu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.janitorMu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
}

func (c *Cache[V]) janitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.CleanupExpired(); n > 0 {
				logging.Debug().Str("cache", c.name).Int("removed", n).Msg("Expired cache entries removed")
			}
		}
	}
}

// Internal methods (must be called with lock held)

func (c *Cache[V]) live(e *entry[V], now time.Time) bool {
	return now.Sub(e.insertedAt) < c.ttl
}

func (c *Cache[V]) addToFront(e *entry[V]) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *Cache[V]) moveToFront(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

func (c *Cache[V]) removeEntry(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

func (c *Cache[V]) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}

func (c *Cache[V]) recordHit() {
	c.hits++
	metrics.CacheHits.WithLabelValues(c.name).Inc()
}

func (c *Cache[V]) recordMiss() {
	c.misses++
	metrics.CacheMisses.WithLabelValues(c.name).Inc()
}

func (c *Cache[V]) recordEviction(reason string, n int) {
	c.evictions += int64(n)
	metrics.CacheEvictions.WithLabelValues(c.name, reason).Add(float64(n))
}

func (c *Cache[V]) updateSize() {
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.items)))
}
