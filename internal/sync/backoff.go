// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package sync

import (
	"sync"
	"time"

	"github.com/tomtom215/telemetrysync/internal/database"
)

const (
	DefaultBaseBackoff = 30 * time.Second
	DefaultMaxBackoff  = 10 * time.Minute
)

// ExponentialBackoff returns base * 2^(retryCount-1), capped at max.
// A record that never failed has no backoff.
func ExponentialBackoff(base, max time.Duration) database.BackoffFunc {
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	return func(retryCount int) time.Duration {
		if retryCount <= 0 {
			return 0
		}
		if retryCount > 30 {
			return max
		}
		d := base << (retryCount - 1)
		if d <= 0 || d > max {
			return max
		}
		return d
	}
}

// ClaimSet tracks record ids that are part of an in-flight remote call.
// The orchestrator and the repository's opportunistic calls share one set so
// a record is never sent by two calls at once.
type ClaimSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewClaimSet creates an empty claim set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{ids: make(map[string]struct{})}
}

// Claim takes every id not already claimed and returns those it took.
func (c *ClaimSet) Claim(ids ...string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	taken := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, held := c.ids[id]; held {
			continue
		}
		c.ids[id] = struct{}{}
		taken = append(taken, id)
	}
	return taken
}

// Release gives the ids back.
func (c *ClaimSet) Release(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.ids, id)
	}
}

// Held reports whether id is claimed.
func (c *ClaimSet) Held(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, held := c.ids[id]
	return held
}

// Len returns the number of claimed ids.
func (c *ClaimSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}
