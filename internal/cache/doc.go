// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package cache provides the write-through record cache that sits in front of
the local store.

# Overview

Cache[V] is a generic, thread-safe TTL cache with an LRU capacity bound:
  - an entry is live while now - insertedAt < ttl (default 5 minutes)
  - when full, the least recently used entry is evicted (default 10 000)
  - expired entries are removed lazily on Get and by an optional janitor
  - hits, misses, evictions and size are exported to prometheus

The cache is an accelerator only. Sync decisions always read the local store.

# Usage Example

	records := cache.New[*models.TelemetryRecord]("records", cfg.Cache)
	records.Start(ctx)
	defer records.Stop()

	records.Set(r.ID, r.Clone())
	if cached, ok := records.Get(id); ok {
	    return cached.Clone(), nil
	}

# Invalidation

  - Delete(key): a single record was removed
  - Clear(): wholesale flush, used by cleanup
  - TTL expiry

# Thread Safety

Every method is safe for concurrent use. Get takes the write lock because a
hit reorders the recency list.
*/
package cache
