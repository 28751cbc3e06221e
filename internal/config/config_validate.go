// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package config

import (
	"fmt"
	"time"
)

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateStore,
		c.validateCache,
		c.validateRemote,
		c.validateConnectivity,
		c.validateSync,
		c.validateOutbox,
		c.validateEvents,
		c.validateServer,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverDuckDB, DriverSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of: %s, %s", DriverDuckDB, DriverSQLite)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required")
	}
	if c.Store.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must be >= 0")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be at least 1")
	}
	if c.Cache.CleanupInterval <= 0 {
		return fmt.Errorf("CACHE_CLEANUP_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) validateRemote() error {
	if c.Remote.BaseURL == "" {
		return nil
	}
	if err := validateHTTPURL(c.Remote.BaseURL, "REMOTE_URL"); err != nil {
		return err
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive")
	}
	if c.Remote.RateLimit < 0 {
		return fmt.Errorf("REMOTE_RATE_LIMIT must be >= 0 (0 disables limiting)")
	}
	if c.Remote.RateLimit > 0 && c.Remote.Burst < 1 {
		return fmt.Errorf("REMOTE_BURST must be at least 1 when rate limiting is enabled")
	}
	if c.Remote.Breaker.ConsecutiveFailures < 1 {
		return fmt.Errorf("REMOTE_BREAKER_FAILURES must be at least 1")
	}
	return nil
}

func (c *Config) validateConnectivity() error {
	switch c.Connectivity.Mode {
	case ConnectivityProbe:
		if c.Connectivity.ProbeInterval < time.Second {
			return fmt.Errorf("CONNECTIVITY_PROBE_INTERVAL must be at least 1s")
		}
		if c.Connectivity.ProbeTimeout <= 0 || c.Connectivity.ProbeTimeout > c.Connectivity.ProbeInterval {
			return fmt.Errorf("CONNECTIVITY_PROBE_TIMEOUT must be positive and not exceed the probe interval")
		}
		if c.Connectivity.FailureThreshold < 1 {
			return fmt.Errorf("CONNECTIVITY_FAILURE_THRESHOLD must be at least 1")
		}
	case ConnectivityStatic:
	default:
		return fmt.Errorf("CONNECTIVITY_MODE must be one of: %s, %s", ConnectivityProbe, ConnectivityStatic)
	}
	return nil
}

// Sync limits
const (
	maxBatchSize  = 500
	maxMaxRetries = 100
	minInterval   = time.Second
)

func (c *Config) validateSync() error {
	s := c.Sync
	if s.Interval < minInterval {
		return fmt.Errorf("SYNC_INTERVAL must be at least %v", minInterval)
	}
	if s.BatchSize < 1 || s.BatchSize > maxBatchSize {
		return fmt.Errorf("SYNC_BATCH_SIZE must be between 1 and %d", maxBatchSize)
	}
	if s.MaxRetries < 1 || s.MaxRetries > maxMaxRetries {
		return fmt.Errorf("SYNC_MAX_RETRIES must be between 1 and %d", maxMaxRetries)
	}
	if s.BaseBackoff < 0 {
		return fmt.Errorf("SYNC_BASE_BACKOFF must be >= 0")
	}
	if s.MaxBackoff < s.BaseBackoff {
		return fmt.Errorf("SYNC_MAX_BACKOFF (%v) must be >= SYNC_BASE_BACKOFF (%v)", s.MaxBackoff, s.BaseBackoff)
	}
	if s.MaxConcurrentBatches < 1 {
		return fmt.Errorf("SYNC_MAX_CONCURRENT_BATCHES must be at least 1")
	}
	if s.PendingCountInterval <= 0 {
		return fmt.Errorf("SYNC_PENDING_COUNT_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) validateOutbox() error {
	if !c.Outbox.InMemory && c.Outbox.Path == "" {
		return fmt.Errorf("OUTBOX_PATH is required unless OUTBOX_IN_MEMORY=true")
	}
	if c.Outbox.MaxAttempts < 1 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be at least 1")
	}
	if c.Outbox.RetryInterval <= 0 {
		return fmt.Errorf("OUTBOX_RETRY_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.BufferSize < 1 {
		return fmt.Errorf("EVENTS_BUFFER_SIZE must be at least 1")
	}
	if !c.Events.NATS.Enabled {
		return nil
	}
	if err := validateNATSURL(c.Events.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL: %w", err)
	}
	if c.Events.NATS.Stream == "" {
		return fmt.Errorf("NATS_STREAM is required when NATS is enabled")
	}
	return nil
}

// Rate limit constants
const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

func (c *Config) validateServer() error {
	if err := validateListenAddr(c.Server.ListenAddr); err != nil {
		return fmt.Errorf("LISTEN_ADDR: %w", err)
	}
	if c.Server.RateLimitDisabled {
		return nil
	}
	if c.Server.RateLimitReqs < minRateLimitRequests || c.Server.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.Server.RateLimitWindow < minRateLimitWindow || c.Server.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
	return nil
}

// HasWildcardCORS reports whether any configured origin is "*".
// telemetryd logs a warning at startup when it is.
func (c *Config) HasWildcardCORS() bool {
	for _, origin := range c.Server.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}
