// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }, "STORE_DRIVER"},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "STORE_PATH"},
		{"zero cache ttl", func(c *Config) { c.Cache.TTL = 0 }, "CACHE_TTL"},
		{"remote bad scheme", func(c *Config) { c.Remote.BaseURL = "ftp://x" }, "REMOTE_URL"},
		{"remote with query", func(c *Config) { c.Remote.BaseURL = "https://x/api?a=1" }, "REMOTE_URL"},
		{"remote with path prefix", func(c *Config) { c.Remote.BaseURL = "https://x/api" }, ""},
		{"remote no burst", func(c *Config) {
			c.Remote.BaseURL = "https://x"
			c.Remote.Burst = 0
		}, "REMOTE_BURST"},
		{"probe timeout above interval", func(c *Config) { c.Connectivity.ProbeTimeout = time.Minute }, "CONNECTIVITY_PROBE_TIMEOUT"},
		{"static mode skips probe checks", func(c *Config) {
			c.Connectivity.Mode = ConnectivityStatic
			c.Connectivity.ProbeInterval = 0
		}, ""},
		{"unknown connectivity mode", func(c *Config) { c.Connectivity.Mode = "magic" }, "CONNECTIVITY_MODE"},
		{"batch too big", func(c *Config) { c.Sync.BatchSize = 501 }, "SYNC_BATCH_SIZE"},
		{"max backoff below base", func(c *Config) { c.Sync.MaxBackoff = time.Second }, "SYNC_MAX_BACKOFF"},
		{"no concurrency", func(c *Config) { c.Sync.MaxConcurrentBatches = 0 }, "SYNC_MAX_CONCURRENT_BATCHES"},
		{"outbox without path", func(c *Config) { c.Outbox.Path = "" }, "OUTBOX_PATH"},
		{"in-memory outbox", func(c *Config) {
			c.Outbox.Path = ""
			c.Outbox.InMemory = true
		}, ""},
		{"nats bad url", func(c *Config) {
			c.Events.NATS.Enabled = true
			c.Events.NATS.URL = "http://nats"
		}, "NATS_URL"},
		{"bad listen addr", func(c *Config) { c.Server.ListenAddr = "8686" }, "LISTEN_ADDR"},
		{"rate limit window", func(c *Config) { c.Server.RateLimitWindow = time.Millisecond }, "RATE_LIMIT_WINDOW"},
		{"rate limit disabled", func(c *Config) {
			c.Server.RateLimitDisabled = true
			c.Server.RateLimitReqs = 0
		}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHasWildcardCORS(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	if cfg.HasWildcardCORS() {
		t.Error("defaults should not allow every origin")
	}
	cfg.Server.CORSOrigins = append(cfg.Server.CORSOrigins, "*")
	if !cfg.HasWildcardCORS() {
		t.Error("expected wildcard to be detected")
	}
}

func TestToLoggingConfig(t *testing.T) {
	t.Parallel()

	lc := LoggingConfig{Level: "debug", Format: "console", File: "/tmp/x.log", FileMaxSize: 10, FileCompress: true}
	got := lc.ToLoggingConfig()
	if got.Level != "debug" || got.Format != "console" || !got.Timestamp {
		t.Errorf("unexpected logging config: %+v", got)
	}
	if got.File.Path != "/tmp/x.log" || got.File.MaxSizeMB != 10 || !got.File.Compress {
		t.Errorf("unexpected file config: %+v", got.File)
	}
}
