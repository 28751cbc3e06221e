// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/telemetrysync/config.yaml",
	"/etc/telemetrysync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:      DriverDuckDB,
			Path:        "/data/telemetry.duckdb",
			Threads:     0,
			MaxMemory:   "512MB",
			BusyTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			TTL:             5 * time.Minute,
			MaxEntries:      10000,
			CleanupInterval: time.Minute,
		},
		Remote: RemoteConfig{
			BaseURL:   "", // Offline-only until configured
			Token:     "",
			Timeout:   15 * time.Second,
			RateLimit: 20,
			Burst:     40,
			Breaker: BreakerConfig{
				MaxRequests:         1,
				Interval:            time.Minute,
				Timeout:             30 * time.Second,
				ConsecutiveFailures: 5,
			},
		},
		Connectivity: ConnectivityConfig{
			Mode:             ConnectivityProbe,
			ProbeInterval:    15 * time.Second,
			ProbeTimeout:     3 * time.Second,
			FailureThreshold: 2,
			InitialOnline:    false,
		},
		Sync: SyncConfig{
			Interval:             5 * time.Minute,
			BatchSize:            50,
			MaxRetries:           3,
			BaseBackoff:          30 * time.Second,
			MaxBackoff:           10 * time.Minute,
			MaxConcurrentBatches: 2,
			PendingCountInterval: 10 * time.Second,
			SyncOnReconnect:      true,
		},
		Outbox: OutboxConfig{
			Path:          "/data/outbox",
			InMemory:      false,
			MaxAttempts:   10,
			RetryInterval: 30 * time.Second,
			GCInterval:    5 * time.Minute,
		},
		Events: EventsConfig{
			BufferSize: 256,
			NATS: NATSConfig{
				Enabled:       false,
				URL:           "nats://127.0.0.1:4222",
				Stream:        "TELEMETRY",
				MaxAge:        24 * time.Hour,
				MaxReconnects: -1,
			},
		},
		Server: ServerConfig{
			ListenAddr:        "127.0.0.1:8686",
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"http://localhost:*", "http://127.0.0.1:*"},
			RateLimitReqs:     300,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			SwaggerEnabled:    true,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Caller:      false,
			File:        "",
			FileMaxSize: 50,
			FileBackups: 5,
			FileMaxAge:  28,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf with layered sources:
//  1. Defaults: built-in defaults
//  2. Config File: optional YAML config file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment Variables: override any mapped setting
func LoadWithKoanf() (*Config, error) {
	return load(findConfigFile())
}

// LoadFromFile loads configuration using an explicit YAML file instead of
// the search paths. Environment variables still take precedence.
func LoadFromFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return load(path)
}

// Default returns the built-in defaults without reading a file or the environment.
func Default() *Config {
	return defaultConfig()
}

// ConfigFilePath returns the config file LoadWithKoanf would read, or "".
func ConfigFilePath() string {
	return findConfigFile()
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
var envMappings = map[string]string{
	"store_driver":        "store.driver",
	"store_path":          "store.path",
	"duckdb_threads":      "store.threads",
	"duckdb_max_memory":   "store.max_memory",
	"sqlite_busy_timeout": "store.busy_timeout",

	"cache_ttl":              "cache.ttl",
	"cache_max_entries":      "cache.max_entries",
	"cache_cleanup_interval": "cache.cleanup_interval",

	"remote_url":                  "remote.base_url",
	"remote_token":                "remote.token",
	"remote_timeout":              "remote.timeout",
	"remote_rate_limit":           "remote.rate_limit",
	"remote_burst":                "remote.burst",
	"remote_breaker_max_requests": "remote.breaker.max_requests",
	"remote_breaker_interval":     "remote.breaker.interval",
	"remote_breaker_timeout":      "remote.breaker.timeout",
	"remote_breaker_failures":     "remote.breaker.consecutive_failures",

	"connectivity_mode":              "connectivity.mode",
	"connectivity_probe_interval":    "connectivity.probe_interval",
	"connectivity_probe_timeout":     "connectivity.probe_timeout",
	"connectivity_failure_threshold": "connectivity.failure_threshold",
	"connectivity_initial_online":    "connectivity.initial_online",

	"sync_interval":               "sync.interval",
	"sync_batch_size":             "sync.batch_size",
	"sync_max_retries":            "sync.max_retries",
	"sync_base_backoff":           "sync.base_backoff",
	"sync_max_backoff":            "sync.max_backoff",
	"sync_max_concurrent_batches": "sync.max_concurrent_batches",
	"sync_pending_count_interval": "sync.pending_count_interval",
	"sync_on_reconnect":           "sync.sync_on_reconnect",

	"outbox_path":           "outbox.path",
	"outbox_in_memory":      "outbox.in_memory",
	"outbox_max_attempts":   "outbox.max_attempts",
	"outbox_retry_interval": "outbox.retry_interval",
	"outbox_gc_interval":    "outbox.gc_interval",

	"events_buffer_size":  "events.buffer_size",
	"nats_enabled":        "events.nats.enabled",
	"nats_url":            "events.nats.url",
	"nats_stream":         "events.nats.stream",
	"nats_max_age":        "events.nats.max_age",
	"nats_max_reconnects": "events.nats.max_reconnects",

	"listen_addr":         "server.listen_addr",
	"http_read_timeout":   "server.read_timeout",
	"http_write_timeout":  "server.write_timeout",
	"shutdown_timeout":    "server.shutdown_timeout",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",
	"disable_rate_limit":  "server.rate_limit_disabled",
	"swagger_enabled":     "server.swagger_enabled",

	"log_level":         "logging.level",
	"log_format":        "logging.format",
	"log_caller":        "logging.caller",
	"log_file":          "logging.file",
	"log_file_max_size": "logging.file_max_size_mb",
	"log_file_backups":  "logging.file_max_backups",
	"log_file_max_age":  "logging.file_max_age_days",
	"log_file_compress": "logging.file_compress",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - REMOTE_URL -> remote.base_url
//   - SYNC_BATCH_SIZE -> sync.batch_size
//   - NATS_ENABLED -> events.nats.enabled
//
// Unmapped variables return "" and are skipped so unrelated environment
// variables cannot pollute the config.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// WatchConfigFile calls callback whenever the file at path changes.
// The caller is responsible for synchronizing access to a reloaded Config.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
