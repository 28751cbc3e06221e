// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package config

import (
	"time"

	"github.com/tomtom215/telemetrysync/internal/logging"
)

// Config holds all application configuration.
//
// Loading order (later wins): built-in defaults, optional YAML file,
// environment variables. See LoadWithKoanf.
type Config struct {
	Store        StoreConfig        `koanf:"store"`
	Cache        CacheConfig        `koanf:"cache"`
	Remote       RemoteConfig       `koanf:"remote"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Sync         SyncConfig         `koanf:"sync"`
	Outbox       OutboxConfig       `koanf:"outbox"`
	Events       EventsConfig       `koanf:"events"`
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Supervisor   SupervisorConfig   `koanf:"supervisor"`
}

// Local store drivers.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
)

// StoreConfig selects and tunes the Local Store backend.
//
// Environment Variables:
//   - STORE_DRIVER: duckdb or sqlite (default: duckdb)
//   - STORE_PATH: database file, ":memory:" for an ephemeral store
type StoreConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`

	// Threads is the DuckDB worker count (0 = NumCPU). Ignored by SQLite.
	Threads int `koanf:"threads"`

	// MaxMemory is the DuckDB memory limit, e.g. "512MB". Ignored by SQLite.
	MaxMemory string `koanf:"max_memory"`

	// BusyTimeout is the SQLite lock wait. Ignored by DuckDB.
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

// CacheConfig holds read-through cache settings.
type CacheConfig struct {
	TTL             time.Duration `koanf:"ttl"`
	MaxEntries      int           `koanf:"max_entries"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// RemoteConfig points the sync engine at the remote Telemetry API.
// An empty BaseURL runs the engine fully offline.
type RemoteConfig struct {
	BaseURL string        `koanf:"base_url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is the client-side request budget per second; Burst is the bucket size.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the remote client circuit breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32 `koanf:"max_requests"`

	// Interval clears counts while closed. 0 never clears.
	Interval time.Duration `koanf:"interval"`

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `koanf:"timeout"`

	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32 `koanf:"consecutive_failures"`
}

// Connectivity modes.
const (
	ConnectivityProbe  = "probe"
	ConnectivityStatic = "static"
)

// ConnectivityConfig selects how online/offline is decided.
type ConnectivityConfig struct {
	Mode             string        `koanf:"mode"`
	ProbeInterval    time.Duration `koanf:"probe_interval"`
	ProbeTimeout     time.Duration `koanf:"probe_timeout"`
	FailureThreshold int           `koanf:"failure_threshold"`

	// InitialOnline is the state reported before the first probe, and the
	// fixed state in static mode.
	InitialOnline bool `koanf:"initial_online"`
}

// SyncConfig holds sync orchestrator settings.
type SyncConfig struct {
	Interval             time.Duration `koanf:"interval"`
	BatchSize            int           `koanf:"batch_size"`
	MaxRetries           int           `koanf:"max_retries"`
	BaseBackoff          time.Duration `koanf:"base_backoff"`
	MaxBackoff           time.Duration `koanf:"max_backoff"`
	MaxConcurrentBatches int           `koanf:"max_concurrent_batches"`
	PendingCountInterval time.Duration `koanf:"pending_count_interval"`

	// SyncOnReconnect triggers a pass on every offline to online transition.
	SyncOnReconnect bool `koanf:"sync_on_reconnect"`
}

// OutboxConfig configures the durable queue of pending remote deletes.
type OutboxConfig struct {
	Path          string        `koanf:"path"`
	InMemory      bool          `koanf:"in_memory"`
	MaxAttempts   int           `koanf:"max_attempts"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	GCInterval    time.Duration `koanf:"gc_interval"`
}

// EventsConfig configures the in-process event bus and its optional NATS mirror.
type EventsConfig struct {
	// BufferSize is the per-subscriber channel buffer of the in-process bus.
	BufferSize int64 `koanf:"buffer_size"`

	NATS NATSConfig `koanf:"nats"`
}

// NATSConfig configures the JetStream forwarder.
//
// Environment Variables:
//   - NATS_ENABLED: mirror every event to NATS (default: false)
//   - NATS_URL: server URL (default: nats://127.0.0.1:4222)
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	Stream        string        `koanf:"stream"`
	MaxAge        time.Duration `koanf:"max_age"`
	MaxReconnects int           `koanf:"max_reconnects"`
}

// ServerConfig holds local HTTP API settings.
type ServerConfig struct {
	ListenAddr      string        `koanf:"listen_addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	SwaggerEnabled    bool          `koanf:"swagger_enabled"`
}

// LoggingConfig holds logging settings for zerolog.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
//   - LOG_FILE: rotating log file path (default: disabled)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`

	File         string `koanf:"file"`
	FileMaxSize  int    `koanf:"file_max_size_mb"`
	FileBackups  int    `koanf:"file_max_backups"`
	FileMaxAge   int    `koanf:"file_max_age_days"`
	FileCompress bool   `koanf:"file_compress"`
}

// ToLoggingConfig converts to the logging package configuration.
func (c LoggingConfig) ToLoggingConfig() logging.Config {
	return logging.Config{
		Level:     c.Level,
		Format:    c.Format,
		Caller:    c.Caller,
		Timestamp: true,
		File: logging.FileConfig{
			Path:       c.File,
			MaxSizeMB:  c.FileMaxSize,
			MaxBackups: c.FileBackups,
			MaxAgeDays: c.FileMaxAge,
			Compress:   c.FileCompress,
		},
	}
}

// SupervisorConfig tunes the suture restart policy.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// RemoteEnabled reports whether a remote API is configured.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.BaseURL != ""
}

// Load loads configuration. It is an alias for LoadWithKoanf.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
