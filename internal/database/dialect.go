// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package database

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/tomtom215/telemetrysync/internal/config"
)

// dialect isolates the differences between the two embedded engines.
// Table layout and DML are shared; only connection setup, secondary
// indexes, shutdown and conflict detection differ.
type dialect interface {
	name() string
	open(cfg config.StoreConfig) (*sql.DB, error)
	indexes() []string
	checkpoint(ctx context.Context, conn *sql.DB) error
	isConflict(err error) bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case config.DriverDuckDB, "":
		return duckDBDialect{}, nil
	case config.DriverSQLite:
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

type duckDBDialect struct{}

func (duckDBDialect) name() string { return config.DriverDuckDB }

func (duckDBDialect) open(cfg config.StoreConfig) (*sql.DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	// Extensions are never needed by the store; disabling autoload keeps
	// startup offline-safe.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, err
	}

	// A DuckDB handle is one in-process database; the pool only bounds
	// concurrent connections into it.
	conn.SetMaxOpenConns(runtime.NumCPU())
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)
	return conn, nil
}

// DuckDB cannot assign to indexed columns inside ON CONFLICT DO UPDATE, and
// its min-max zonemaps already serve the timestamp range scans, so only the
// primary keys are indexed.
func (duckDBDialect) indexes() []string { return nil }

func (duckDBDialect) checkpoint(ctx context.Context, conn *sql.DB) error {
	_, err := conn.ExecContext(ctx, "CHECKPOINT")
	return err
}

func (duckDBDialect) isConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update") ||
		strings.Contains(errStr, "Conflict on tuple deletion")
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return config.DriverSQLite }

func (sqliteDialect) open(cfg config.StoreConfig) (*sql.DB, error) {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	inMemory := cfg.Path == ":memory:" || cfg.Path == ""
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if !inMemory {
		pragmas = append(pragmas, "_pragma=journal_mode(wal)", "_pragma=synchronous(normal)")
	}

	dsn := "file:" + cfg.Path
	if inMemory {
		dsn = "file::memory:"
	}
	conn, err := sql.Open("sqlite3", dsn+"?"+strings.Join(pragmas, "&"))
	if err != nil {
		return nil, err
	}

	if inMemory {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(4)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}
	return conn, nil
}

func (sqliteDialect) indexes() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_records_ts ON telemetry_records(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_records_kind_ts ON telemetry_records(kind, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_records_source ON telemetry_records(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_status_status ON sync_status(status)`,
	}
}

func (sqliteDialect) checkpoint(ctx context.Context, conn *sql.DB) error {
	_, err := conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (sqliteDialect) isConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY")
}
