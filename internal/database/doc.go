// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

// Package database implements the local store: the durable, on-device
// source of truth for telemetry records and their sync status.
//
// # Engines
//
// Two embedded engines share one schema and one set of statements:
//   - DuckDB (github.com/duckdb/duckdb-go/v2), the default
//   - SQLite (github.com/ncruces/go-sqlite3), WAL mode with busy_timeout
//
// The engine is chosen by store.driver. ":memory:" opens an ephemeral store,
// used by tests.
//
// # Schema
//
//   - telemetry_records: one row per record, timestamps as unix milliseconds,
//     value and attributes as JSON text
//   - sync_status: one row per record (pending, in_progress, synced, failed),
//     retry_count, last_attempt, last_success, error_message
//
// Both rows are always written in the same transaction.
//
// # Concurrency
//
// LockRecord serializes read-modify-write cycles on a single record across
// the repository and the sync orchestrator. Engine write conflicts are
// retried with a short exponential backoff (withConflictRetry).
//
// # Errors
//
// Driver failures are wrapped in *models.StorageError; malformed records
// are rejected with *models.ValidationError before anything is written;
// missing records yield models.ErrNotFound.
package database
