// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package database

import (
	"context"
	"fmt"
)

// Timestamps are BIGINT unix milliseconds so the same DDL and DML run on
// both engines. Column types use names both engines understand.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS telemetry_records (
		id              TEXT PRIMARY KEY,
		server_id       TEXT,
		source_id       TEXT NOT NULL,
		kind            TEXT NOT NULL,
		value_json      TEXT NOT NULL,
		unit            TEXT NOT NULL DEFAULT '',
		ts              BIGINT NOT NULL,
		latitude        DOUBLE,
		longitude       DOUBLE,
		altitude        DOUBLE,
		accuracy        DOUBLE,
		attributes_json TEXT,
		created_at      BIGINT NOT NULL,
		updated_at      BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_status (
		record_id     TEXT PRIMARY KEY,
		status        TEXT NOT NULL,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		last_attempt  BIGINT,
		last_success  BIGINT,
		error_message TEXT
	)`,
}

func (s *Store) createSchema(ctx context.Context) error {
	statements := append(append([]string{}, schemaStatements...), s.dialect.indexes()...)
	for _, stmt := range statements {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
