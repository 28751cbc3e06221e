// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
	"github.com/tomtom215/telemetrysync/internal/models"
)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("local store is closed")

// defaultOpTimeout bounds operations whose context carries no deadline.
const defaultOpTimeout = 30 * time.Second

// Stats counts store round trips. Reads and Writes are cumulative.
type Stats struct {
	Reads  int64 `json:"reads"`
	Writes int64 `json:"writes"`
}

// Store is the durable on-device record store. Every method is
// synchronous-durable: when it returns nil the change is committed.
type Store struct {
	conn    *sql.DB
	dialect dialect
	cfg     config.StoreConfig

	// Per-record locks serializing read-modify-write cycles. An entry lives
	// while someone holds or waits on it.
	locksMu     sync.Mutex
	recordLocks map[string]*recordLock

	reads  atomic.Int64
	writes atomic.Int64

	closed atomic.Bool
}

// Open opens (creating if needed) the local store described by cfg,
// applies the schema and reverts rows left InProgress by a previous process.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if cfg.Path != "" && cfg.Path != ":memory:" {
		// 0750 per gosec G301
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
			}
		}
	}

	conn, err := d.open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", d.name(), err)
	}

	s := &Store{conn: conn, dialect: d, cfg: cfg}

	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to ping %s store: %w", d.name(), err)
	}

	if err := s.createSchema(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	reset, err := s.ResetInProgress(ctx)
	if err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to recover in-progress records: %w", err)
	}
	if reset > 0 {
		logging.Warn().Int("records", reset).Msg("Reverted records left in progress by a previous run")
	}

	logging.Info().
		Str("driver", d.name()).
		Str("path", cfg.Path).
		Msg("Local store opened")

	return s, nil
}

// Close checkpoints and closes the store. Safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()
	if err := s.dialect.checkpoint(ctx, s.conn); err != nil {
		logging.Warn().Err(err).Str("driver", s.dialect.name()).Msg("Failed to checkpoint store before close")
	}

	return s.conn.Close()
}

// Ping checks that the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.conn.PingContext(ctx)
}

// Driver returns the engine name ("duckdb" or "sqlite").
func (s *Store) Driver() string {
	return s.dialect.name()
}

// Conn returns the underlying connection pool.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Stats returns cumulative read and write round trips.
func (s *Store) Stats() Stats {
	return Stats{Reads: s.reads.Load(), Writes: s.writes.Load()}
}

type recordLock struct {
	mu   sync.Mutex
	refs int
}

// LockRecord acquires the per-record lock and returns its release func.
//
//	unlock := store.LockRecord(id)
//	defer unlock()
func (s *Store) LockRecord(id string) func() {
	s.locksMu.Lock()
	if s.recordLocks == nil {
		s.recordLocks = make(map[string]*recordLock)
	}
	l := s.recordLocks[id]
	if l == nil {
		l = &recordLock{}
		s.recordLocks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.recordLocks, id)
		}
		s.locksMu.Unlock()
	}
}

// lockEntries reports how many record lock entries are live.
func (s *Store) lockEntries() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.recordLocks)
}

// ensureContext applies the default timeout when ctx has no deadline.
func (s *Store) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), defaultOpTimeout)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, defaultOpTimeout)
	}
	return ctx, func() {}
}

// begin starts an operation: it checks the store is open and returns a
// bounded context plus a finish func recording metrics and wrapping errors.
func (s *Store) begin(ctx context.Context, op string, write bool) (context.Context, func(error) error, error) {
	if s.closed.Load() {
		return nil, nil, models.NewStorageError(op, ErrStoreClosed)
	}
	if write {
		s.writes.Add(1)
	} else {
		s.reads.Add(1)
	}

	ctx, cancel := s.ensureContext(ctx)
	start := time.Now()
	finish := func(err error) error {
		cancel()
		metrics.RecordStoreOperation(op, s.dialect.name(), time.Since(start), err)
		if err == nil || errors.Is(err, models.ErrNotFound) {
			return err
		}
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return models.NewStorageError(op, err)
	}
	return ctx, finish, nil
}

// withConflictRetry runs fn in a transaction, retrying on engine write
// conflicts with a short exponential backoff.
func (s *Store) withConflictRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.inTx(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("operation timed out or canceled: %w", ctx.Err())
		}
		if !s.dialect.isConflict(err) {
			return err
		}
		if attempt < maxRetries-1 {
			backoff := time.Millisecond * time.Duration(1<<uint(attempt)) // 1ms, 2ms, 4ms
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logging.Warn().Err(rbErr).Msg("Failed to roll back store transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
