// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package wal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
)

// DefaultMaxAttempts is the delivery budget of a tombstone when the
// configuration does not set one.
const DefaultMaxAttempts = 10

const prefixPending = "pending:"

// Tombstone records that a synced record was deleted locally and its remote
// copy still has to be removed.
type Tombstone struct {
	RecordID  string    `json:"record_id"`
	ServerID  string    `json:"server_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// Entry is a tombstone plus its delivery bookkeeping.
type Entry struct {
	ID            string    `json:"id"`
	Tombstone     Tombstone `json:"tombstone"`
	CreatedAt     time.Time `json:"created_at"`
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Stats is a snapshot of outbox counters.
type Stats struct {
	PendingCount  int64 `json:"pending_count"`
	TotalWrites   int64 `json:"total_writes"`
	TotalConfirms int64 `json:"total_confirms"`
	TotalRetries  int64 `json:"total_retries"`
	TotalDropped  int64 `json:"total_dropped"`
	DBSizeBytes   int64 `json:"db_size_bytes"`
}

// Outbox is a durable queue of pending remote deletes backed by BadgerDB.
//
// A tombstone is written before the local delete returns, so a crash or a
// long offline period never loses a remote delete. Entries are removed once
// the remote confirms the delete or the attempt budget is exhausted.
type Outbox struct {
	db  *badger.DB
	cfg config.OutboxConfig

	totalWrites   atomic.Int64
	totalConfirms atomic.Int64
	totalRetries  atomic.Int64
	totalDropped  atomic.Int64

	mu     sync.RWMutex
	closed bool

	// In-process claims keep the retry loop and an immediate delete attempt
	// from delivering the same tombstone twice.
	claims sync.Map
}

// Open opens (or creates) the outbox. With InMemory set nothing touches disk.
func Open(cfg config.OutboxConfig) (*Outbox, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("outbox path is required unless in_memory is set")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithLogger(nil).WithNumCompactors(2)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}

	o := &Outbox{db: db, cfg: cfg}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Delete outbox opened")

	o.refreshPendingGauge()
	return o, nil
}

// MaxAttempts returns the delivery budget per tombstone.
func (o *Outbox) MaxAttempts() int {
	return o.cfg.MaxAttempts
}

// Write persists a tombstone and returns its entry id.
func (o *Outbox) Write(ctx context.Context, t Tombstone) (string, error) {
	if err := o.checkOpen(); err != nil {
		return "", err
	}
	if t.ServerID == "" {
		return "", ErrEmptyServerID
	}
	if t.DeletedAt.IsZero() {
		t.DeletedAt = time.Now().UTC()
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		Tombstone: t,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	if err := o.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(entry.ID), data)
	}); err != nil {
		return "", fmt.Errorf("write tombstone: %w", err)
	}

	o.totalWrites.Add(1)
	metrics.OutboxWrites.Inc()
	metrics.OutboxPending.Inc()

	logging.Ctx(ctx).Debug().
		Str("entry_id", entry.ID).
		Str("record_id", t.RecordID).
		Str("server_id", t.ServerID).
		Msg("Tombstone written to outbox")
	return entry.ID, nil
}

// Confirm removes an entry after the remote acknowledged the delete.
func (o *Outbox) Confirm(ctx context.Context, entryID string) error {
	if err := o.remove(entryID); err != nil {
		return err
	}
	o.totalConfirms.Add(1)
	metrics.OutboxConfirms.Inc()
	return nil
}

// Drop removes an entry that will never be delivered.
func (o *Outbox) Drop(ctx context.Context, entryID string) error {
	if err := o.remove(entryID); err != nil {
		return err
	}
	o.totalDropped.Add(1)
	return nil
}

func (o *Outbox) remove(entryID string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}

	key := pendingKey(entryID)
	err := o.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrEntryNotFound
			}
			return fmt.Errorf("get entry: %w", err)
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	metrics.OutboxPending.Dec()
	return nil
}

// GetPending returns every undelivered entry, oldest first.
func (o *Outbox) GetPending(ctx context.Context) ([]*Entry, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := o.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()

			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Outbox skipped malformed entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}

	sortByCreated(entries)
	return entries, nil
}

// Get returns one entry by id.
func (o *Outbox) Get(ctx context.Context, entryID string) (*Entry, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	var entry Entry
	err := o.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pendingKey(entryID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateAttempt records a failed delivery attempt.
func (o *Outbox) UpdateAttempt(ctx context.Context, entryID, lastError string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}

	key := pendingKey(entryID)
	err := o.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return err
	}

	o.totalRetries.Add(1)
	return nil
}

// TryClaim takes the in-process delivery claim for an entry. The caller must
// Release it when done.
func (o *Outbox) TryClaim(entryID string) bool {
	_, claimed := o.claims.LoadOrStore(entryID, time.Now())
	return !claimed
}

// Release gives up a claim taken with TryClaim.
func (o *Outbox) Release(entryID string) {
	o.claims.Delete(entryID)
}

// Len returns the number of undelivered entries.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	if err := o.checkOpen(); err != nil {
		return 0, err
	}

	n := 0
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Stats returns current counters.
func (o *Outbox) Stats() Stats {
	if o.checkOpen() != nil {
		return Stats{}
	}

	pending, err := o.Len(context.Background())
	if err != nil {
		logging.Warn().Err(err).Msg("Outbox stats failed to count entries")
	}
	lsm, vlog := o.db.Size()

	return Stats{
		PendingCount:  int64(pending),
		TotalWrites:   o.totalWrites.Load(),
		TotalConfirms: o.totalConfirms.Load(),
		TotalRetries:  o.totalRetries.Load(),
		TotalDropped:  o.totalDropped.Load(),
		DBSizeBytes:   lsm + vlog,
	}
}

// RunGC reclaims value-log space. It reports whether anything was rewritten.
// In-memory outboxes have no value log and always report false.
func (o *Outbox) RunGC() (bool, error) {
	if err := o.checkOpen(); err != nil {
		return false, err
	}
	if o.cfg.InMemory {
		return false, nil
	}

	rewritten := false
	for {
		err := o.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			metrics.OutboxGCRuns.WithLabelValues("error").Inc()
			return rewritten, fmt.Errorf("run GC: %w", err)
		}
		rewritten = true
	}

	result := "nothing"
	if rewritten {
		result = "rewritten"
	}
	metrics.OutboxGCRuns.WithLabelValues(result).Inc()
	return rewritten, nil
}

// Close flushes and closes the database. Later calls are no-ops.
func (o *Outbox) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if err := o.db.Close(); err != nil {
		return fmt.Errorf("close outbox: %w", err)
	}
	logging.Info().Msg("Delete outbox closed")
	return nil
}

func (o *Outbox) checkOpen() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}
	return nil
}

func (o *Outbox) refreshPendingGauge() {
	n, err := o.Len(context.Background())
	if err != nil {
		return
	}
	metrics.OutboxPending.Set(float64(n))
}

func pendingKey(id string) []byte {
	return []byte(prefixPending + id)
}

// sortByCreated orders entries oldest first; keys are random uuids.
func sortByCreated(entries []*Entry) {
	slices.SortStableFunc(entries, func(a, b *Entry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// Errors
var (
	// ErrOutboxClosed is returned when the outbox is closed.
	ErrOutboxClosed = errors.New("outbox is closed")

	// ErrEmptyEntryID is returned when an empty entry ID is provided.
	ErrEmptyEntryID = errors.New("entry ID cannot be empty")

	// ErrEmptyServerID is returned when a tombstone has no server id.
	ErrEmptyServerID = errors.New("tombstone requires a server id")

	// ErrEntryNotFound is returned when an entry doesn't exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrEntryDropped is returned when an entry ran out of attempts.
	ErrEntryDropped = errors.New("entry dropped after exhausting its attempts")
)
