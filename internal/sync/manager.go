// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/connectivity"
	"github.com/tomtom215/telemetrysync/internal/database"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/remote"
)

const (
	DefaultInterval             = 5 * time.Minute
	DefaultBatchSize            = 50
	DefaultMaxConcurrentBatches = 2
)

// ErrNotFailed is returned by Requeue for a record that is not Failed.
var ErrNotFailed = errors.New("record is not in failed state")

// Store is the part of the local store the orchestrator drives.
type Store interface {
	SelectEligible(ctx context.Context, p database.EligibleParams) ([]*models.RecordWithStatus, error)
	MarkInProgress(ctx context.Context, ids []string, at time.Time) ([]string, error)
	MarkSynced(ctx context.Context, id, serverID string, at time.Time) error
	GetWithStatus(ctx context.Context, id string) (*models.RecordWithStatus, error)
	GetStatus(ctx context.Context, id string) (models.SyncStatus, error)
	UpdateSyncStatus(ctx context.Context, st models.SyncStatus) error
	InsertWithStatus(ctx context.Context, r *models.TelemetryRecord, st models.SyncStatus) error
	CountUnsynced(ctx context.Context, maxRetries int) (int, error)
	LockRecord(id string) func()
}

// RecordCache receives the records a pass synced.
type RecordCache interface {
	Set(key string, r *models.TelemetryRecord)
}

// Manager runs sync passes: it drains Pending and retryable Failed records
// to the remote in batches.
//
// Only one pass runs at a time. A pass requested while another is in flight
// returns a Skipped result immediately, and the periodic tick is skipped
// rather than queued.
type Manager struct {
	store   Store
	api     remote.API
	monitor connectivity.Monitor
	cfg     config.SyncConfig

	backoff database.BackoffFunc
	claims  *ClaimSet
	cache   RecordCache
	now     func() time.Time

	passMu  sync.Mutex
	syncing atomic.Bool

	mu              sync.RWMutex
	lastResult      *models.SyncResult
	onSyncCompleted func(*models.SyncResult)
	onStatusChange  func(models.StatusTransition)
	onRecordSynced  func(*models.TelemetryRecord)
	onOrphan        func(id, serverID string)
	running         bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithCache refreshes c with every record a pass syncs.
func WithCache(c RecordCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithClaimSet shares a claim set with other remote callers.
func WithClaimSet(c *ClaimSet) Option {
	return func(m *Manager) {
		if c != nil {
			m.claims = c
		}
	}
}

// WithClock replaces time.Now; used by tests to step through backoff windows.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a sync manager. Zero config values fall back to
// defaults: 5 minute interval, batches of 50, 3 retries, 2 concurrent
// batches, 30 second base backoff capped at 10 minutes.
func NewManager(store Store, api remote.API, monitor connectivity.Monitor, cfg config.SyncConfig, opts ...Option) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = models.DefaultMaxRetries
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}

	m := &Manager{
		store:   store,
		api:     api,
		monitor: monitor,
		cfg:     cfg,
		backoff: ExponentialBackoff(cfg.BaseBackoff, cfg.MaxBackoff),
		claims:  NewClaimSet(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	logging.Info().
		Dur("interval", cfg.Interval).
		Int("batch_size", cfg.BatchSize).
		Int("max_retries", cfg.MaxRetries).
		Int("max_concurrent_batches", cfg.MaxConcurrentBatches).
		Msg("Sync manager config loaded")
	return m
}

// Claims returns the claim set shared with opportunistic remote calls.
func (m *Manager) Claims() *ClaimSet {
	return m.claims
}

// MaxRetries returns the per-record retry budget.
func (m *Manager) MaxRetries() int {
	return m.cfg.MaxRetries
}

// Backoff returns the backoff policy used to gate retries.
func (m *Manager) Backoff() database.BackoffFunc {
	return m.backoff
}

// SetOnSyncCompleted sets the callback invoked after every pass that ran.
func (m *Manager) SetOnSyncCompleted(fn func(*models.SyncResult)) {
	m.mu.Lock()
	m.onSyncCompleted = fn
	m.mu.Unlock()
}

// SetOnStatusChange sets the callback invoked on every sync state change.
func (m *Manager) SetOnStatusChange(fn func(models.StatusTransition)) {
	m.mu.Lock()
	m.onStatusChange = fn
	m.mu.Unlock()
}

// SetOnRecordSynced sets the callback invoked with each record a pass
// synced or overwrote from the remote.
func (m *Manager) SetOnRecordSynced(fn func(*models.TelemetryRecord)) {
	m.mu.Lock()
	m.onRecordSynced = fn
	m.mu.Unlock()
}

// SetOnOrphan sets the callback invoked when the remote acknowledged a
// create for a record that was deleted locally while the call was in
// flight. The local delete had no server id to remove, so the callback must
// schedule the remote delete.
func (m *Manager) SetOnOrphan(fn func(id, serverID string)) {
	m.mu.Lock()
	m.onOrphan = fn
	m.mu.Unlock()
}

// Start begins periodic sync passes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("sync manager is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.syncLoop(loopCtx)

	logging.Info().Dur("interval", m.cfg.Interval).Msg("Sync manager started")
	return nil
}

// Stop halts the periodic loop and waits for an in-flight pass to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")
	return nil
}

func (m *Manager) syncLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sync(ctx, models.SyncParams{}); err != nil {
				logging.Error().Err(err).Msg("Periodic sync failed")
			}
		}
	}
}

// TriggerSync runs a pass with default parameters.
func (m *Manager) TriggerSync(ctx context.Context) (*models.SyncResult, error) {
	return m.Sync(ctx, models.SyncParams{})
}

// IsSyncing reports whether a pass is in flight.
func (m *Manager) IsSyncing() bool {
	return m.syncing.Load()
}

// LastResult returns the result of the most recent pass that ran, or nil.
func (m *Manager) LastResult() *models.SyncResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastResult
}

// Requeue moves a Failed record back to Pending with a fresh retry budget.
func (m *Manager) Requeue(ctx context.Context, id string) error {
	unlock := m.store.LockRecord(id)
	defer unlock()

	st, err := m.store.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if st.State != models.SyncStateFailed {
		return fmt.Errorf("requeue %s (%s): %w", id, st.State, ErrNotFailed)
	}

	from := st.State
	if err := st.Requeue(); err != nil {
		return err
	}
	if err := m.store.UpdateSyncStatus(ctx, st); err != nil {
		return err
	}

	logging.Ctx(ctx).Info().Str("record_id", id).Msg("Record requeued for sync")
	m.emitTransition(id, from, st)
	m.RefreshPendingCount(ctx)
	return nil
}

// RefreshPendingCount updates the pending-records gauge and returns the count.
func (m *Manager) RefreshPendingCount(ctx context.Context) int {
	n, err := m.store.CountUnsynced(ctx, m.cfg.MaxRetries)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to count unsynced records")
		return 0
	}
	metrics.SyncPendingRecords.Set(float64(n))
	return n
}

func (m *Manager) emitTransition(id string, from models.SyncState, st models.SyncStatus) {
	m.mu.RLock()
	fn := m.onStatusChange
	m.mu.RUnlock()
	if fn == nil || from == st.State {
		return
	}
	fn(models.StatusTransition{
		RecordID:  id,
		From:      from,
		To:        st.State,
		Retry:     st.RetryCount,
		Error:     st.ErrorMessage,
		Timestamp: m.now().UTC(),
	})
}

func (m *Manager) emitRecord(r *models.TelemetryRecord) {
	if m.cache != nil {
		m.cache.Set(r.ID, r.Clone())
	}
	m.mu.RLock()
	fn := m.onRecordSynced
	m.mu.RUnlock()
	if fn != nil {
		fn(r.Clone())
	}
}

func (m *Manager) emitOrphan(id, serverID string) {
	m.mu.RLock()
	fn := m.onOrphan
	m.mu.RUnlock()
	if fn == nil {
		logging.Warn().Str("record_id", id).Str("server_id", serverID).Msg("Record deleted while syncing, remote copy left in place")
		return
	}
	logging.Info().Str("record_id", id).Str("server_id", serverID).Msg("Record deleted while syncing, scheduling remote delete")
	fn(id, serverID)
}

func (m *Manager) finishPass(res *models.SyncResult) {
	m.mu.Lock()
	m.lastResult = res
	fn := m.onSyncCompleted
	m.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}
