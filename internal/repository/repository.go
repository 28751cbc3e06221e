// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/telemetrysync/internal/cache"
	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/connectivity"
	"github.com/tomtom215/telemetrysync/internal/database"
	"github.com/tomtom215/telemetrysync/internal/events"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/remote"
	intsync "github.com/tomtom215/telemetrysync/internal/sync"
	"github.com/tomtom215/telemetrysync/internal/wal"
)

// DefaultPendingCountInterval is how often the pending count is published.
const DefaultPendingCountInterval = 30 * time.Second

// Deps are the collaborators a Repository is built from. Only Store is
// required.
type Deps struct {
	Store *database.Store

	// API is the remote Telemetry API. Nil runs the repository offline only.
	API remote.API

	// Monitor reports connectivity. Nil means always online when API is set.
	Monitor connectivity.Monitor

	// Outbox persists remote deletes. Nil attempts each remote delete once.
	Outbox *wal.Outbox

	// Bus carries change notifications. Nil creates a private bus.
	Bus *events.Bus
}

// Config tunes the repository and the components it owns.
type Config struct {
	Cache         config.CacheConfig
	Sync          config.SyncConfig
	RemoteTimeout time.Duration
}

// Option customizes a Repository.
type Option func(*Repository)

// WithClock replaces time.Now for the repository and its sync manager.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// Repository is the public, local-first API over telemetry records.
//
// Every write commits to the local store before it returns; a remote call
// is then attempted in the background and its outcome never affects the
// caller. Reads are served from the cache when possible and otherwise from
// the local store, never from the remote.
type Repository struct {
	store     *database.Store
	cache     *cache.Cache[*models.TelemetryRecord]
	api       remote.API
	hasRemote bool
	monitor   connectivity.Monitor
	bus       *events.Bus
	ownsBus   bool

	sync    *intsync.Manager
	outbox  *wal.Outbox
	deletes *wal.RetryLoop

	cfg Config
	now func() time.Time

	// background tracks opportunistic remote calls.
	background sync.WaitGroup

	mu             sync.Mutex
	running        bool
	cancel         context.CancelFunc
	loops          sync.WaitGroup
	removeListener func()
}

// New wires a repository, its cache, sync manager and delete retry loop.
func New(deps Deps, cfg Config, opts ...Option) (*Repository, error) {
	if deps.Store == nil {
		return nil, errors.New("local store is required")
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 15 * time.Second
	}
	if cfg.Sync.PendingCountInterval <= 0 {
		cfg.Sync.PendingCountInterval = DefaultPendingCountInterval
	}

	r := &Repository{
		store:   deps.Store,
		api:     deps.API,
		monitor: deps.Monitor,
		bus:     deps.Bus,
		outbox:  deps.Outbox,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.hasRemote = r.api != nil
	if r.monitor == nil {
		r.monitor = connectivity.NewStatic(r.hasRemote)
	}
	if r.api == nil {
		r.api = offlineAPI{}
	}
	if r.bus == nil {
		r.bus = events.NewBus(config.EventsConfig{})
		r.ownsBus = true
	}

	r.cache = cache.New[*models.TelemetryRecord]("records", cfg.Cache)
	r.sync = intsync.NewManager(r.store, r.api, r.monitor, cfg.Sync,
		intsync.WithCache(r.cache),
		intsync.WithClock(r.now),
	)
	r.sync.SetOnStatusChange(func(t models.StatusTransition) {
		r.publish(func(ctx context.Context) error { return r.bus.PublishSyncStatus(ctx, t) })
	})
	r.sync.SetOnRecordSynced(func(rec *models.TelemetryRecord) {
		r.publish(func(ctx context.Context) error { return r.bus.PublishRecordUpdated(ctx, rec) })
	})
	r.sync.SetOnSyncCompleted(func(res *models.SyncResult) {
		r.publish(func(ctx context.Context) error { return r.bus.PublishSyncCompleted(ctx, res) })
	})
	r.sync.SetOnOrphan(r.deleteOrphan)

	if r.outbox != nil {
		r.deletes = wal.NewRetryLoop(r.outbox, r.api, wal.WithOnlineCheck(r.monitor.IsOnline))
	}

	return r, nil
}

// SyncManager exposes the orchestrator for status reporting.
func (r *Repository) SyncManager() *intsync.Manager {
	return r.sync
}

// Bus returns the event bus the repository publishes on.
func (r *Repository) Bus() *events.Bus {
	return r.bus
}

// Ping checks that the local store answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// StoreDriver names the local store backend.
func (r *Repository) StoreDriver() string {
	return r.store.Driver()
}

// HasRemote reports whether a remote API is configured.
func (r *Repository) HasRemote() bool {
	return r.hasRemote
}

// Monitor returns the connectivity monitor.
func (r *Repository) Monitor() connectivity.Monitor {
	return r.monitor
}

// Start runs the background work: the periodic sync, the delete retry loop,
// the cache janitor, the pending-count ticker and, when enabled, a sync on
// every reconnect.
func (r *Repository) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("repository is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := r.sync.Start(ctx); err != nil {
		cancel()
		return err
	}
	if r.deletes != nil {
		if err := r.deletes.Start(ctx); err != nil {
			_ = r.sync.Stop()
			cancel()
			return err
		}
	}
	r.cache.Start(ctx)

	if r.cfg.Sync.SyncOnReconnect {
		r.removeListener = r.monitor.OnChange(func(online bool) {
			if !online {
				return
			}
			r.background.Add(1)
			go func() {
				defer r.background.Done()
				logging.Info().Msg("Connectivity restored, starting sync pass")
				if _, err := r.sync.TriggerSync(ctx); err != nil {
					logging.Error().Err(err).Msg("Reconnect sync pass failed")
				}
			}()
		})
	}

	r.loops.Add(1)
	go r.pendingCountLoop(ctx)

	r.cancel = cancel
	r.running = true
	logging.Info().
		Bool("remote", r.hasRemote).
		Bool("outbox", r.outbox != nil).
		Dur("pending_count_interval", r.cfg.Sync.PendingCountInterval).
		Msg("Repository started")
	return nil
}

// Stop halts background work and waits for in-flight remote calls.
func (r *Repository) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel, remove := r.cancel, r.removeListener
	r.removeListener = nil
	r.mu.Unlock()

	if remove != nil {
		remove()
	}
	cancel()
	r.loops.Wait()

	err := r.sync.Stop()
	if r.deletes != nil {
		r.deletes.Stop()
	}
	r.cache.Stop()
	r.background.Wait()
	logging.Info().Msg("Repository stopped")
	return err
}

// Close stops the repository and releases the bus it created.
func (r *Repository) Close() error {
	err := r.Stop()
	r.background.Wait()
	if r.ownsBus {
		if cerr := r.bus.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (r *Repository) pendingCountLoop(ctx context.Context) {
	defer r.loops.Done()

	ticker := time.NewTicker(r.cfg.Sync.PendingCountInterval)
	defer ticker.Stop()

	r.publishPendingCount(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.publishPendingCount(ctx)
		}
	}
}

func (r *Repository) publishPendingCount(ctx context.Context) {
	n := r.sync.RefreshPendingCount(ctx)
	if err := r.bus.PublishPendingCount(ctx, n, r.now()); err != nil && !errors.Is(err, events.ErrBusClosed) {
		logging.Warn().Err(err).Msg("Failed to publish pending count")
	}
}

// publish emits a notification. Notification failures never fail a write.
func (r *Repository) publish(fn func(ctx context.Context) error) {
	if err := fn(context.Background()); err != nil && !errors.Is(err, events.ErrBusClosed) {
		logging.Warn().Err(err).Msg("Failed to publish repository event")
	}
}

// offlineAPI stands in for the remote when none is configured. The monitor
// reports offline in that case, so it is only reached through races.
type offlineAPI struct{}

var errNoRemote = &models.NetworkError{Op: "remote", Err: errors.New("no remote configured")}

func (offlineAPI) Create(context.Context, *models.TelemetryRecord) (*models.TelemetryRecord, error) {
	return nil, errNoRemote
}

func (offlineAPI) CreateBatch(context.Context, []*models.TelemetryRecord) (*models.BatchOperationResult, error) {
	return nil, errNoRemote
}

func (offlineAPI) Update(context.Context, *models.TelemetryRecord, bool) (*models.TelemetryRecord, error) {
	return nil, errNoRemote
}

func (offlineAPI) UpdateBatch(context.Context, []*models.TelemetryRecord, bool) (*models.BatchOperationResult, error) {
	return nil, errNoRemote
}

func (offlineAPI) Delete(context.Context, string) error { return errNoRemote }

func (offlineAPI) Get(context.Context, string) (*models.TelemetryRecord, error) {
	return nil, errNoRemote
}

func (offlineAPI) Query(context.Context, models.RecordFilter) ([]*models.TelemetryRecord, error) {
	return nil, errNoRemote
}

func (offlineAPI) Count(context.Context, models.RecordFilter) (int, error) { return 0, errNoRemote }

func (offlineAPI) Ping(context.Context) error { return errNoRemote }
