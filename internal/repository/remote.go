// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package repository

import (
	"context"
	"time"

	"github.com/tomtom215/telemetrysync/internal/cache"
	"github.com/tomtom215/telemetrysync/internal/database"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
	"github.com/tomtom215/telemetrysync/internal/models"
	intsync "github.com/tomtom215/telemetrysync/internal/sync"
	"github.com/tomtom215/telemetrysync/internal/wal"
)

// Sync runs a sync pass now. See intsync.Manager.Sync.
func (r *Repository) Sync(ctx context.Context, params models.SyncParams) (*models.SyncResult, error) {
	return r.sync.Sync(ctx, params)
}

// Requeue returns a terminally failed record to Pending with a fresh retry
// budget.
func (r *Repository) Requeue(ctx context.Context, id string) error {
	return r.sync.Requeue(ctx, id)
}

// Stats is a point-in-time view of the repository.
type Stats struct {
	Counts     map[models.SyncState]int `json:"counts"`
	Pending    int                      `json:"pending"`
	Online     bool                     `json:"online"`
	Syncing    bool                     `json:"syncing"`
	LastResult *models.SyncResult       `json:"last_result,omitempty"`
	Cache      cache.Stats              `json:"cache"`
	Store      database.Stats           `json:"store"`
	Outbox     *wal.Stats               `json:"outbox,omitempty"`
}

// Stats reports record counts per sync state and component counters.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	counts, err := r.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := r.store.CountUnsynced(ctx, r.sync.MaxRetries())
	if err != nil {
		return nil, err
	}

	s := &Stats{
		Counts:     counts,
		Pending:    pending,
		Online:     r.monitor.IsOnline(),
		Syncing:    r.sync.IsSyncing(),
		LastResult: r.sync.LastResult(),
		Cache:      r.cache.Stats(),
		Store:      r.store.Stats(),
	}
	if r.outbox != nil {
		os := r.outbox.Stats()
		s.Outbox = &os
	}
	return s, nil
}

// SyncSummary reports the sync state for status endpoints.
func (r *Repository) SyncSummary(ctx context.Context) (*models.SyncStatusSummary, error) {
	s, err := r.Stats(ctx)
	if err != nil {
		return nil, err
	}
	sum := &models.SyncStatusSummary{
		Counts:     s.Counts,
		Pending:    s.Pending,
		Online:     s.Online,
		Running:    s.Syncing,
		LastResult: s.LastResult,
	}
	if s.LastResult != nil {
		at := s.LastResult.Timestamp
		sum.LastSyncAt = &at
	}
	return sum, nil
}

// WaitBackground blocks until every in-flight opportunistic remote call
// has finished.
func (r *Repository) WaitBackground() {
	r.background.Wait()
}

// pushAsync sends one freshly written record to the remote in the
// background. The outcome is only logged and counted.
func (r *Repository) pushAsync(ctx context.Context, op, id string) {
	if !r.hasRemote || !r.monitor.IsOnline() {
		metrics.OpportunisticCalls.WithLabelValues(op, string(intsync.PushSkipped)).Inc()
		return
	}

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RemoteTimeout)
		defer cancel()

		out, err := r.sync.Push(callCtx, id)
		metrics.OpportunisticCalls.WithLabelValues(op, string(out)).Inc()
		if err != nil {
			logging.Ctx(ctx).Debug().Err(err).Str("op", op).Str("record_id", id).Msg("Immediate remote call deferred")
		}
	}()
}

// syncAsync starts a pass in the background after a batch write. A pass
// already in flight makes this a no-op.
func (r *Repository) syncAsync(ctx context.Context, op string) {
	if !r.hasRemote || !r.monitor.IsOnline() {
		metrics.OpportunisticCalls.WithLabelValues(op, string(intsync.PushSkipped)).Inc()
		return
	}

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		res, err := r.sync.TriggerSync(context.WithoutCancel(ctx))
		outcome := intsync.PushDeferred
		switch {
		case err != nil:
			logging.Ctx(ctx).Warn().Err(err).Str("op", op).Msg("Post-write sync pass failed")
		case res.Skipped || res.Offline:
			outcome = intsync.PushSkipped
		case res.SyncedCount > 0:
			outcome = intsync.PushSynced
		}
		metrics.OpportunisticCalls.WithLabelValues(op, string(outcome)).Inc()
	}()
}

// deleteRemoteAsync attempts the remote delete right away. With an outbox
// the tombstone stays queued until the retry loop confirms it.
func (r *Repository) deleteRemoteAsync(ctx context.Context, id, serverID, entryID string) {
	if !r.hasRemote || !r.monitor.IsOnline() {
		metrics.OpportunisticCalls.WithLabelValues("delete", string(intsync.PushSkipped)).Inc()
		return
	}

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RemoteTimeout)
		defer cancel()

		var err error
		if r.deletes != nil && entryID != "" {
			err = r.deletes.DeliverNow(callCtx, entryID)
		} else {
			err = r.api.Delete(callCtx, serverID)
		}

		outcome := intsync.PushSynced
		if err != nil {
			outcome = intsync.PushDeferred
			logging.Ctx(ctx).Debug().Err(err).Str("record_id", id).Str("server_id", serverID).Msg("Immediate remote delete deferred")
		}
		metrics.OpportunisticCalls.WithLabelValues("delete", string(outcome)).Inc()
	}()
}

// deleteOrphan schedules the remote delete of a record whose create was
// acknowledged after the local copy was deleted.
func (r *Repository) deleteOrphan(id, serverID string) {
	ctx := context.Background()
	var entryID string
	if r.outbox != nil {
		var err error
		entryID, err = r.outbox.Write(ctx, tombstone(id, serverID, r.now()))
		if err != nil {
			logging.Error().Err(err).Str("record_id", id).Str("server_id", serverID).Msg("Failed to persist remote delete of orphaned record")
		}
	}
	r.deleteRemoteAsync(ctx, id, serverID, entryID)
}

func tombstone(id, serverID string, at time.Time) wal.Tombstone {
	return wal.Tombstone{RecordID: id, ServerID: serverID, DeletedAt: at.UTC()}
}
