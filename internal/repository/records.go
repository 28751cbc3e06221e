// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/telemetrysync/internal/database"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/validation"
)

// Create stores a record locally. A record whose id already exists is
// overwritten and queued for sync again. An empty id is assigned.
func (r *Repository) Create(ctx context.Context, rec *models.TelemetryRecord) (*models.TelemetryRecord, error) {
	if rec == nil {
		return nil, models.NewValidationError("", "record", "record is required")
	}
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	stored, err := r.write(ctx, rec, false)
	if err != nil {
		return nil, err
	}
	r.afterWrite(ctx, "create", stored)
	return stored, nil
}

// Update replaces an existing record. It fails with models.ErrNotFound for
// unknown ids. The server id and creation time of the stored copy are kept.
func (r *Repository) Update(ctx context.Context, rec *models.TelemetryRecord) (*models.TelemetryRecord, error) {
	if rec == nil {
		return nil, models.NewValidationError("", "record", "record is required")
	}
	if rec.ID == "" {
		return nil, models.NewValidationError("", "id", "id is required")
	}

	stored, err := r.write(ctx, rec.Clone(), true)
	if err != nil {
		return nil, err
	}
	r.afterWrite(ctx, "update", stored)
	return stored, nil
}

// CreateBatch stores many records in one local transaction. Invalid items
// are reported per item and do not prevent the others from being stored.
// An error is returned only when the local commit fails.
func (r *Repository) CreateBatch(ctx context.Context, records []*models.TelemetryRecord) (*models.BatchOperationResult, error) {
	return r.writeBatch(ctx, "create_batch", records, false)
}

// UpdateBatch replaces many existing records. Unknown ids are reported as
// NOT_FOUND items.
func (r *Repository) UpdateBatch(ctx context.Context, records []*models.TelemetryRecord) (*models.BatchOperationResult, error) {
	return r.writeBatch(ctx, "update_batch", records, true)
}

// write validates and commits one record under its lock.
func (r *Repository) write(ctx context.Context, rec *models.TelemetryRecord, mustExist bool) (*models.TelemetryRecord, error) {
	unlock := r.store.LockRecord(rec.ID)
	defer unlock()

	current, err := r.store.GetWithStatus(ctx, rec.ID)
	if err != nil && !database.IsNotFound(err) {
		return nil, err
	}
	if current == nil && mustExist {
		return nil, fmt.Errorf("record %s: %w", rec.ID, models.ErrNotFound)
	}

	st := r.prepare(rec, current)
	if err := validation.ValidateRecord(rec); err != nil {
		return nil, err
	}

	if current == nil {
		err = r.store.Insert(ctx, rec)
	} else {
		err = r.store.InsertWithStatus(ctx, rec, st)
	}
	if err != nil {
		return nil, err
	}
	r.cache.Set(rec.ID, rec.Clone())
	return rec.Clone(), nil
}

func (r *Repository) writeBatch(ctx context.Context, op string, records []*models.TelemetryRecord, mustExist bool) (*models.BatchOperationResult, error) {
	var failed []models.BatchItemFailure
	fail := func(i int, id, code, msg string) {
		failed = append(failed, models.BatchItemFailure{ItemID: id, Index: i, Error: msg, Code: code})
	}

	items := make([]batchItem, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i, rec := range records {
		switch {
		case rec == nil:
			fail(i, "", models.ItemCodeValidation, "record is required")
			continue
		case rec.ID == "" && mustExist:
			fail(i, "", models.ItemCodeValidation, "id is required")
			continue
		}
		rec = rec.Clone()
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if seen[rec.ID] {
			fail(i, rec.ID, models.ItemCodeValidation, "duplicate id in batch")
			continue
		}
		seen[rec.ID] = true
		items = append(items, batchItem{index: i, rec: rec})
	}

	toStore, err := r.commitBatch(ctx, items, mustExist, fail)
	if err != nil {
		return nil, err
	}

	stored := make([]*models.TelemetryRecord, len(toStore))
	for i, rec := range toStore {
		stored[i] = rec.Clone()
		r.publishUpdated(rec)
	}
	if len(stored) > 0 {
		r.syncAsync(ctx, op)
	}

	logging.Ctx(ctx).Debug().Str("op", op).Int("stored", len(stored)).Int("rejected", len(failed)).Msg("Batch write committed")
	return models.NewBatchResult(stored, failed), nil
}

type batchItem struct {
	index int
	rec   *models.TelemetryRecord
}

// commitBatch stores the valid items in one transaction while holding
// their locks. Locks are taken in id order so concurrent batches cannot
// deadlock.
func (r *Repository) commitBatch(ctx context.Context, items []batchItem, mustExist bool, fail func(i int, id, code, msg string)) ([]*models.TelemetryRecord, error) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.rec.ID
	}
	slices.Sort(ids)
	for _, id := range ids {
		unlock := r.store.LockRecord(id)
		defer unlock()
	}

	toStore := make([]*models.TelemetryRecord, 0, len(items))
	statuses := make([]models.SyncStatus, 0, len(items))
	for _, it := range items {
		current, err := r.store.GetWithStatus(ctx, it.rec.ID)
		if err != nil && !database.IsNotFound(err) {
			return nil, err
		}
		if current == nil && mustExist {
			fail(it.index, it.rec.ID, models.ItemCodeNotFound, models.ErrNotFound.Error())
			continue
		}
		st := r.prepare(it.rec, current)
		if err := validation.ValidateRecord(it.rec); err != nil {
			fail(it.index, it.rec.ID, models.ItemCodeValidation, err.Error())
			continue
		}
		toStore = append(toStore, it.rec)
		statuses = append(statuses, st)
	}

	if len(toStore) > 0 {
		if err := r.store.InsertBatchWithStatus(ctx, toStore, statuses); err != nil {
			return nil, err
		}
		for _, rec := range toStore {
			r.cache.Set(rec.ID, rec.Clone())
		}
	}
	return toStore, nil
}

// prepare fills timestamps and carries server-owned fields over from the
// stored copy. It returns the status the record is written with. An edit
// moves the record to Pending but keeps its retry count and last attempt;
// only a successful sync or Requeue resets them. Terminal Failed records
// stay Failed, and InProgress records stay InProgress (the sync manager
// notices the newer UpdatedAt and requeues).
func (r *Repository) prepare(rec *models.TelemetryRecord, current *models.RecordWithStatus) models.SyncStatus {
	now := r.now().UTC().Truncate(time.Millisecond)

	if current == nil {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.UpdatedAt.IsZero() || rec.UpdatedAt.Before(rec.CreatedAt) {
			rec.UpdatedAt = rec.CreatedAt
		}
		return models.NewPendingStatus(rec.ID)
	}

	prev := current.Record
	rec.CreatedAt = prev.CreatedAt
	rec.ServerID = nil
	if prev.ServerID != nil {
		serverID := *prev.ServerID
		rec.ServerID = &serverID
	}
	rec.UpdatedAt = now
	if !rec.UpdatedAt.After(prev.UpdatedAt) {
		rec.UpdatedAt = prev.UpdatedAt.Add(time.Millisecond)
	}

	st := current.Status
	switch st.State {
	case models.SyncStateInProgress, models.SyncStateFailed:
		return st
	}
	st.State = models.SyncStatePending
	return st
}

func (r *Repository) afterWrite(ctx context.Context, op string, rec *models.TelemetryRecord) {
	r.publishUpdated(rec)
	r.pushAsync(ctx, op, rec.ID)
}

func (r *Repository) publishUpdated(rec *models.TelemetryRecord) {
	rec = rec.Clone()
	r.publish(func(ctx context.Context) error { return r.bus.PublishRecordUpdated(ctx, rec) })
}

// GetByID returns a record from the cache or the local store.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.TelemetryRecord, error) {
	if rec, ok := r.cache.Get(id); ok {
		return rec.Clone(), nil
	}

	// Fill under the record lock so a concurrent write or delete cannot be
	// overwritten by the copy read here.
	unlock := r.store.LockRecord(id)
	defer unlock()
	if rec, ok := r.cache.Get(id); ok {
		return rec.Clone(), nil
	}
	rec, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(id, rec.Clone())
	return rec, nil
}

// GetWithStatus returns a record and its sync status. The status is not
// cached, so this always reads the local store.
func (r *Repository) GetWithStatus(ctx context.Context, id string) (*models.RecordWithStatus, error) {
	return r.store.GetWithStatus(ctx, id)
}

// GetByIDs returns the records that exist in the order of ids. Missing ids
// are skipped.
func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]*models.TelemetryRecord, error) {
	found := make(map[string]*models.TelemetryRecord, len(ids))
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		if rec, ok := r.cache.Get(id); ok {
			found[id] = rec.Clone()
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		if err := r.loadMissing(ctx, missing, found); err != nil {
			return nil, err
		}
	}

	out := make([]*models.TelemetryRecord, 0, len(found))
	emitted := make(map[string]bool, len(found))
	for _, id := range ids {
		if rec, ok := found[id]; ok && !emitted[id] {
			emitted[id] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

// loadMissing reads ids from the store and fills the cache while holding
// their locks, taken in id order like commitBatch.
func (r *Repository) loadMissing(ctx context.Context, ids []string, found map[string]*models.TelemetryRecord) error {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	for _, id := range sorted {
		unlock := r.store.LockRecord(id)
		defer unlock()
	}

	loaded, err := r.store.GetByIDs(ctx, sorted)
	if err != nil {
		return err
	}
	for _, rec := range loaded {
		r.cache.Set(rec.ID, rec.Clone())
		found[rec.ID] = rec
	}
	return nil
}

// QueryOptions tunes Query.
type QueryOptions struct {
	// RefreshRemote merges matching remote records into the local store
	// first. It is ignored while offline.
	RefreshRemote bool
}

// Query returns local records matching the filter.
func (r *Repository) Query(ctx context.Context, f models.RecordFilter, opts QueryOptions) ([]*models.TelemetryRecord, error) {
	rows, err := r.QueryWithStatus(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*models.TelemetryRecord, len(rows))
	for i, rws := range rows {
		out[i] = rws.Record
	}
	return out, nil
}

// QueryWithStatus is Query with each record's sync status.
func (r *Repository) QueryWithStatus(ctx context.Context, f models.RecordFilter, opts QueryOptions) ([]*models.RecordWithStatus, error) {
	if err := validation.ValidateFilter(f); err != nil {
		return nil, err
	}
	if opts.RefreshRemote {
		if n, err := r.refreshFromRemote(ctx, f); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Remote refresh failed, serving local records")
		} else if n > 0 {
			logging.Ctx(ctx).Debug().Int("merged", n).Msg("Merged remote records")
		}
	}
	return r.store.QueryWithStatus(ctx, f)
}

// Count returns the number of local records matching the filter. Limit and
// Offset are ignored.
func (r *Repository) Count(ctx context.Context, f models.RecordFilter) (int, error) {
	if err := validation.ValidateFilter(f); err != nil {
		return 0, err
	}
	return r.store.CountWhere(ctx, f)
}

// refreshFromRemote pulls matching remote records into the local store.
// Unknown records are inserted as Synced; Synced local copies are replaced
// when the remote copy is newer. Records with unsynced local changes and
// records with a pending remote delete are left alone.
func (r *Repository) refreshFromRemote(ctx context.Context, f models.RecordFilter) (int, error) {
	if !r.hasRemote || !r.monitor.IsOnline() {
		return 0, nil
	}

	remoteFilter := f
	remoteFilter.SyncStates = nil

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.RemoteTimeout)
	defer cancel()
	remoteRecords, err := r.api.Query(callCtx, remoteFilter)
	if err != nil {
		return 0, err
	}

	deleting, err := r.pendingDeletes(ctx)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, rr := range remoteRecords {
		if rr == nil || rr.ID == "" || !rr.HasServerID() || deleting[rr.ServerIDValue()] {
			continue
		}
		ok, err := r.mergeRemote(ctx, rr)
		if err != nil {
			return merged, err
		}
		if ok {
			merged++
		}
	}
	return merged, nil
}

func (r *Repository) mergeRemote(ctx context.Context, rr *models.TelemetryRecord) (bool, error) {
	unlock := r.store.LockRecord(rr.ID)
	defer unlock()

	current, err := r.store.GetWithStatus(ctx, rr.ID)
	if err != nil && !database.IsNotFound(err) {
		return false, err
	}

	rec := rr.Clone()
	var st models.SyncStatus
	switch {
	case current == nil:
		st = models.NewPendingStatus(rec.ID)
	case current.Status.State == models.SyncStateSynced && rec.UpdatedAt.After(current.Record.UpdatedAt):
		st = current.Status
		rec.CreatedAt = current.Record.CreatedAt
	default:
		return false, nil
	}
	now := r.now().UTC()
	st.State = models.SyncStateSynced
	st.RetryCount = 0
	st.ErrorMessage = ""
	st.LastSuccess = &now

	if err := validation.ValidateRecord(rec); err != nil {
		logging.Warn().Err(err).Str("record_id", rec.ID).Msg("Skipping invalid remote record")
		return false, nil
	}
	if err := r.store.InsertWithStatus(ctx, rec, st); err != nil {
		return false, err
	}
	r.cache.Set(rec.ID, rec.Clone())
	r.publishUpdated(rec)
	return true, nil
}

func (r *Repository) pendingDeletes(ctx context.Context) (map[string]bool, error) {
	out := map[string]bool{}
	if r.outbox == nil {
		return out, nil
	}
	entries, err := r.outbox.GetPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("read delete outbox: %w", err)
	}
	for _, e := range entries {
		out[e.Tombstone.ServerID] = true
	}
	return out, nil
}

// Delete removes a record locally. When the record was already synced, a
// tombstone is persisted first so the remote copy is deleted even if the
// immediate attempt fails. It reports whether the record existed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	unlock := r.store.LockRecord(id)

	current, err := r.store.GetWithStatus(ctx, id)
	if err != nil {
		unlock()
		if database.IsNotFound(err) {
			r.cache.Delete(id)
			return false, nil
		}
		return false, err
	}

	serverID := current.Record.ServerIDValue()
	var entryID string
	if serverID != "" && r.outbox != nil {
		entryID, err = r.outbox.Write(ctx, tombstone(id, serverID, r.now()))
		if err != nil {
			unlock()
			return false, fmt.Errorf("persist remote delete: %w", err)
		}
	}

	existed, err := r.store.Delete(ctx, id)
	if err != nil {
		unlock()
		if entryID != "" {
			if derr := r.outbox.Drop(context.WithoutCancel(ctx), entryID); derr != nil {
				logging.Error().Err(derr).Str("record_id", id).Msg("Failed to withdraw remote delete")
			}
		}
		return false, err
	}
	r.cache.Delete(id)
	unlock()

	deletedAt := r.now()
	r.publish(func(ctx context.Context) error { return r.bus.PublishRecordDeleted(ctx, id, serverID, deletedAt) })
	if serverID != "" {
		r.deleteRemoteAsync(ctx, id, serverID, entryID)
	}
	return existed, nil
}

// Cleanup removes Synced records whose event time is before olderThan and
// flushes the cache. Unsynced records are never removed. It returns the
// number of records deleted.
func (r *Repository) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	if olderThan.IsZero() {
		return 0, models.NewValidationError("", "older_than", "cutoff is required")
	}
	removed, err := r.store.DeleteWhere(ctx, olderThan, true)
	if err != nil {
		return 0, err
	}
	flushed := r.cache.Clear()

	at := r.now()
	for _, id := range removed {
		r.publish(func(ctx context.Context) error { return r.bus.PublishRecordDeleted(ctx, id, "", at) })
	}

	logging.Ctx(ctx).Info().
		Time("older_than", olderThan).
		Int("removed", len(removed)).
		Int("cache_flushed", flushed).
		Msg("Cleanup completed")
	return len(removed), nil
}
