// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package sync

import (
	"context"
	"errors"

	"github.com/tomtom215/telemetrysync/internal/database"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/remote"
)

// runBatch sends one batch and settles every member.
func (m *Manager) runBatch(ctx context.Context, b batch, ps *passState) {
	// Local writes are not cancellable once the remote call was issued.
	wctx := context.WithoutCancel(ctx)

	ids := make([]string, len(b.records))
	for i, rws := range b.records {
		ids[i] = rws.Record.ID
	}
	taken := m.claims.Claim(ids...)
	defer m.claims.Release(taken...)
	if len(taken) == 0 {
		return
	}

	claimed, err := m.store.MarkInProgress(wctx, taken, m.now())
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int("records", len(taken)).Msg("Failed to claim sync batch")
		return
	}
	isClaimed := make(map[string]bool, len(claimed))
	for _, id := range claimed {
		isClaimed[id] = true
	}

	members := make([]*models.RecordWithStatus, 0, len(claimed))
	byID := make(map[string]*models.RecordWithStatus, len(claimed))
	sent := make([]*models.TelemetryRecord, 0, len(claimed))
	for _, rws := range b.records {
		if !isClaimed[rws.Record.ID] {
			continue
		}
		members = append(members, rws)
		byID[rws.Record.ID] = rws
		sent = append(sent, rws.Record.Clone())

		st := rws.Status
		st.State = models.SyncStateInProgress
		m.emitTransition(rws.Record.ID, rws.Status.State, st)
	}
	if len(members) == 0 {
		return
	}

	var res *models.BatchOperationResult
	if b.update {
		res, err = m.api.UpdateBatch(ctx, sent, false)
	} else {
		res, err = m.api.CreateBatch(ctx, sent)
	}
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a failed attempt.
			m.revert(wctx, members)
			return
		}
		var ve *models.ValidationError
		if errors.As(err, &ve) && len(sent) > 1 {
			logging.Ctx(ctx).Warn().Err(err).Bool("update", b.update).Int("records", len(sent)).Msg("Sync batch rejected as a whole, sending records one by one")
			res = m.sendEach(ctx, sent, b.update)
		} else {
			logging.Ctx(ctx).Warn().Err(err).Bool("update", b.update).Int("records", len(sent)).Msg("Sync batch call failed")
			res = remote.FailBatch(sent, err)
		}
	}

	settled := make(map[string]bool, len(members))
	for _, srv := range res.Successful {
		rws := byID[srv.ID]
		if rws == nil || settled[srv.ID] {
			continue
		}
		settled[srv.ID] = true
		m.settleSuccess(wctx, rws, srv, ps)
	}
	for _, f := range res.Failed {
		rws := byID[f.ItemID]
		if rws == nil && f.Index >= 0 && f.Index < len(sent) {
			rws = byID[sent[f.Index].ID]
		}
		if rws == nil || settled[rws.Record.ID] {
			continue
		}
		settled[rws.Record.ID] = true
		if f.Code == models.ItemCodeConflict {
			m.resolveConflict(ctx, rws, f.Error, ps)
			continue
		}
		m.settleFailure(wctx, rws, f.Code, f.Error, f.Retryable(), ps)
	}
	for _, rws := range members {
		if !settled[rws.Record.ID] {
			m.settleFailure(wctx, rws, models.ItemCodeInternal, "missing from batch response", true, ps)
		}
	}
}

// sendEach sends the records of a rejected batch individually so a single
// malformed record does not take the rest of the batch down with it.
func (m *Manager) sendEach(ctx context.Context, records []*models.TelemetryRecord, update bool) *models.BatchOperationResult {
	var ok []*models.TelemetryRecord
	var failed []models.BatchItemFailure
	for i, r := range records {
		var srv *models.TelemetryRecord
		var err error
		if update {
			srv, err = m.api.Update(ctx, r, false)
		} else {
			srv, err = m.api.Create(ctx, r)
		}
		if err != nil {
			failed = append(failed, models.BatchItemFailure{ItemID: r.ID, Index: i, Error: err.Error(), Code: remote.ItemCode(err)})
			continue
		}
		if srv == nil {
			failed = append(failed, models.BatchItemFailure{ItemID: r.ID, Index: i, Error: "empty response", Code: models.ItemCodeInternal})
			continue
		}
		if srv.ID == "" {
			srv.ID = r.ID
		}
		ok = append(ok, srv)
	}
	return models.NewBatchResult(ok, failed)
}

// settleSuccess attaches the server id and marks the record Synced. A record
// edited locally while the call was in flight keeps the server id but stays
// Pending so the edit goes out with the next pass.
func (m *Manager) settleSuccess(ctx context.Context, sent *models.RecordWithStatus, srv *models.TelemetryRecord, ps *passState) {
	id := sent.Record.ID
	serverID := srv.ServerIDValue()
	if serverID == "" {
		serverID = sent.Record.ServerIDValue()
	}
	if serverID == "" {
		m.settleFailure(ctx, sent, models.ItemCodeInternal, "remote acknowledged the record without a server id", true, ps)
		return
	}

	unlock := m.store.LockRecord(id)
	defer unlock()

	current, err := m.store.GetWithStatus(ctx, id)
	if err != nil {
		if database.IsNotFound(err) {
			// With a server id known beforehand, Delete already queued the
			// remote delete.
			if !sent.Record.HasServerID() {
				m.emitOrphan(id, serverID)
			}
			return
		}
		logging.Error().Err(err).Str("record_id", id).Msg("Failed to load synced record")
		return
	}

	rec := current.Record
	rec.ServerID = &serverID

	if current.Status.State != models.SyncStateInProgress || !rec.UpdatedAt.Equal(sent.Record.UpdatedAt) {
		st := current.Status
		if st.State == models.SyncStateInProgress {
			st.State = models.SyncStatePending
		}
		if err := m.store.InsertWithStatus(ctx, rec, st); err != nil {
			logging.Error().Err(err).Str("record_id", id).Msg("Failed to attach server id to edited record")
			return
		}
		m.emitTransition(id, current.Status.State, st)
		if m.cache != nil {
			m.cache.Set(id, rec.Clone())
		}
		return
	}

	if err := m.store.MarkSynced(ctx, id, serverID, m.now()); err != nil {
		logging.Error().Err(err).Str("record_id", id).Msg("Failed to mark record synced")
		return
	}

	st := current.Status
	_ = st.MarkSynced(m.now())
	m.emitTransition(id, current.Status.State, st)
	m.emitRecord(rec)
	ps.synced(id)
}

// settleFailure charges one attempt to the record. Non-retryable failures
// and records out of retries become terminal Failed.
func (m *Manager) settleFailure(ctx context.Context, sent *models.RecordWithStatus, code, msg string, retryable bool, ps *passState) {
	id := sent.Record.ID
	unlock := m.store.LockRecord(id)
	defer unlock()

	st, err := m.store.GetStatus(ctx, id)
	if err != nil {
		if !database.IsNotFound(err) {
			logging.Error().Err(err).Str("record_id", id).Msg("Failed to load sync status")
		}
		return
	}
	if st.State != models.SyncStateInProgress {
		// Edited or requeued while in flight; the attempt no longer applies.
		return
	}

	from := st.State
	if err := st.MarkFailedAttempt(m.now(), msg, m.cfg.MaxRetries, retryable); err != nil {
		logging.Error().Err(err).Str("record_id", id).Msg("Illegal sync transition")
		return
	}
	if err := m.store.UpdateSyncStatus(ctx, st); err != nil {
		logging.Error().Err(err).Str("record_id", id).Msg("Failed to record sync failure")
		return
	}

	terminal := st.State == models.SyncStateFailed
	event := logging.Debug()
	if terminal {
		event = logging.Warn()
	}
	event.Str("record_id", id).
		Str("code", code).
		Int("retry_count", st.RetryCount).
		Bool("terminal", terminal).
		Str("error", msg).
		Msg("Record sync attempt failed")

	m.emitTransition(id, from, st)
	ps.failed(models.SyncFailure{
		RecordID:   id,
		Error:      msg,
		Code:       code,
		RetryCount: st.RetryCount,
		Terminal:   terminal,
	})
}

// resolveConflict settles a CONFLICT item last-write-wins on UpdatedAt. The
// local copy wins only when strictly newer; it is then resent with force.
// Otherwise the remote copy overwrites the local record.
func (m *Manager) resolveConflict(ctx context.Context, sent *models.RecordWithStatus, msg string, ps *passState) {
	wctx := context.WithoutCancel(ctx)
	id := sent.Record.ID
	serverID := sent.Record.ServerIDValue()
	if serverID == "" {
		m.settleFailure(wctx, sent, models.ItemCodeConflict, msg, true, ps)
		return
	}

	remoteCopy, err := m.api.Get(ctx, serverID)
	if err != nil {
		code := remote.ItemCode(err)
		m.settleFailure(wctx, sent, code, err.Error(), code != models.ItemCodeValidation, ps)
		return
	}

	conflict := &models.ConflictError{
		RecordID:        id,
		ServerID:        serverID,
		LocalUpdatedAt:  sent.Record.UpdatedAt,
		RemoteUpdatedAt: remoteCopy.UpdatedAt,
		Message:         msg,
	}

	if sent.Record.UpdatedAt.After(remoteCopy.UpdatedAt) {
		metrics.SyncConflictsTotal.WithLabelValues("local").Inc()
		logging.Warn().Err(conflict).Str("winner", "local").Msg("Sync conflict resolved")

		updated, err := m.api.Update(ctx, sent.Record, true)
		if err != nil {
			code := remote.ItemCode(err)
			m.settleFailure(wctx, sent, code, err.Error(), code != models.ItemCodeValidation, ps)
			return
		}
		m.settleSuccess(wctx, sent, updated, ps)
		return
	}

	metrics.SyncConflictsTotal.WithLabelValues("remote").Inc()
	logging.Warn().Err(conflict).Str("winner", "remote").Msg("Sync conflict resolved")
	if err := m.adoptRemote(wctx, sent, remoteCopy, ps); err != nil {
		var ve *models.ValidationError
		retryable := !errors.As(err, &ve)
		code := models.ItemCodeInternal
		if !retryable {
			code = models.ItemCodeValidation
		}
		m.settleFailure(wctx, sent, code, "adopt remote copy: "+err.Error(), retryable, ps)
	}
}

// adoptRemote overwrites the local record with the remote copy and marks it
// Synced. An error means the remote copy could not be stored.
func (m *Manager) adoptRemote(ctx context.Context, sent *models.RecordWithStatus, remoteCopy *models.TelemetryRecord, ps *passState) error {
	id := sent.Record.ID
	unlock := m.store.LockRecord(id)
	defer unlock()

	current, err := m.store.GetWithStatus(ctx, id)
	if err != nil {
		if database.IsNotFound(err) {
			return nil
		}
		return err
	}
	if current.Status.State != models.SyncStateInProgress || !current.Record.UpdatedAt.Equal(sent.Record.UpdatedAt) {
		return nil
	}

	rec := remoteCopy.Clone()
	rec.ID = id
	serverID := sent.Record.ServerIDValue()
	rec.ServerID = &serverID

	st := current.Status
	if err := st.MarkSynced(m.now()); err != nil {
		return err
	}
	if err := m.store.InsertWithStatus(ctx, rec, st); err != nil {
		return err
	}

	m.emitTransition(id, current.Status.State, st)
	m.emitRecord(rec)
	ps.synced(id)
	return nil
}

// revert restores the statuses a batch held before it was claimed.
func (m *Manager) revert(ctx context.Context, members []*models.RecordWithStatus) {
	for _, rws := range members {
		func() {
			unlock := m.store.LockRecord(rws.Record.ID)
			defer unlock()

			st, err := m.store.GetStatus(ctx, rws.Record.ID)
			if err != nil || st.State != models.SyncStateInProgress {
				return
			}
			if err := m.store.UpdateSyncStatus(ctx, rws.Status); err != nil {
				logging.Error().Err(err).Str("record_id", rws.Record.ID).Msg("Failed to release sync claim")
				return
			}
			m.emitTransition(rws.Record.ID, models.SyncStateInProgress, rws.Status)
		}()
	}
}
