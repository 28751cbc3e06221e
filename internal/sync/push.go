// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package sync

import (
	"context"
	"fmt"

	"github.com/tomtom215/telemetrysync/internal/database"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/models"
)

// PushOutcome is the result of a single-record push.
type PushOutcome string

const (
	// PushSynced means the record reached Synced.
	PushSynced PushOutcome = "synced"
	// PushDeferred means the remote call failed or the record changed while
	// in flight; it stays Pending for the next pass.
	PushDeferred PushOutcome = "deferred"
	// PushSkipped means nothing was sent: offline, claimed elsewhere, or not Pending.
	PushSkipped PushOutcome = "skipped"
)

// Push sends one Pending record to the remote outside of a pass. It is the
// best-effort call made right after a local write.
//
// A failed push does not count as an attempt: the record returns to its
// previous status and the next pass picks it up. Conflicts are not resolved
// here either; the pass that retries the record does that.
func (m *Manager) Push(ctx context.Context, id string) (PushOutcome, error) {
	if !m.monitor.IsOnline() {
		return PushSkipped, nil
	}
	if len(m.claims.Claim(id)) == 0 {
		return PushSkipped, nil
	}
	defer m.claims.Release(id)

	wctx := context.WithoutCancel(ctx)

	rws, err := m.store.GetWithStatus(wctx, id)
	if err != nil {
		if database.IsNotFound(err) {
			return PushSkipped, nil
		}
		return PushSkipped, fmt.Errorf("load record %s: %w", id, err)
	}
	if rws.Status.State != models.SyncStatePending {
		return PushSkipped, nil
	}

	claimed, err := m.store.MarkInProgress(wctx, []string{id}, m.now())
	if err != nil {
		return PushSkipped, fmt.Errorf("claim record %s: %w", id, err)
	}
	if len(claimed) == 0 {
		return PushSkipped, nil
	}
	inProgress := rws.Status
	inProgress.State = models.SyncStateInProgress
	m.emitTransition(id, rws.Status.State, inProgress)

	var srv *models.TelemetryRecord
	if rws.Record.HasServerID() {
		srv, err = m.api.Update(ctx, rws.Record.Clone(), false)
	} else {
		srv, err = m.api.Create(ctx, rws.Record.Clone())
	}
	if err != nil {
		m.revert(wctx, []*models.RecordWithStatus{rws})
		logging.Ctx(ctx).Debug().Err(err).Str("record_id", id).Msg("Immediate push failed, deferring to next sync pass")
		return PushDeferred, err
	}

	ps := &passState{}
	m.settleSuccess(wctx, rws, srv, ps)
	if len(ps.syncedIDs) == 1 {
		return PushSynced, nil
	}
	return PushDeferred, nil
}
