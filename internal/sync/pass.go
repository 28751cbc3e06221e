// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/telemetrysync/internal/database"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/validation"
)

// batch is a group of records sent in one remote call.
type batch struct {
	update  bool
	records []*models.RecordWithStatus
}

// passState aggregates per-item outcomes across concurrent batches.
type passState struct {
	mu        sync.Mutex
	syncedIDs []string
	failures  []models.SyncFailure
	retried   int
	terminal  int
}

func (p *passState) synced(id string) {
	p.mu.Lock()
	p.syncedIDs = append(p.syncedIDs, id)
	p.mu.Unlock()
}

func (p *passState) failed(f models.SyncFailure) {
	p.mu.Lock()
	p.failures = append(p.failures, f)
	if f.Terminal {
		p.terminal++
	} else {
		p.retried++
	}
	p.mu.Unlock()
}

// Sync runs one pass.
//
// Per-item failures are reported in the result, never as an error. An error
// is returned only when the pass cannot run at all, for example because the
// local store is unreadable.
func (m *Manager) Sync(ctx context.Context, params models.SyncParams) (*models.SyncResult, error) {
	if verr := validation.ValidateStruct(params); verr != nil {
		return nil, verr.ToModelError("")
	}

	if !m.passMu.TryLock() {
		metrics.RecordSyncPass("skipped", 0, 0, 0, 0)
		logging.Ctx(ctx).Debug().Msg("Sync pass already running, skipping")
		return models.NewSkippedResult(), nil
	}
	defer m.passMu.Unlock()

	m.syncing.Store(true)
	defer m.syncing.Store(false)

	start := time.Now()

	if !m.monitor.IsOnline() {
		res := models.NewOfflineResult()
		metrics.RecordSyncPass("offline", time.Since(start), 0, 0, 0)
		logging.Ctx(ctx).Debug().Msg("Offline, sync pass is a no-op")
		m.finishPass(res)
		return res, nil
	}

	batchSize := m.cfg.BatchSize
	if params.BatchSize > 0 {
		batchSize = params.BatchSize
	}
	backoff := m.backoff
	if params.Force {
		backoff = nil
	}

	eligible, err := m.store.SelectEligible(ctx, database.EligibleParams{
		Now:        m.now(),
		MaxRetries: m.cfg.MaxRetries,
		Backoff:    backoff,
		Kinds:      params.Kinds,
	})
	if err != nil {
		metrics.RecordSyncPass("error", time.Since(start), 0, 0, 0)
		return nil, fmt.Errorf("select eligible records: %w", err)
	}

	batches := partition(eligible, batchSize)
	ps := &passState{}
	sem := make(chan struct{}, m.cfg.MaxConcurrentBatches)
	var wg sync.WaitGroup
	started := 0

schedule:
	for _, b := range batches {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break schedule
		}
		// Losing connectivity stops new batches; in-flight ones finish.
		if !m.monitor.IsOnline() {
			<-sem
			logging.Ctx(ctx).Info().
				Int("remaining_batches", len(batches)-started).
				Msg("Connectivity lost, stopping sync pass early")
			break
		}

		started++
		wg.Add(1)
		go func(b batch) {
			defer wg.Done()
			defer func() { <-sem }()
			m.runBatch(ctx, b, ps)
		}(b)
	}
	wg.Wait()

	res := &models.SyncResult{
		SyncedCount: len(ps.syncedIDs),
		FailedCount: len(ps.failures),
		SyncedIDs:   ps.syncedIDs,
		Failures:    ps.failures,
		Timestamp:   m.now().UTC(),
		Batches:     started,
		Duration:    time.Since(start),
	}
	if res.SyncedIDs == nil {
		res.SyncedIDs = []string{}
	}
	if res.Failures == nil {
		res.Failures = []models.SyncFailure{}
	}
	res.Success = res.FailedCount == 0

	outcome := "success"
	if !res.Success {
		outcome = "partial"
	}
	metrics.RecordSyncPass(outcome, res.Duration, res.SyncedCount, ps.retried, ps.terminal)
	m.RefreshPendingCount(context.WithoutCancel(ctx))

	logging.Ctx(ctx).Info().
		Int("eligible", len(eligible)).
		Int("batches", res.Batches).
		Int("synced", res.SyncedCount).
		Int("failed", res.FailedCount).
		Dur("duration", res.Duration).
		Msg("Sync pass completed")

	m.finishPass(res)
	return res, nil
}

// partition splits records into create and update batches of at most size
// records, preserving the oldest-first order within each kind of call.
func partition(records []*models.RecordWithStatus, size int) []batch {
	var out []batch
	var creates, updates []*models.RecordWithStatus

	flush := func(update bool, recs []*models.RecordWithStatus) {
		if len(recs) > 0 {
			out = append(out, batch{update: update, records: recs})
		}
	}

	for _, rws := range records {
		if rws.Record.HasServerID() {
			updates = append(updates, rws)
			if len(updates) == size {
				flush(true, updates)
				updates = nil
			}
			continue
		}
		creates = append(creates, rws)
		if len(creates) == size {
			flush(false, creates)
			creates = nil
		}
	}
	flush(false, creates)
	flush(true, updates)
	return out
}
