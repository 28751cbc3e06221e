// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/tomtom215/telemetrysync/internal/events"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/validation"
)

// topicWatchQuery labels drops on live query channels.
const topicWatchQuery = "telemetry.watch.query"

// SubscribeRecordUpdates streams records after every local write and every
// sync that changed them. A non-empty id restricts the stream to one record.
func (r *Repository) SubscribeRecordUpdates(id string) (<-chan *models.TelemetryRecord, events.Unsubscribe, error) {
	opts := events.SubscribeOptions[*models.TelemetryRecord]{}
	if id != "" {
		opts.Filter = func(rec *models.TelemetryRecord) bool { return rec != nil && rec.ID == id }
	}
	return events.Subscribe(r.bus, events.TopicRecordUpdated, opts)
}

// SubscribeRecordDeletes streams local deletes.
func (r *Repository) SubscribeRecordDeletes() (<-chan events.RecordDeleted, events.Unsubscribe, error) {
	return events.Subscribe(r.bus, events.TopicRecordDeleted, events.SubscribeOptions[events.RecordDeleted]{})
}

// SubscribeSyncStatus streams sync-status transitions, optionally for one
// record only.
func (r *Repository) SubscribeSyncStatus(id string) (<-chan models.StatusTransition, events.Unsubscribe, error) {
	opts := events.SubscribeOptions[models.StatusTransition]{}
	if id != "" {
		opts.Filter = func(t models.StatusTransition) bool { return t.RecordID == id }
	}
	return events.Subscribe(r.bus, events.TopicSyncStatus, opts)
}

// SubscribeSyncCompleted streams the result of every finished pass.
func (r *Repository) SubscribeSyncCompleted() (<-chan *models.SyncResult, events.Unsubscribe, error) {
	return events.Subscribe(r.bus, events.TopicSyncCompleted, events.SubscribeOptions[*models.SyncResult]{})
}

// SubscribePendingCount streams the number of records awaiting sync. The
// channel holds only the latest count, and the current value is published
// as soon as the subscription exists.
func (r *Repository) SubscribePendingCount(ctx context.Context) (<-chan events.PendingCount, events.Unsubscribe, error) {
	ch, unsub, err := events.Subscribe(r.bus, events.TopicPendingCount, events.SubscribeOptions[events.PendingCount]{Buffer: 1})
	if err != nil {
		return nil, nil, err
	}
	r.publishPendingCount(ctx)
	return ch, unsub, nil
}

// WatchQuery streams the result of a filtered query: the current result
// first, then a fresh result whenever a change may affect it.
//
// A change is relevant when the written record matches the filter or is
// already part of the result. Status transitions only matter for filters on
// SyncStates. The channel holds the latest result only; a reader that falls
// behind skips intermediate results.
func (r *Repository) WatchQuery(ctx context.Context, f models.RecordFilter) (<-chan []*models.TelemetryRecord, events.Unsubscribe, error) {
	if err := validation.ValidateFilter(f); err != nil {
		return nil, nil, err
	}

	updates, unsubUpdates, err := r.SubscribeRecordUpdates("")
	if err != nil {
		return nil, nil, err
	}
	deletes, unsubDeletes, err := r.SubscribeRecordDeletes()
	if err != nil {
		unsubUpdates()
		return nil, nil, err
	}
	var (
		statuses     <-chan models.StatusTransition
		unsubStatus  events.Unsubscribe = func() {}
		stateFilters                    = len(f.SyncStates) > 0
	)
	if stateFilters {
		statuses, unsubStatus, err = r.SubscribeSyncStatus("")
		if err != nil {
			unsubUpdates()
			unsubDeletes()
			return nil, nil, err
		}
	}

	// Record shape only; the status is not carried on update events.
	shape := f
	shape.SyncStates = nil

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []*models.TelemetryRecord, 1)
	done := make(chan struct{})

	w := &queryWatch{repo: r, filter: f, out: out}

	go func() {
		defer close(done)
		defer close(out)
		defer unsubStatus()
		defer unsubDeletes()
		defer unsubUpdates()

		w.refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-updates:
				if !ok {
					return
				}
				if rec != nil && (shape.Matches(rec, "") || w.contains(rec.ID)) {
					w.refresh(ctx)
				}
			case d, ok := <-deletes:
				if !ok {
					return
				}
				if w.contains(d.RecordID) {
					w.refresh(ctx)
				}
			case t, ok := <-statuses:
				if !ok {
					return
				}
				if slices.Contains(f.SyncStates, t.To) || w.contains(t.RecordID) {
					w.refresh(ctx)
				}
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			go func() {
				for range out {
				}
			}()
			<-done
		})
	}
	return out, unsubscribe, nil
}

type queryWatch struct {
	repo   *Repository
	filter models.RecordFilter
	out    chan []*models.TelemetryRecord
	ids    map[string]struct{}
}

func (w *queryWatch) contains(id string) bool {
	_, ok := w.ids[id]
	return ok
}

func (w *queryWatch) refresh(ctx context.Context) {
	records, err := w.repo.Query(ctx, w.filter, QueryOptions{})
	if err != nil {
		if ctx.Err() == nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Live query refresh failed")
		}
		return
	}
	w.ids = make(map[string]struct{}, len(records))
	for _, rec := range records {
		w.ids[rec.ID] = struct{}{}
	}
	events.SendLatest(w.out, records, topicWatchQuery)
}
