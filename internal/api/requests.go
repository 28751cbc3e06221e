// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package api

import (
	"time"

	"github.com/tomtom215/telemetrysync/internal/models"
)

// DefaultPageSize is the record listing limit when none is given.
const DefaultPageSize = 100

// RecordsQueryRequest holds the raw query parameters of record listings
// and counts, validated before they are turned into a RecordFilter.
type RecordsQueryRequest struct {
	Kinds      []string `json:"kind" validate:"omitempty,dive,telemetry_kind"`
	SourceID   string   `json:"source_id" validate:"max=128"`
	From       string   `json:"from" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	To         string   `json:"to" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	SyncStates []string `json:"sync_state" validate:"omitempty,dive,oneof=pending in_progress synced failed"`
	Sort       string   `json:"sort" validate:"omitempty,oneof=timestamp_asc timestamp_desc created_asc created_desc"`
	Limit      int      `json:"limit" validate:"min=0,max=10000"`
	Offset     int      `json:"offset" validate:"min=0"`
}

// Filter converts the validated request into a RecordFilter.
func (q RecordsQueryRequest) Filter() (models.RecordFilter, error) {
	f := models.RecordFilter{
		Kinds:    q.Kinds,
		SourceID: q.SourceID,
		Sort:     models.SortOrder(q.Sort),
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	for param, pair := range map[string]struct {
		raw string
		dst **time.Time
	}{"from": {q.From, &f.From}, "to": {q.To, &f.To}} {
		if pair.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, pair.raw)
		if err != nil {
			return f, models.NewValidationError("", param, param+" must be an RFC3339 timestamp")
		}
		*pair.dst = &t
	}
	for _, s := range q.SyncStates {
		state, err := models.ParseSyncState(s)
		if err != nil {
			return f, models.NewValidationError("", "sync_state", err.Error())
		}
		f.SyncStates = append(f.SyncStates, state)
	}
	return f, nil
}

// BatchRequest is the body of the batch write endpoints. Records are
// validated one by one by the repository so a bad item does not reject the
// whole batch.
type BatchRequest struct {
	Records []*models.TelemetryRecord `json:"records" validate:"required,min=1,max=500"`
}

// CleanupRequest is the body of POST /cleanup. Exactly one of OlderThan and
// OlderThanDays must be set.
type CleanupRequest struct {
	OlderThan     *time.Time `json:"older_than,omitempty" validate:"required_without=OlderThanDays,excluded_with=OlderThanDays"`
	OlderThanDays int        `json:"older_than_days,omitempty" validate:"omitempty,min=1,max=3650"`
}

// Cutoff returns the cleanup cutoff relative to now.
func (c CleanupRequest) Cutoff(now time.Time) time.Time {
	if c.OlderThan != nil {
		return *c.OlderThan
	}
	return now.AddDate(0, 0, -c.OlderThanDays)
}
