// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package models

import (
	"fmt"
	"slices"
	"time"
)

// SortOrder selects the ordering of query results.
type SortOrder string

const (
	SortTimestampAsc  SortOrder = "timestamp_asc"
	SortTimestampDesc SortOrder = "timestamp_desc"
	SortCreatedAsc    SortOrder = "created_asc"
	SortCreatedDesc   SortOrder = "created_desc"
)

// MaxQueryLimit caps a single page of results.
const MaxQueryLimit = 10000

// RecordFilter narrows record queries. Zero values mean "no constraint";
// Limit 0 returns every match.
type RecordFilter struct {
	Kinds      []string    `json:"kinds,omitempty" validate:"omitempty,dive,telemetry_kind"`
	From       *time.Time  `json:"from,omitempty"`
	To         *time.Time  `json:"to,omitempty"`
	SyncStates []SyncState `json:"sync_states,omitempty"`
	SourceID   string      `json:"source_id,omitempty" validate:"max=128"`
	Sort       SortOrder   `json:"sort,omitempty" validate:"omitempty,oneof=timestamp_asc timestamp_desc created_asc created_desc"`
	Limit      int         `json:"limit,omitempty" validate:"min=0,max=10000"`
	Offset     int         `json:"offset,omitempty" validate:"min=0"`
}

// Validate checks the cross-field constraints validator tags cannot express.
func (f RecordFilter) Validate() error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return fmt.Errorf("date range end %s is before start %s", f.To.Format(time.RFC3339), f.From.Format(time.RFC3339))
	}
	for _, s := range f.SyncStates {
		if !s.Valid() {
			return fmt.Errorf("unknown sync state %q", s)
		}
	}
	return nil
}

// Matches reports whether a record and its status satisfy the filter,
// ignoring Sort, Limit and Offset. Used by live subscriptions to decide
// whether a change affects their result set.
func (f RecordFilter) Matches(r *TelemetryRecord, status SyncState) bool {
	if r == nil {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, r.Kind) {
		return false
	}
	if f.From != nil && r.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && r.Timestamp.After(*f.To) {
		return false
	}
	if f.SourceID != "" && r.SourceID != f.SourceID {
		return false
	}
	if len(f.SyncStates) > 0 && !slices.Contains(f.SyncStates, status) {
		return false
	}
	return true
}

// EffectiveSort returns the sort order, defaulting to oldest event first.
func (f RecordFilter) EffectiveSort() SortOrder {
	if f.Sort == "" {
		return SortTimestampAsc
	}
	return f.Sort
}
