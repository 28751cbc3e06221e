// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package models

import "time"

// SyncParams tunes a single sync pass.
type SyncParams struct {
	// Force ignores backoff windows. The retry cap still applies.
	Force bool `json:"force,omitempty"`
	// Kinds restricts the pass to the given record kinds.
	Kinds []string `json:"kinds,omitempty" validate:"omitempty,dive,telemetry_kind"`
	// BatchSize overrides the configured batch size when > 0.
	BatchSize int `json:"batch_size,omitempty" validate:"min=0,max=500"`
}

// SyncFailure is the aggregated per-item error of a sync pass.
type SyncFailure struct {
	RecordID   string `json:"record_id"`
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryCount int    `json:"retry_count"`
	Terminal   bool   `json:"terminal"`
}

// SyncResult summarizes one sync pass.
//
// Success is false when the pass was skipped (offline or already running)
// or when any item failed; per-item failures are reported in Failures and
// never turn into an error return from Sync.
type SyncResult struct {
	Success     bool          `json:"success"`
	SyncedCount int           `json:"synced_count"`
	FailedCount int           `json:"failed_count"`
	SyncedIDs   []string      `json:"synced_ids"`
	Failures    []SyncFailure `json:"failures"`
	Timestamp   time.Time     `json:"timestamp"`
	Offline     bool          `json:"offline,omitempty"`
	Skipped     bool          `json:"skipped,omitempty"`
	Batches     int           `json:"batches"`
	Duration    time.Duration `json:"duration_ns"`
}

// NewOfflineResult is returned when a pass is requested without connectivity.
func NewOfflineResult() *SyncResult {
	return &SyncResult{
		SyncedIDs: []string{},
		Failures:  []SyncFailure{},
		Timestamp: time.Now().UTC(),
		Offline:   true,
	}
}

// NewSkippedResult is returned when another pass is already running.
func NewSkippedResult() *SyncResult {
	return &SyncResult{
		SyncedIDs: []string{},
		Failures:  []SyncFailure{},
		Timestamp: time.Now().UTC(),
		Skipped:   true,
	}
}
