// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package models

import "time"

// Per-item failure codes reported by batch operations.
const (
	ItemCodeValidation = "VALIDATION"
	ItemCodeConflict   = "CONFLICT"
	ItemCodeNotFound   = "NOT_FOUND"
	ItemCodeInternal   = "INTERNAL"
	ItemCodeNetwork    = "NETWORK"
)

// BatchItemFailure describes one rejected item of a batch call.
// ItemID is the client record id; Index is its position in the request.
type BatchItemFailure struct {
	ItemID string `json:"item_id"`
	Index  int    `json:"index"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

// Retryable reports whether the item should go down the retry path.
// Validation failures never succeed on resend.
func (f BatchItemFailure) Retryable() bool {
	return f.Code != ItemCodeValidation
}

// BatchMetadata summarizes a batch call.
type BatchMetadata struct {
	Total        int       `json:"total"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// BatchOperationResult is the partial-success contract of createBatch and
// updateBatch: every item is reported individually, and a batch with some
// failures is not a failed batch.
type BatchOperationResult struct {
	Successful []*TelemetryRecord `json:"successful"`
	Failed     []BatchItemFailure `json:"failed"`
	Metadata   BatchMetadata      `json:"metadata"`
}

// NewBatchResult assembles a result and fills its metadata.
func NewBatchResult(successful []*TelemetryRecord, failed []BatchItemFailure) *BatchOperationResult {
	if successful == nil {
		successful = []*TelemetryRecord{}
	}
	if failed == nil {
		failed = []BatchItemFailure{}
	}
	return &BatchOperationResult{
		Successful: successful,
		Failed:     failed,
		Metadata: BatchMetadata{
			Total:        len(successful) + len(failed),
			SuccessCount: len(successful),
			FailureCount: len(failed),
			Timestamp:    time.Now().UTC(),
		},
	}
}

// FailAll builds a result where every record failed with the same error.
// A transport-level error during a batch call is reported this way so each
// item goes down the retry path on its own.
func FailAll(records []*TelemetryRecord, code string, err error) *BatchOperationResult {
	failed := make([]BatchItemFailure, len(records))
	for i, r := range records {
		failed[i] = BatchItemFailure{ItemID: r.ID, Index: i, Error: err.Error(), Code: code}
	}
	return NewBatchResult(nil, failed)
}
