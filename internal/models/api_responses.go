// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package models

import (
	"time"
)

// APIResponse is the envelope used by every endpoint of the local API.
//
// Status field values:
//   - "success": request completed, see Data
//   - "error": request failed, see Error
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "error": {
//	    "code": "VALIDATION_ERROR",
//	    "message": "invalid record 5c1e...: kind must be a lowercase tag"
//	  },
//	  "metadata": {"timestamp": "2026-10-19T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError is the structured error of an APIResponse.
// Codes: VALIDATION_ERROR, NOT_FOUND, STORAGE_ERROR, CONFLICT, INTERNAL_ERROR.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PaginationInfo describes an offset page of records.
type PaginationInfo struct {
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
	TotalCount int  `json:"total_count"`
}

// RecordsPage is the body of a record listing.
type RecordsPage struct {
	Records    []*TelemetryRecord `json:"records"`
	Pagination PaginationInfo     `json:"pagination"`
}

// CountResponse is the body of a count request.
type CountResponse struct {
	Count int `json:"count"`
}

// SyncStatusSummary reports record counts per sync state plus the last pass.
type SyncStatusSummary struct {
	Counts     map[SyncState]int `json:"counts"`
	Pending    int               `json:"pending"`
	Online     bool              `json:"online"`
	Running    bool              `json:"running"`
	LastResult *SyncResult       `json:"last_result,omitempty"`
	LastSyncAt *time.Time        `json:"last_sync_at,omitempty"`
}

// CleanupResponse reports how many records a cleanup removed.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status           string     `json:"status"` // "healthy" or "degraded"
	Version          string     `json:"version"`
	StoreConnected   bool       `json:"store_connected"`
	StoreDriver      string     `json:"store_driver"`
	RemoteConfigured bool       `json:"remote_configured"`
	Online           bool       `json:"online"`
	Pending          int        `json:"pending"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	Uptime           float64    `json:"uptime_seconds"`
}
