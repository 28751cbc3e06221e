// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package events

import "time"

// Topics published on the bus. They double as NATS subjects when the
// JetStream mirror is enabled.
//
// Payloads:
//
//	TopicRecordUpdated  *models.TelemetryRecord
//	TopicRecordDeleted  RecordDeleted
//	TopicSyncStatus     models.StatusTransition
//	TopicSyncCompleted  *models.SyncResult
//	TopicPendingCount   PendingCount
const (
	TopicRecordUpdated = "telemetry.record.updated"
	TopicRecordDeleted = "telemetry.record.deleted"
	TopicSyncStatus    = "telemetry.sync.status"
	TopicSyncCompleted = "telemetry.sync.completed"
	TopicPendingCount  = "telemetry.pending.count"
)

// AllTopics lists every topic; the NATS mirror forwards each of them.
var AllTopics = []string{
	TopicRecordUpdated,
	TopicRecordDeleted,
	TopicSyncStatus,
	TopicSyncCompleted,
	TopicPendingCount,
}

// Metadata keys set on every message.
const (
	MetadataTopic         = "topic"
	MetadataRecordID      = "record_id"
	MetadataCorrelationID = "correlation_id"
)

// RecordDeleted is published after a local delete commits.
type RecordDeleted struct {
	RecordID  string    `json:"record_id"`
	ServerID  string    `json:"server_id,omitempty"`
	DeletedAt time.Time `json:"deleted_at"`
}

// PendingCount is the periodic count of records not yet synced.
type PendingCount struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}
