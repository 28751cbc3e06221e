// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package models defines the data structures shared by every telemetrysync component.

Key Components:

  - TelemetryRecord: a single timestamped sensor/observation reading
  - Value: scalar or structured numeric payload of a record
  - SyncStatus / SyncState: per-record sync bookkeeping and its state machine
  - RecordFilter: query filter used by the local store, remote client and subscriptions
  - BatchOperationResult: per-item partial-success result of batch remote calls
  - SyncResult: aggregate result of one sync pass
  - APIResponse: envelope of the local HTTP API

Error taxonomy:

  - ValidationError: malformed input, rejected before persistence, never retried
  - StorageError: local durability failure, surfaced to the caller
  - NetworkError: transient remote failure, drives the retry path
  - SyncItemError: per-item batch failure, aggregated into SyncResult
  - ConflictError: remote rejected a stale write, resolved last-write-wins

Sync state machine:

	pending -> in_progress -> synced
	                       -> pending  (retry, after backoff)
	                       -> failed   (terminal, retry budget exhausted)

A terminal failed record only re-enters the pipeline through a manual requeue.
*/
package models
