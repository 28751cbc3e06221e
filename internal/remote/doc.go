// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package remote is the client of the Remote Telemetry API.

# Endpoints

	POST   /telemetry              create one record (idempotent on client id)
	POST   /telemetry/batch        create many, per-item results
	PUT    /telemetry/{serverId}   update one (?force=true skips the stale check)
	PUT    /telemetry/batch        update many, per-item results
	DELETE /telemetry/{serverId}   delete one (404 counts as deleted)
	GET    /telemetry/{serverId}   fetch one
	GET    /telemetry              query: kind, from, to, sourceId, limit, offset
	GET    /telemetry/count        count with the same filters
	GET    /health                 reachability probe

Bodies are JSON (github.com/goccy/go-json). Batch replies are
models.BatchOperationResult; partial success is normal.

# Resilience

Each call:
  - waits on a shared token bucket (golang.org/x/time/rate)
  - runs inside a circuit breaker (github.com/sony/gobreaker/v2)
  - carries its own timeout (remote.timeout)

An open breaker, a transport error, a timeout, 408, 429 and 5xx are all
reported as *models.NetworkError so the sync orchestrator retries them.
400/422 become *models.ValidationError, 409 a *models.ConflictError and 404
models.ErrNotFound.
*/
package remote
