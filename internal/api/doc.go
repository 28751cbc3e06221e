// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package api provides the HTTP REST API of the telemetry daemon.

The API is a thin layer over repository.Repository. Handlers decode and
validate requests, call the repository and write the standard envelope
from the models package. Record writes are local-first: they land in the
store and the sync engine delivers them to the remote later.

Routes (all under /api/v1):

	GET    /health                  aggregate health
	GET    /health/live             liveness probe
	GET    /health/ready            readiness probe (store ping)
	POST   /records                 create or upsert one record
	GET    /records                 list records, filter by query params
	GET    /records/count           count matching records
	POST   /records/batch           create up to 500 records
	PUT    /records/batch           update up to 500 records
	GET    /records/{id}            fetch one record (?status=true adds sync state)
	PUT    /records/{id}            update an existing record
	DELETE /records/{id}            delete locally and queue the remote delete
	POST   /records/{id}/requeue    move a failed record back to pending
	POST   /sync                    run a sync pass now
	GET    /sync/status             pending, failed and last sync summary
	GET    /stats                   store statistics
	POST   /cleanup                 drop synced history older than a cutoff
	GET    /ws                      websocket event stream

Outside the versioned prefix the router serves /metrics for Prometheus
and, when enabled, the Swagger UI under /swagger/.

Query Parameters:

ListRecords and CountRecords accept kind, source_id (both repeatable or
comma separated), from and to (RFC3339), sync_state, sort, limit and
offset. List responses carry PaginationInfo in the metadata.

Errors:

Every failure uses the same envelope:

	{"status":"error","error":{"code":"VALIDATION_ERROR","message":"...","details":{...}}}

Repository errors map to codes as follows: validation failures are 400
VALIDATION_ERROR, missing records 404 NOT_FOUND, conflicts and requeue of
a record that is not failed 409 CONFLICT, store failures 500
STORAGE_ERROR and remote failures 503 NETWORK_ERROR.

Middleware:

The chain runs request id, real IP, panic recovery, CORS (go-chi/cors)
and Prometheus metrics globally. API routes add security headers, a
per-IP limiter (go-chi/httprate) and gzip for JSON. Sync, cleanup,
websocket and health routes carry their own limits.

Usage:

	handler := api.NewHandler(repo, hub, cfg)
	handler.SetVersion(version)
	router := api.NewRouter(handler, cfg)
	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: router.SetupChi()}
*/
package api
