// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

// Package main provides the telemetryd agent daemon.
//
// telemetryd keeps telemetry records in a local store, pushes them to the
// remote Telemetry API whenever connectivity allows, and exposes a local
// HTTP API for producers and the telemetryctl CLI.
//
// @title Telemetrysync Local API
// @version 1.0
// @description Local HTTP API of the telemetryd agent.
// @description
// @description ## Offline-first
// @description
// @description Every write lands in the local store first and is queued for sync.
// @description Being offline is a normal state: reads and writes keep working and
// @description the sync engine catches up once the remote API is reachable again.
// @description
// @description ## Rate Limiting
// @description
// @description Default rate limit: 300 requests per minute per IP address.
// @description Sync and cleanup endpoints have tighter limits.
// @description
// @description ## Error Responses
// @description
// @description All error responses follow this format:
// @description ```json
// @description {
// @description   "status": "error",
// @description   "data": null,
// @description   "error": {
// @description     "code": "ERROR_CODE",
// @description     "message": "Human-readable error message",
// @description     "details": {}
// @description   },
// @description   "metadata": {
// @description     "timestamp": "2026-01-18T12:34:56Z"
// @description   }
// @description }
// @description ```
//
// @contact.name GitHub Repository
// @contact.url https://github.com/tomtom215/telemetrysync/issues
//
// @license.name AGPL-3.0-or-later
// @license.url https://www.gnu.org/licenses/agpl-3.0.html
//
// @host 127.0.0.1:8686
// @BasePath /api/v1
// @schemes http
//
// @tag.name Core
// @tag.description Health and readiness
//
// @tag.name Records
// @tag.description Local record store
//
// @tag.name Sync
// @tag.description Sync engine control and statistics
//
// @tag.name Events
// @tag.description Live change notifications
//
// # Startup
//
// Components are created in dependency order:
//
//  1. Configuration: koanf layers (defaults, optional YAML file, environment)
//  2. Logging: zerolog, optionally mirrored to a rotating file
//  3. Local store: DuckDB (default) or SQLite
//  4. Delete outbox: BadgerDB
//  5. Remote client and connectivity monitor (skipped when REMOTE_URL is empty)
//  6. Event bus, repository, websocket hub and bridge
//  7. NATS mirror (NATS_ENABLED=true)
//  8. HTTP server with the local API, /metrics and /swagger
//
// Long-running parts then run under a suture supervisor tree.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. The supervisor stops every
// service, then the repository, outbox and store are closed in reverse order.
// SIGHUP is not used; when a config file is present its log level is
// reloaded on change.
//
// # Example Usage
//
// Offline only, SQLite in the current directory:
//
//	export STORE_DRIVER=sqlite
//	export STORE_PATH=./telemetry.db
//	export OUTBOX_PATH=./outbox
//	./telemetryd
//
// Syncing to a remote API:
//
//	export REMOTE_URL=https://telemetry.example.com
//	export REMOTE_TOKEN=secret
//	./telemetryd
package main
