// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

// Package ingest is a reference implementation of the Remote Telemetry API
// over an in-memory backend. It serves cmd/telemetry-ingest and the
// end-to-end tests of the remote client, sync orchestrator and repository.
//
// Semantics:
//   - create is idempotent on the client id and assigns a uuid server id
//   - update is last-write-wins on updated_at; an older copy gets 409 unless
//     ?force=true is set
//   - batch endpoints answer 200 with per-item results
//   - delete of an unknown server id answers 404
//
// SetRejectFunc and SetForcedStatus inject failures for tests.
package ingest
