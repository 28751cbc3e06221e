// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

// Package connectivity tells the sync engine whether the remote API is
// reachable.
//
// Two monitors are provided:
//   - Static: state set by the caller (connectivity.mode=static, tests)
//   - Prober: GET /health every probe_interval with a short timeout,
//     offline after failure_threshold consecutive failures
//
// Listeners registered with OnChange run after each transition; the
// repository uses this to start a sync pass when the device comes back
// online.
package connectivity
