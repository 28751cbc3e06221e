// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package sync drains locally captured telemetry to the remote service.

# State Machine

Every record carries a sync status:

	pending ──► in_progress ──► synced
	   ▲             │
	   └── retry ────┤
	                 └──► failed (terminal, retry budget spent)

A pass selects Pending records and Failed records with retries left whose
backoff window has elapsed, oldest event first. Backoff before retry n is
base * 2^(n-1), 30 seconds doubling to a 10 minute cap.

# Passes

  - single-flight: a pass requested while one runs returns Skipped
  - offline: the pass is a no-op with Success=false and no mutation
  - records are split into create batches (no server id) and update
    batches (server id known), 50 records each by default
  - up to MaxConcurrentBatches batches run in parallel; a shared ClaimSet
    keeps a record out of two in-flight calls
  - losing connectivity stops new batches; in-flight ones finish

# Failures

A whole-batch failure (timeout, 5xx, open circuit breaker) charges one
attempt to every member. Per-item failures charge the item only. VALIDATION
failures are terminal at once. CONFLICT items are resolved last-write-wins on
UpdatedAt against the remote copy: a strictly newer local copy is resent with
force, otherwise the remote copy replaces the local record. A batch rejected
as a whole with a validation error is resent record by record so only the
malformed record fails.

A create acknowledged after the record was deleted locally is reported through
SetOnOrphan so the caller can delete the remote copy.

Per-item failures are aggregated in SyncResult. Sync returns an error only
when the pass cannot run, for example when the local store is unreadable.

# Lifecycle

	m := sync.NewManager(store, client, monitor, cfg.Sync, sync.WithCache(records))
	m.SetOnStatusChange(publishTransition)
	if err := m.Start(ctx); err != nil {
	    return err
	}
	defer m.Stop()

	result, err := m.TriggerSync(ctx)
*/
package sync
