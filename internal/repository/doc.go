// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package repository is the local-first API applications use to read and
write telemetry records.

# Writes

Create, Update, their batch forms and Delete commit to the local store
before returning. Only then is the remote contacted, in the background and
under the same record lock and claim the sync manager uses:

	rec, err := repo.Create(ctx, models.NewRecord("sensor-1", models.KindLight, models.ScalarValue(412), "lux", time.Now()))
	if err != nil {
	    return err // local failure only
	}

A failed background call leaves the record Pending for the next pass and
does not consume a retry.

Deletes of records the remote already knows are written to the delete
outbox first. The outbox retry loop delivers whatever the immediate attempt
could not.

# Reads

GetByID and GetByIDs read through the record cache. Query and Count always
read the local store; Query can optionally merge remote records first.

# Subscriptions

Every subscription returns a channel and an Unsubscribe func that closes it:

	results, unsubscribe, err := repo.WatchQuery(ctx, models.RecordFilter{Kinds: []string{models.KindLight}})
	if err != nil {
	    return err
	}
	defer unsubscribe()
	for records := range results {
	    render(records)
	}

Channels never block writers. A reader that falls behind loses the oldest
buffered values, and WatchQuery and SubscribePendingCount keep only the
latest one.
*/
package repository
