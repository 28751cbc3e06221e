// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

// Package wal provides the durable outbox of pending remote deletes.
//
// Deleting a synced record locally must eventually delete its remote copy,
// even when the device is offline or the process restarts in between. The
// repository writes a tombstone to the outbox before the local delete
// returns, attempts the remote delete once, and leaves anything undelivered
// to the RetryLoop.
//
//	Local delete → Outbox.Write (badger, fsync) → remote DELETE → Confirm
//	                                                    ↓ (network failure)
//	                                          entry kept, retried with backoff
//
// # Components
//
//   - Outbox: BadgerDB store of entries under the "pending:" prefix
//   - RetryLoop: background delivery with exponential backoff and periodic
//     value-log GC
//
// # Delivery Rules
//
// A remote 404 counts as delivered. Network failures increment the attempt
// counter; the backoff before attempt n+1 is interval * 2^(n-1), capped at ten
// minutes. Once MaxAttempts (default 10) is reached, or the remote rejects the
// delete permanently, the entry is dropped and an error is logged.
//
// # Concurrency
//
// TryClaim/Release keep the retry loop and an immediate DeliverNow from
// sending the same tombstone twice. Claims are in-process only; on restart
// every pending entry is eligible again, and duplicate remote deletes are
// harmless.
package wal
