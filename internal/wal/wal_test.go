// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package wal

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/telemetrysync/internal/config"
)

func openTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	o, err := Open(config.OutboxConfig{InMemory: true, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func tombstone(recordID string) Tombstone {
	return Tombstone{RecordID: recordID, ServerID: "srv-" + recordID}
}

func TestOutbox_WriteAndGetPending(t *testing.T) {
	t.Parallel()
	o := openTestOutbox(t)
	ctx := context.Background()

	var ids []string
	for _, r := range []string{"a", "b", "c"} {
		id, err := o.Write(ctx, tombstone(r))
		if err != nil {
			t.Fatalf("Write(%s): %v", r, err)
		}
		ids = append(ids, id)
		time.Sleep(time.Millisecond)
	}

	entries, err := o.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("pending = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.ID != ids[i] {
			t.Errorf("entry %d = %s, want %s (oldest first)", i, e.ID, ids[i])
		}
		if e.Tombstone.DeletedAt.IsZero() {
			t.Error("DeletedAt should default to now")
		}
	}

	if n, _ := o.Len(ctx); n != 3 {
		t.Errorf("Len = %d, want 3", n)
	}
}

func TestOutbox_WriteRequiresServerID(t *testing.T) {
	t.Parallel()
	o := openTestOutbox(t)

	if _, err := o.Write(context.Background(), Tombstone{RecordID: "x"}); !errors.Is(err, ErrEmptyServerID) {
		t.Errorf("err = %v, want ErrEmptyServerID", err)
	}
}

func TestOutbox_ConfirmAndDrop(t *testing.T) {
	t.Parallel()
	o := openTestOutbox(t)
	ctx := context.Background()

	a, _ := o.Write(ctx, tombstone("a"))
	b, _ := o.Write(ctx, tombstone("b"))

	if err := o.Confirm(ctx, a); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := o.Confirm(ctx, a); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("second Confirm err = %v, want ErrEntryNotFound", err)
	}
	if err := o.Drop(ctx, b); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if err := o.Confirm(ctx, ""); !errors.Is(err, ErrEmptyEntryID) {
		t.Errorf("empty id err = %v", err)
	}

	s := o.Stats()
	if s.PendingCount != 0 || s.TotalWrites != 2 || s.TotalConfirms != 1 || s.TotalDropped != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestOutbox_UpdateAttempt(t *testing.T) {
	t.Parallel()
	o := openTestOutbox(t)
	ctx := context.Background()

	id, _ := o.Write(ctx, tombstone("a"))
	if err := o.UpdateAttempt(ctx, id, "connection refused"); err != nil {
		t.Fatalf("UpdateAttempt: %v", err)
	}
	e, err := o.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Attempts != 1 || e.LastError != "connection refused" || e.LastAttemptAt.IsZero() {
		t.Errorf("unexpected entry: %+v", e)
	}

	if err := o.UpdateAttempt(ctx, "missing", "x"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("err = %v, want ErrEntryNotFound", err)
	}
}

func TestOutbox_Claims(t *testing.T) {
	t.Parallel()
	o := openTestOutbox(t)

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if o.TryClaim("entry") {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Errorf("claims won = %d, want 1", won.Load())
	}

	o.Release("entry")
	if !o.TryClaim("entry") {
		t.Error("claim should be available after Release")
	}
}

func TestOutbox_Close(t *testing.T) {
	t.Parallel()
	o, err := Open(config.OutboxConfig{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if o.MaxAttempts() != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", o.MaxAttempts(), DefaultMaxAttempts)
	}

	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := o.Write(context.Background(), tombstone("a")); !errors.Is(err, ErrOutboxClosed) {
		t.Errorf("Write after Close err = %v", err)
	}
	if s := o.Stats(); s != (Stats{}) {
		t.Errorf("Stats after Close = %+v", s)
	}
}

func TestOutbox_RequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(config.OutboxConfig{}); err == nil {
		t.Error("expected error without path")
	}
}

func TestOutbox_SurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "outbox")
	ctx := context.Background()

	o, err := Open(config.OutboxConfig{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := o.Write(ctx, tombstone("a"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := o.RunGC(); err != nil {
		t.Errorf("RunGC: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(config.OutboxConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	e, err := reopened.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if e.Tombstone.ServerID != "srv-a" {
		t.Errorf("server id = %q", e.Tombstone.ServerID)
	}
}
