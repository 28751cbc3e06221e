// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/models"
)

// testDBSemaphore limits concurrent embedded engine instances. DuckDB in
// particular allocates aggressively per instance under the race detector.
var testDBSemaphore = make(chan struct{}, 4)

var testDrivers = []string{config.DriverDuckDB, config.DriverSQLite}

// setupTestStore opens an in-memory store for driver and closes it on cleanup.
func setupTestStore(t *testing.T, driver string) *Store {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	s, err := Open(context.Background(), config.StoreConfig{
		Driver:    driver,
		Path:      ":memory:",
		MaxMemory: "256MB",
		Threads:   1,
	})
	if err != nil {
		t.Fatalf("Failed to open %s test store: %v", driver, err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

// forEachDriver runs fn as a subtest against a fresh store of every engine.
func forEachDriver(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Helper()
	for _, driver := range testDrivers {
		t.Run(driver, func(t *testing.T) {
			fn(t, setupTestStore(t, driver))
		})
	}
}

func newTestRecord(kind string, v float64, ts time.Time) *models.TelemetryRecord {
	return models.NewRecord("sensor-1", kind, models.ScalarValue(v), "lux", ts)
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpen_FileBackedReopen(t *testing.T) {
	for _, driver := range testDrivers {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "telemetry."+driver)
			cfg := config.StoreConfig{Driver: driver, Path: path, MaxMemory: "256MB", Threads: 1}
			ctx := context.Background()

			s, err := Open(ctx, cfg)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			r := newTestRecord(models.KindLight, 300, time.Now())
			if err := s.Insert(ctx, r); err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if _, err := s.MarkInProgress(ctx, []string{r.ID}, time.Now()); err != nil {
				t.Fatalf("MarkInProgress: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			// Reopening simulates a restart after a crash mid-pass.
			s, err = Open(ctx, cfg)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer s.Close()

			st, err := s.GetStatus(ctx, r.ID)
			if err != nil {
				t.Fatalf("GetStatus: %v", err)
			}
			if st.State != models.SyncStatePending {
				t.Errorf("state after reopen = %s, want pending", st.State)
			}
		})
	}
}

func TestClose_Idempotent(t *testing.T) {
	s := setupTestStore(t, config.DriverSQLite)
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	_, err := s.GetByID(context.Background(), "x")
	if !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	var se *models.StorageError
	if !errors.As(err, &se) {
		t.Errorf("closed-store error should be a StorageError, got %T", err)
	}
}

func TestLockRecord_Serializes(t *testing.T) {
	t.Parallel()

	s := &Store{}
	unlock := s.LockRecord("r1")

	acquired := make(chan struct{})
	go func() {
		release := s.LockRecord("r1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}

	// Different ids never contend.
	u1 := s.LockRecord("a")
	u2 := s.LockRecord("b")
	u2()
	u1()
}

func TestLockRecord_ExclusionSurvivesEntryRelease(t *testing.T) {
	t.Parallel()

	s := &Store{}
	unlockFirst := s.LockRecord("r1")

	// A waiter queues on r1 while the first holder is inside.
	waiterIn := make(chan struct{})
	waiterRelease := make(chan struct{})
	go func() {
		release := s.LockRecord("r1")
		close(waiterIn)
		<-waiterRelease
		release()
	}()

	// Give the waiter time to take its reference before the holder leaves.
	deadline := time.Now().Add(time.Second)
	for {
		s.locksMu.Lock()
		refs := 0
		if l := s.recordLocks["r1"]; l != nil {
			refs = l.refs
		}
		s.locksMu.Unlock()
		if refs == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("waiter never queued on r1")
		}
		time.Sleep(time.Millisecond)
	}

	unlockFirst()
	select {
	case <-waiterIn:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired r1")
	}

	// A third caller must wait for the waiter even though the first
	// holder's reference is gone.
	thirdIn := make(chan struct{})
	go func() {
		release := s.LockRecord("r1")
		close(thirdIn)
		release()
	}()
	select {
	case <-thirdIn:
		t.Fatal("third caller entered r1 while the waiter still holds it")
	case <-time.After(30 * time.Millisecond):
	}

	close(waiterRelease)
	select {
	case <-thirdIn:
	case <-time.After(time.Second):
		t.Fatal("third caller never acquired r1")
	}

	deadline = time.Now().Add(time.Second)
	for s.lockEntries() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("lock entries = %d after every holder released, want 0", s.lockEntries())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDialectConflictDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    dialect
		err  error
		want bool
	}{
		{"duckdb conflict", duckDBDialect{}, errors.New("TransactionContext Error: Conflict on update!"), true},
		{"duckdb other", duckDBDialect{}, errors.New("syntax error"), false},
		{"sqlite busy", sqliteDialect{}, errors.New("sqlite3: database is locked"), true},
		{"sqlite other", sqliteDialect{}, errors.New("no such table"), false},
		{"nil", sqliteDialect{}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.d.isConflict(tt.err); got != tt.want {
				t.Errorf("isConflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
