// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Collectors are process-global, so assertions compare deltas.

func TestRecordStoreOperation(t *testing.T) {
	before := testutil.ToFloat64(StoreOperationErrors.WithLabelValues("insert", "test"))

	RecordStoreOperation("insert", "test", time.Millisecond, nil)
	RecordStoreOperation("insert", "test", time.Millisecond, errors.New("disk full"))

	after := testutil.ToFloat64(StoreOperationErrors.WithLabelValues("insert", "test"))
	if after-before != 1 {
		t.Errorf("expected one error recorded, got %v", after-before)
	}
}

func TestRecordCircuitBreakerTransition(t *testing.T) {
	tests := []struct {
		to   string
		want float64
	}{
		{"open", 2},
		{"half-open", 1},
		{"closed", 0},
	}

	for _, tt := range tests {
		RecordCircuitBreakerTransition("test-breaker", "x", tt.to)
		if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("test-breaker")); got != tt.want {
			t.Errorf("state after transition to %s = %v, want %v", tt.to, got, tt.want)
		}
	}
}

func TestSetOnline(t *testing.T) {
	before := testutil.ToFloat64(ConnectivityTransitions.WithLabelValues("online"))

	SetOnline(true, true)
	SetOnline(true, false)

	if testutil.ToFloat64(ConnectivityOnline) != 1 {
		t.Error("expected online gauge to be 1")
	}
	if got := testutil.ToFloat64(ConnectivityTransitions.WithLabelValues("online")) - before; got != 1 {
		t.Errorf("expected one transition, got %v", got)
	}

	SetOnline(false, true)
	if testutil.ToFloat64(ConnectivityOnline) != 0 {
		t.Error("expected online gauge to be 0")
	}
}

func TestRecordSyncPass(t *testing.T) {
	synced := testutil.ToFloat64(SyncRecordsTotal.WithLabelValues("synced"))
	retry := testutil.ToFloat64(SyncRecordsTotal.WithLabelValues("retry"))
	passes := testutil.ToFloat64(SyncPassesTotal.WithLabelValues("partial"))

	RecordSyncPass("partial", 50*time.Millisecond, 3, 2, 0)

	if got := testutil.ToFloat64(SyncRecordsTotal.WithLabelValues("synced")) - synced; got != 3 {
		t.Errorf("synced delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(SyncRecordsTotal.WithLabelValues("retry")) - retry; got != 2 {
		t.Errorf("retry delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(SyncPassesTotal.WithLabelValues("partial")) - passes; got != 1 {
		t.Errorf("partial passes delta = %v, want 1", got)
	}
}

func TestUpdateStatusCounts(t *testing.T) {
	UpdateStatusCounts(map[string]int{"pending": 4, "synced": 10})

	if got := testutil.ToFloat64(StoreRecordsByStatus.WithLabelValues("pending")); got != 4 {
		t.Errorf("pending gauge = %v, want 4", got)
	}
	if got := testutil.ToFloat64(StoreRecordsByStatus.WithLabelValues("synced")); got != 10 {
		t.Errorf("synced gauge = %v, want 10", got)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests) - before; got != 1 {
		t.Errorf("active requests delta = %v, want 1", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/records", "200"))
	RecordAPIRequest("GET", "/api/v1/records", "200", 10*time.Millisecond)
	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/records", "200")) - before; got != 1 {
		t.Errorf("request delta = %v, want 1", got)
	}
}
