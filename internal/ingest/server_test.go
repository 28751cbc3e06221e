// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package ingest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/ingest"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/remote"
)

func setup(t *testing.T) (*ingest.Server, *remote.Client) {
	t.Helper()
	srv := ingest.NewServer(nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	c, err := remote.New(config.RemoteConfig{
		BaseURL: ts.URL,
		Timeout: 2 * time.Second,
		Breaker: config.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 100},
	})
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	return srv, c
}

func record(kind string, v float64, ts time.Time) *models.TelemetryRecord {
	return models.NewRecord("sensor-1", kind, models.ScalarValue(v), "lux", ts)
}

func TestCreate_IdempotentOnClientID(t *testing.T) {
	t.Parallel()
	srv, c := setup(t)
	ctx := context.Background()
	r := record(models.KindLight, 300, time.Now())

	first, err := c.Create(ctx, r)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !first.HasServerID() {
		t.Fatal("create should assign a server id")
	}

	second, err := c.Create(ctx, r)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.ServerIDValue() != first.ServerIDValue() {
		t.Errorf("retried create changed server id: %s vs %s", second.ServerIDValue(), first.ServerIDValue())
	}
	if srv.Backend().Len() != 1 {
		t.Errorf("backend holds %d records, want 1", srv.Backend().Len())
	}
}

func TestUpdate_LastWriteWins(t *testing.T) {
	t.Parallel()
	srv, c := setup(t)
	ctx := context.Background()

	created, err := c.Create(ctx, record(models.KindLight, 1, time.Now()))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Another device edits the record later.
	newer := created.Clone()
	newer.UpdatedAt = created.UpdatedAt.Add(time.Minute)
	newer.Unit = "klux"
	srv.Backend().Put(newer)

	stale := created.Clone()
	stale.Unit = "mlux"
	_, err = c.Update(ctx, stale, false)
	var ce *models.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if !ce.RemoteUpdatedAt.Equal(newer.UpdatedAt) {
		t.Errorf("conflict should carry server updated_at, got %v", ce.RemoteUpdatedAt)
	}

	forced, err := c.Update(ctx, stale, true)
	if err != nil {
		t.Fatalf("forced Update: %v", err)
	}
	if forced.Unit != "mlux" {
		t.Errorf("forced update not applied: %+v", forced)
	}
}

func TestBatch_PerItemResults(t *testing.T) {
	t.Parallel()
	srv, c := setup(t)
	ctx := context.Background()

	good := record(models.KindLight, 1, time.Now())
	rejected := record(models.KindLight, 2, time.Now())
	invalid := record("BAD KIND", 3, time.Now())
	srv.SetRejectFunc(func(op string, r *models.TelemetryRecord) (string, string) {
		if r.ID == rejected.ID {
			return models.ItemCodeInternal, "disk full"
		}
		return "", ""
	})

	res, err := c.CreateBatch(ctx, []*models.TelemetryRecord{good, rejected, invalid})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if res.Metadata.SuccessCount != 1 || res.Metadata.FailureCount != 2 {
		t.Fatalf("unexpected metadata: %+v", res.Metadata)
	}
	codes := map[string]string{}
	for _, f := range res.Failed {
		codes[f.ItemID] = f.Code
	}
	if codes[rejected.ID] != models.ItemCodeInternal || codes[invalid.ID] != models.ItemCodeValidation {
		t.Errorf("unexpected failure codes: %v", codes)
	}

	// Update batch: one stale, one unknown server id.
	stored := res.Successful[0]
	stale := stored.Clone()
	stale.UpdatedAt = stored.UpdatedAt.Add(-time.Hour)
	unknown := record(models.KindLight, 9, time.Now())
	sid := "nope"
	unknown.ServerID = &sid

	srv.SetRejectFunc(nil)
	upd, err := c.UpdateBatch(ctx, []*models.TelemetryRecord{stale, unknown}, false)
	if err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}
	if len(upd.Failed) != 2 || upd.Failed[0].Code != models.ItemCodeConflict || upd.Failed[1].Code != models.ItemCodeNotFound {
		t.Errorf("unexpected update failures: %+v", upd.Failed)
	}
}

func TestQueryCountGetDelete(t *testing.T) {
	t.Parallel()
	_, c := setup(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	var created []*models.TelemetryRecord
	for i := 0; i < 5; i++ {
		kind := models.KindLight
		if i%2 == 1 {
			kind = models.KindHumidity
		}
		r, err := c.Create(ctx, record(kind, float64(i), base.Add(time.Duration(i)*time.Hour)))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		created = append(created, r)
	}

	lights, err := c.Query(ctx, models.RecordFilter{Kinds: []string{models.KindLight}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(lights) != 3 || lights[0].ID != created[0].ID {
		t.Errorf("unexpected lights: %d", len(lights))
	}

	from := base.Add(90 * time.Minute)
	n, err := c.Count(ctx, models.RecordFilter{From: &from})
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v; want 3", n, err)
	}

	page, err := c.Query(ctx, models.RecordFilter{Limit: 2, Offset: 4})
	if err != nil || len(page) != 1 {
		t.Errorf("last page = %d records, %v", len(page), err)
	}

	got, err := c.Get(ctx, created[1].ServerIDValue())
	if err != nil || got.ID != created[1].ID {
		t.Errorf("Get = %v, %v", got, err)
	}

	if err := c.Delete(ctx, created[1].ServerIDValue()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, created[1].ServerIDValue()); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := c.Delete(ctx, created[1].ServerIDValue()); err != nil {
		t.Errorf("repeated Delete should succeed, got %v", err)
	}
}

func TestForcedStatus(t *testing.T) {
	t.Parallel()
	srv, c := setup(t)
	ctx := context.Background()

	srv.SetForcedStatus(http.StatusServiceUnavailable)
	if err := c.Ping(ctx); !models.IsNetworkError(err) {
		t.Errorf("forced 503 should be a NetworkError, got %v", err)
	}
	if _, err := c.CreateBatch(ctx, []*models.TelemetryRecord{record(models.KindLight, 1, time.Now())}); !models.IsNetworkError(err) {
		t.Errorf("batch under forced 503 should fail as a whole, got %v", err)
	}

	srv.SetForcedStatus(0)
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping after clearing failure: %v", err)
	}
	if srv.Calls(ingest.OpHealth) != 1 {
		t.Errorf("health handler reached %d times, want 1", srv.Calls(ingest.OpHealth))
	}
}
