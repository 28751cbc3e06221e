// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/connectivity"
	"github.com/tomtom215/telemetrysync/internal/database"
	"github.com/tomtom215/telemetrysync/internal/ingest"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/remote"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store   *database.Store
	api     remote.API
	server  *ingest.Server
	monitor *connectivity.Static
	clock   *fakeClock
	mgr     *Manager
}

func newFixture(t *testing.T, cfg config.SyncConfig) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := database.Open(ctx, config.StoreConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	srv := ingest.NewServer(nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := remote.New(config.RemoteConfig{
		BaseURL: ts.URL,
		Timeout: 5 * time.Second,
		Breaker: config.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 1000},
	})
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}

	clock := &fakeClock{now: time.Now().Truncate(time.Millisecond)}
	monitor := connectivity.NewStatic(true)
	mgr := NewManager(store, client, monitor, cfg, WithClock(clock.Now))

	return &fixture{store: store, api: client, server: srv, monitor: monitor, clock: clock, mgr: mgr}
}

func (f *fixture) insert(t *testing.T, n int, kind string) []*models.TelemetryRecord {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	out := make([]*models.TelemetryRecord, n)
	for i := range out {
		out[i] = models.NewRecord("sensor-1", kind, models.ScalarValue(float64(i)), "lux", base.Add(time.Duration(i)*time.Second))
	}
	if err := f.store.InsertBatch(context.Background(), out); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	return out
}

func (f *fixture) status(t *testing.T, id string) *models.RecordWithStatus {
	t.Helper()
	rws, err := f.store.GetWithStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetWithStatus(%s): %v", id, err)
	}
	return rws
}

func TestSync_EndToEndOfflineThenOnline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{})
	ctx := context.Background()

	f.monitor.SetOnline(false)
	records := f.insert(t, 3, models.KindLight)

	res, err := f.mgr.Sync(ctx, models.SyncParams{})
	if err != nil {
		t.Fatalf("offline Sync: %v", err)
	}
	if res.Success || res.SyncedCount != 0 || !res.Offline {
		t.Errorf("offline result = %+v, want success=false synced=0", res)
	}
	if f.server.Calls(ingest.OpCreateBatch) != 0 {
		t.Error("offline pass reached the remote")
	}
	for _, r := range records {
		if st := f.status(t, r.ID).Status; st.State != models.SyncStatePending || st.RetryCount != 0 {
			t.Errorf("offline pass mutated %s: %+v", r.ID, st)
		}
	}

	f.monitor.SetOnline(true)
	res, err = f.mgr.Sync(ctx, models.SyncParams{})
	if err != nil {
		t.Fatalf("online Sync: %v", err)
	}
	if !res.Success || res.SyncedCount != 3 || res.FailedCount != 0 {
		t.Fatalf("online result = %+v, want 3 synced", res)
	}
	for _, r := range records {
		rws := f.status(t, r.ID)
		if rws.Status.State != models.SyncStateSynced || !rws.Record.HasServerID() {
			t.Errorf("record %s not synced: %+v", r.ID, rws.Status)
		}
		if rws.Status.LastSuccess == nil {
			t.Errorf("record %s has no last success", r.ID)
		}
	}
	if f.server.Backend().Len() != 3 {
		t.Errorf("remote holds %d records, want 3", f.server.Backend().Len())
	}
	if f.mgr.LastResult() != res {
		t.Error("LastResult should return the latest pass")
	}
}

func TestSync_BatchesBySize(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{BatchSize: 3})
	f.insert(t, 7, models.KindTemperature)

	res, err := f.mgr.Sync(context.Background(), models.SyncParams{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.SyncedCount != 7 || res.Batches != 3 {
		t.Errorf("result = %+v, want 7 synced in 3 batches", res)
	}
	if got := f.server.Calls(ingest.OpCreateBatch); got != 3 {
		t.Errorf("create_batch calls = %d, want 3", got)
	}

	// The per-call override wins over the configured size.
	f.insert(t, 4, models.KindTemperature)
	res, _ = f.mgr.Sync(context.Background(), models.SyncParams{BatchSize: 4})
	if res.Batches != 1 || res.SyncedCount != 4 {
		t.Errorf("override result = %+v", res)
	}
}

func TestSync_PartialBatchFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{})
	records := f.insert(t, 4, models.KindLight)
	transient, invalid := records[1].ID, records[2].ID

	f.server.SetRejectFunc(func(op string, r *models.TelemetryRecord) (string, string) {
		switch r.ID {
		case transient:
			return models.ItemCodeInternal, "storage busy"
		case invalid:
			return models.ItemCodeValidation, "unit not accepted"
		}
		return "", ""
	})

	res, err := f.mgr.Sync(context.Background(), models.SyncParams{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Success || res.SyncedCount != 2 || res.FailedCount != 2 {
		t.Fatalf("result = %+v, want 2 synced and 2 failed", res)
	}

	byID := map[string]models.SyncFailure{}
	for _, fl := range res.Failures {
		byID[fl.RecordID] = fl
	}
	if fl := byID[transient]; fl.Terminal || fl.RetryCount != 1 || fl.Code != models.ItemCodeInternal {
		t.Errorf("transient failure = %+v", fl)
	}
	if fl := byID[invalid]; !fl.Terminal || fl.Code != models.ItemCodeValidation {
		t.Errorf("validation failure = %+v, want terminal", fl)
	}

	if st := f.status(t, transient).Status; st.State != models.SyncStatePending || st.RetryCount != 1 || st.ErrorMessage == "" {
		t.Errorf("transient status = %+v", st)
	}
	if st := f.status(t, invalid).Status; st.State != models.SyncStateFailed {
		t.Errorf("invalid status = %+v, want failed", st)
	}
	for _, r := range []*models.TelemetryRecord{records[0], records[3]} {
		if st := f.status(t, r.ID).Status; st.State != models.SyncStateSynced {
			t.Errorf("healthy record %s = %s", r.ID, st.State)
		}
	}
}

// failingBatchAPI fails every CreateBatch call that carries failID with a
// transport error.
type failingBatchAPI struct {
	remote.API
	failID string

	mu    sync.Mutex
	calls int
}

func (a *failingBatchAPI) CreateBatch(ctx context.Context, records []*models.TelemetryRecord) (*models.BatchOperationResult, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	for _, r := range records {
		if r.ID == a.failID {
			return nil, &models.NetworkError{Op: "create_batch", Err: errors.New("connection reset by peer")}
		}
	}
	return a.API.CreateBatch(ctx, records)
}

func TestSync_NetworkErrorDegradesOnlyItsBatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{})
	records := f.insert(t, 5, models.KindLight)

	api := &failingBatchAPI{API: f.api, failID: records[2].ID}
	mgr := NewManager(f.store, api, f.monitor, config.SyncConfig{BatchSize: 2}, WithClock(f.clock.Now))

	res, err := mgr.Sync(context.Background(), models.SyncParams{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Batches != 3 || api.calls != 3 {
		t.Fatalf("batches = %d, calls = %d; want 3 and 3", res.Batches, api.calls)
	}
	if res.Success || res.SyncedCount != 3 || res.FailedCount != 2 {
		t.Fatalf("result = %+v, want 3 synced and 2 failed", res)
	}

	for _, r := range []*models.TelemetryRecord{records[0], records[1], records[4]} {
		rws := f.status(t, r.ID)
		if rws.Status.State != models.SyncStateSynced || !rws.Record.HasServerID() {
			t.Errorf("record %s in a healthy batch = %s (server id %q)", r.ID, rws.Status.State, rws.Record.ServerIDValue())
		}
	}
	for _, r := range []*models.TelemetryRecord{records[2], records[3]} {
		st := f.status(t, r.ID).Status
		if st.State != models.SyncStatePending || st.RetryCount != 1 {
			t.Errorf("record %s in the failed batch = %+v, want pending retry 1", r.ID, st)
		}
	}
	for _, fl := range res.Failures {
		if fl.Code != models.ItemCodeNetwork || fl.Terminal {
			t.Errorf("failure = %+v, want retryable NETWORK", fl)
		}
	}
	if n := f.server.Backend().Len(); n != 3 {
		t.Errorf("remote holds %d records, want 3", n)
	}
}

// strictBatchAPI rejects a whole CreateBatch with 400 when any record is
// badID, and rejects badID alone on a single create.
type strictBatchAPI struct {
	remote.API
	badID string
}

func (a *strictBatchAPI) CreateBatch(ctx context.Context, records []*models.TelemetryRecord) (*models.BatchOperationResult, error) {
	for _, r := range records {
		if r.ID == a.badID {
			return nil, models.NewValidationError(r.ID, "value", "payload rejected")
		}
	}
	return a.API.CreateBatch(ctx, records)
}

func (a *strictBatchAPI) Create(ctx context.Context, r *models.TelemetryRecord) (*models.TelemetryRecord, error) {
	if r.ID == a.badID {
		return nil, models.NewValidationError(r.ID, "value", "payload rejected")
	}
	return a.API.Create(ctx, r)
}

func TestSync_WholeBatchRejectionIsolatesBadRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{})
	records := f.insert(t, 3, models.KindLight)
	bad := records[1].ID

	mgr := NewManager(f.store, &strictBatchAPI{API: f.api, badID: bad}, f.monitor, config.SyncConfig{}, WithClock(f.clock.Now))
	res, err := mgr.Sync(context.Background(), models.SyncParams{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.SyncedCount != 2 || res.FailedCount != 1 {
		t.Fatalf("result = %+v, want 2 synced and 1 failed", res)
	}
	if fl := res.Failures[0]; fl.RecordID != bad || !fl.Terminal || fl.Code != models.ItemCodeValidation {
		t.Errorf("failure = %+v, want terminal VALIDATION for %s", fl, bad)
	}
	for _, r := range []*models.TelemetryRecord{records[0], records[2]} {
		if st := f.status(t, r.ID).Status; st.State != models.SyncStateSynced {
			t.Errorf("valid record %s = %s, want synced", r.ID, st.State)
		}
	}
}

func TestSync_RetryBoundAndBackoff(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{})
	ctx := context.Background()
	r := f.insert(t, 1, models.KindHumidity)[0]

	f.server.SetForcedStatus(http.StatusServiceUnavailable)

	res, _ := f.mgr.Sync(ctx, models.SyncParams{})
	if res.FailedCount != 1 || res.Failures[0].Code != models.ItemCodeNetwork {
		t.Fatalf("first pass = %+v", res)
	}

	// Inside the 30s window nothing is eligible.
	res, _ = f.mgr.Sync(ctx, models.SyncParams{})
	if res.FailedCount != 0 || res.Batches != 0 {
		t.Fatalf("pass inside backoff = %+v", res)
	}

	f.clock.Advance(30 * time.Second)
	res, _ = f.mgr.Sync(ctx, models.SyncParams{})
	if res.FailedCount != 1 || res.Failures[0].RetryCount != 2 {
		t.Fatalf("second attempt = %+v", res)
	}

	// Force skips the 60s window but not the retry cap.
	res, _ = f.mgr.Sync(ctx, models.SyncParams{Force: true})
	if res.FailedCount != 1 || !res.Failures[0].Terminal {
		t.Fatalf("third attempt should be terminal: %+v", res)
	}

	f.clock.Advance(time.Hour)
	f.server.SetForcedStatus(0)
	res, _ = f.mgr.Sync(ctx, models.SyncParams{Force: true})
	if res.Batches != 0 {
		t.Errorf("terminal record was retried: %+v", res)
	}
	st := f.status(t, r.ID).Status
	if st.State != models.SyncStateFailed || st.RetryCount != models.DefaultMaxRetries {
		t.Errorf("status = %+v, want terminal failed", st)
	}

	if err := f.mgr.Requeue(ctx, r.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	res, _ = f.mgr.Sync(ctx, models.SyncParams{})
	if res.SyncedCount != 1 {
		t.Errorf("requeued record not synced: %+v", res)
	}
	if err := f.mgr.Requeue(ctx, r.ID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("Requeue of synced record err = %v, want ErrNotFailed", err)
	}
}

func TestSync_PushesLocalEdits(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{})
	ctx := context.Background()
	r := f.insert(t, 1, models.KindSoilMoisture)[0]

	if res, _ := f.mgr.Sync(ctx, models.SyncParams{}); res.SyncedCount != 1 {
		t.Fatalf("initial sync = %+v", res)
	}

	edited := f.status(t, r.ID).Record
	edited.Value = models.ScalarValue(42)
	edited.UpdatedAt = edited.UpdatedAt.Add(time.Second)
	st := f.status(t, r.ID).Status
	st.State = models.SyncStatePending
	if err := f.store.InsertWithStatus(ctx, edited, st); err != nil {
		t.Fatalf("InsertWithStatus: %v", err)
	}

	res, _ := f.mgr.Sync(ctx, models.SyncParams{})
	if res.SyncedCount != 1 || f.server.Calls(ingest.OpUpdateBatch) != 1 {
		t.Fatalf("edit pass = %+v, update calls = %d", res, f.server.Calls(ingest.OpUpdateBatch))
	}
	remoteCopy, _ := f.server.Backend().Get(edited.ServerIDValue())
	if remoteCopy == nil || !remoteCopy.Value.Equal(models.ScalarValue(42)) {
		t.Errorf("remote copy not updated: %+v", remoteCopy)
	}
}

func TestSync_ConflictResolution(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) (*fixture, *models.TelemetryRecord) {
		f := newFixture(t, config.SyncConfig{})
		r := f.insert(t, 1, models.KindLight)[0]
		if res, _ := f.mgr.Sync(context.Background(), models.SyncParams{}); res.SyncedCount != 1 {
			t.Fatalf("initial sync = %+v", res)
		}
		return f, f.status(t, r.ID).Record
	}

	editLocal := func(t *testing.T, f *fixture, r *models.TelemetryRecord, v float64, at time.Time) {
		edited := r.Clone()
		edited.Value = models.ScalarValue(v)
		edited.UpdatedAt = at
		st := f.status(t, r.ID).Status
		st.State = models.SyncStatePending
		if err := f.store.InsertWithStatus(context.Background(), edited, st); err != nil {
			t.Fatalf("InsertWithStatus: %v", err)
		}
	}

	t.Run("remote newer wins", func(t *testing.T) {
		t.Parallel()
		f, r := setup(t)

		other := r.Clone()
		other.Value = models.ScalarValue(900)
		other.UpdatedAt = r.UpdatedAt.Add(2 * time.Second)
		f.server.Backend().Put(other)
		editLocal(t, f, r, 100, r.UpdatedAt.Add(time.Second))

		res, _ := f.mgr.Sync(context.Background(), models.SyncParams{})
		if res.SyncedCount != 1 || res.FailedCount != 0 {
			t.Fatalf("result = %+v", res)
		}
		local := f.status(t, r.ID)
		if !local.Record.Value.Equal(models.ScalarValue(900)) || local.Status.State != models.SyncStateSynced {
			t.Errorf("local record should adopt the remote copy: %+v", local)
		}
	})

	t.Run("local newer wins", func(t *testing.T) {
		t.Parallel()
		f, r := setup(t)

		// The remote reports a conflict even though its copy is older.
		f.server.SetRejectFunc(func(op string, rec *models.TelemetryRecord) (string, string) {
			if op == ingest.OpUpdateBatch {
				return models.ItemCodeConflict, "version mismatch"
			}
			return "", ""
		})
		editLocal(t, f, r, 100, r.UpdatedAt.Add(time.Minute))

		res, _ := f.mgr.Sync(context.Background(), models.SyncParams{})
		if res.SyncedCount != 1 {
			t.Fatalf("result = %+v", res)
		}
		if f.server.Calls(ingest.OpUpdate) != 1 {
			t.Errorf("forced update calls = %d, want 1", f.server.Calls(ingest.OpUpdate))
		}
		remoteCopy, _ := f.server.Backend().Get(r.ServerIDValue())
		if !remoteCopy.Value.Equal(models.ScalarValue(100)) {
			t.Errorf("remote copy = %+v, want local value", remoteCopy.Value)
		}
	})
}

func TestSync_SingleFlight(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{})
	f.insert(t, 1, models.KindLight)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.server.SetRejectFunc(func(string, *models.TelemetryRecord) (string, string) {
		once.Do(func() { close(entered) })
		<-release
		return "", ""
	})

	done := make(chan *models.SyncResult)
	go func() {
		res, _ := f.mgr.Sync(context.Background(), models.SyncParams{})
		done <- res
	}()

	<-entered
	if !f.mgr.IsSyncing() {
		t.Error("IsSyncing should be true during a pass")
	}
	res, err := f.mgr.TriggerSync(context.Background())
	if err != nil || !res.Skipped || res.Success {
		t.Errorf("overlapping pass = %+v, %v; want skipped", res, err)
	}

	close(release)
	if first := <-done; first.SyncedCount != 1 {
		t.Errorf("first pass = %+v", first)
	}
}

func TestSync_SkipsClaimedRecords(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{})
	records := f.insert(t, 2, models.KindLight)

	f.mgr.Claims().Claim(records[0].ID)
	res, _ := f.mgr.Sync(context.Background(), models.SyncParams{})
	if res.SyncedCount != 1 || res.SyncedIDs[0] != records[1].ID {
		t.Errorf("result = %+v, want only the unclaimed record", res)
	}
	if st := f.status(t, records[0].ID).Status; st.State != models.SyncStatePending {
		t.Errorf("claimed record = %s, want pending", st.State)
	}
}

func TestSync_KindsFilterAndValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{})
	f.insert(t, 2, models.KindLight)
	f.insert(t, 1, models.KindTemperature)

	res, err := f.mgr.Sync(context.Background(), models.SyncParams{Kinds: []string{models.KindTemperature}})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.SyncedCount != 1 {
		t.Errorf("kind-restricted pass synced %d, want 1", res.SyncedCount)
	}

	_, err = f.mgr.Sync(context.Background(), models.SyncParams{Kinds: []string{"Not A Kind"}})
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestSync_StatusCallbacks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{})
	r := f.insert(t, 1, models.KindLight)[0]

	var mu sync.Mutex
	var transitions []models.StatusTransition
	var synced []*models.TelemetryRecord
	var completed int
	f.mgr.SetOnStatusChange(func(tr models.StatusTransition) {
		mu.Lock()
		transitions = append(transitions, tr)
		mu.Unlock()
	})
	f.mgr.SetOnRecordSynced(func(rec *models.TelemetryRecord) {
		mu.Lock()
		synced = append(synced, rec)
		mu.Unlock()
	})
	f.mgr.SetOnSyncCompleted(func(*models.SyncResult) {
		mu.Lock()
		completed++
		mu.Unlock()
	})

	if _, err := f.mgr.Sync(context.Background(), models.SyncParams{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 ||
		transitions[0].From != models.SyncStatePending || transitions[0].To != models.SyncStateInProgress ||
		transitions[1].From != models.SyncStateInProgress || transitions[1].To != models.SyncStateSynced {
		t.Errorf("transitions = %+v", transitions)
	}
	if len(synced) != 1 || synced[0].ID != r.ID || !synced[0].HasServerID() {
		t.Errorf("synced records = %+v", synced)
	}
	if completed != 1 {
		t.Errorf("completed callbacks = %d", completed)
	}
}

func TestManager_StartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.SyncConfig{Interval: 10 * time.Millisecond})
	r := f.insert(t, 1, models.KindLight)[0]

	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.mgr.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.status(t, r.ID).Status.State != models.SyncStateSynced {
		if time.Now().After(deadline) {
			t.Fatal("periodic sync never synced the record")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := f.mgr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.mgr.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
