// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler, mutate ...func(*config.RemoteConfig)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.RemoteConfig{
		BaseURL: srv.URL + "/",
		Timeout: 2 * time.Second,
		Breaker: config.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 3},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode reply: %v", err)
	}
}

func testRecord() *models.TelemetryRecord {
	return models.NewRecord("sensor-1", models.KindLight, models.ScalarValue(300), "lux", time.Now())
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := New(config.RemoteConfig{}); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestCreate_SendsHeadersAndDecodes(t *testing.T) {
	t.Parallel()

	var gotAuth, gotUA, gotType, gotPath string
	var gotBody models.TelemetryRecord
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotType = r.Header.Get("Content-Type")
		gotPath = r.Method + " " + r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		out := gotBody
		sid := "srv-1"
		out.ServerID = &sid
		writeJSON(t, w, http.StatusCreated, out)
	}), func(cfg *config.RemoteConfig) { cfg.Token = "secret" })

	r := testRecord()
	got, err := c.Create(context.Background(), r)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if gotPath != "POST /telemetry" {
		t.Errorf("request = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody.ID != r.ID {
		t.Errorf("body id = %q, want %q", gotBody.ID, r.ID)
	}
	if got.ServerIDValue() != "srv-1" || !got.EqualContent(r) {
		t.Errorf("unexpected reply: %+v", got)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	updated := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		status  int
		body    interface{}
		check   func(error) bool
		outcome string
	}{
		{"bad request", http.StatusBadRequest, ErrorResponse{Code: "VALIDATION", Message: "kind"},
			func(err error) bool { var ve *models.ValidationError; return errors.As(err, &ve) }, outcomeValidation},
		{"unprocessable", http.StatusUnprocessableEntity, nil,
			func(err error) bool { var ve *models.ValidationError; return errors.As(err, &ve) }, outcomeValidation},
		{"not found", http.StatusNotFound, nil,
			func(err error) bool { return errors.Is(err, models.ErrNotFound) }, outcomeNotFound},
		{"conflict", http.StatusConflict, ErrorResponse{Code: "CONFLICT", Message: "stale", ServerUpdatedAt: &updated},
			func(err error) bool {
				var ce *models.ConflictError
				return errors.As(err, &ce) && ce.RemoteUpdatedAt.Equal(updated) && ce.ServerID == "srv-1"
			}, outcomeConflict},
		{"throttled", http.StatusTooManyRequests, nil, models.IsNetworkError, outcomeNetwork},
		{"unavailable", http.StatusServiceUnavailable, "overloaded", models.IsNetworkError, outcomeNetwork},
		{"forbidden", http.StatusForbidden, nil,
			func(err error) bool { return err != nil && !models.IsNetworkError(err) }, outcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(t, w, tt.status, tt.body)
			}))

			_, err := c.Get(context.Background(), "srv-1")
			if !tt.check(err) {
				t.Errorf("unexpected error classification: %T %v", err, err)
			}
			if got := outcomeOf(err); got != tt.outcome {
				t.Errorf("outcome = %s, want %s", got, tt.outcome)
			}
		})
	}
}

func TestDelete_NotFoundIsSuccess(t *testing.T) {
	t.Parallel()
	var method, path string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	}))

	if err := c.Delete(context.Background(), "srv/9"); err != nil {
		t.Errorf("Delete of unknown record should succeed, got %v", err)
	}
	if method != http.MethodDelete || path != "/telemetry/srv/9" {
		t.Errorf("request = %s %s", method, path)
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	t.Run("requires server id", func(t *testing.T) {
		c, _ := newTestClient(t, http.NotFoundHandler())
		_, err := c.Update(context.Background(), testRecord(), false)
		var ve *models.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})

	t.Run("force flag", func(t *testing.T) {
		var force string
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			force = r.URL.Query().Get(ParamForce)
			var rec models.TelemetryRecord
			_ = json.NewDecoder(r.Body).Decode(&rec)
			writeJSON(t, w, http.StatusOK, rec)
		}))
		r := testRecord()
		sid := "srv-3"
		r.ServerID = &sid

		if _, err := c.Update(context.Background(), r, true); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if force != "true" {
			t.Errorf("force = %q, want true", force)
		}
		if _, err := c.Update(context.Background(), r, false); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if force != "" {
			t.Errorf("force = %q, want empty", force)
		}
	})
}

func TestCreateBatch_PartialSuccess(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathBatch || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		ok := req.Records[0]
		sid := "srv-a"
		ok.ServerID = &sid
		writeJSON(t, w, http.StatusOK, models.NewBatchResult(
			[]*models.TelemetryRecord{ok},
			[]models.BatchItemFailure{{ItemID: req.Records[1].ID, Index: 1, Error: "bad", Code: models.ItemCodeValidation}},
		))
	}))

	recs := []*models.TelemetryRecord{testRecord(), testRecord()}
	res, err := c.CreateBatch(context.Background(), recs)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if len(res.Successful) != 1 || res.Successful[0].ServerIDValue() != "srv-a" {
		t.Errorf("unexpected successes: %+v", res.Successful)
	}
	if len(res.Failed) != 1 || res.Failed[0].ItemID != recs[1].ID || res.Failed[0].Retryable() {
		t.Errorf("unexpected failures: %+v", res.Failed)
	}
}

func TestCreateBatch_EmptyMakesNoCall(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	res, err := c.CreateBatch(context.Background(), nil)
	if err != nil || res.Metadata.Total != 0 {
		t.Errorf("CreateBatch(nil) = %+v, %v", res, err)
	}
	if calls.Load() != 0 {
		t.Errorf("empty batch made %d calls", calls.Load())
	}
}

func TestQueryAndCount(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var queryPath, countPath string
	var queryKinds []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathCount:
			countPath = r.URL.RawQuery
			writeJSON(t, w, http.StatusOK, models.CountResponse{Count: 7})
		case PathTelemetry:
			queryPath = r.URL.RawQuery
			queryKinds = r.URL.Query()[ParamKind]
			writeJSON(t, w, http.StatusOK, QueryResponse{Records: []*models.TelemetryRecord{testRecord()}, Total: 1})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	f := models.RecordFilter{Kinds: []string{"light", "humidity"}, From: &from, SourceID: "s1", Limit: 10}
	recs, err := c.Query(context.Background(), f)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("Query returned %d records", len(recs))
	}
	if len(queryKinds) != 2 {
		t.Errorf("kinds = %v", queryKinds)
	}

	n, err := c.Count(context.Background(), f)
	if err != nil || n != 7 {
		t.Errorf("Count = %d, %v", n, err)
	}
	if queryPath == countPath {
		t.Errorf("count should drop paging params: %q", countPath)
	}

	parsed, err := FilterFromQuery(FilterToQuery(f))
	if err != nil {
		t.Fatalf("FilterFromQuery: %v", err)
	}
	if parsed.SourceID != "s1" || parsed.Limit != 10 || parsed.From == nil || !parsed.From.Equal(from) || len(parsed.Kinds) != 2 {
		t.Errorf("filter did not survive the query string: %+v", parsed)
	}
}

func TestFilterFromQuery_Invalid(t *testing.T) {
	t.Parallel()
	tests := []string{"from=yesterday", "limit=-1", "offset=x"}
	for _, raw := range tests {
		q, _ := parseQuery(raw)
		if _, err := FilterFromQuery(q); err == nil {
			t.Errorf("FilterFromQuery(%q) should fail", raw)
		}
	}
}

func TestCircuitBreaker_OpensOnTransientFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 3; i++ {
		if err := c.Ping(context.Background()); !models.IsNetworkError(err) {
			t.Fatalf("attempt %d: expected NetworkError, got %v", i, err)
		}
	}
	if c.BreakerState() != "open" {
		t.Fatalf("breaker state = %s, want open", c.BreakerState())
	}

	err := c.Ping(context.Background())
	if !models.IsNetworkError(err) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("open breaker should reject with NetworkError, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server saw %d requests, want 3", hits.Load())
	}
}

func TestCircuitBreaker_IgnoresClientErrors(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	r := testRecord()
	sid := "srv-1"
	r.ServerID = &sid

	for i := 0; i < 5; i++ {
		_, _ = c.Update(context.Background(), r, false)
	}
	if c.BreakerState() != "closed" {
		t.Errorf("conflicts must not trip the breaker, state = %s", c.BreakerState())
	}
}

func TestTimeoutAndCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), func(cfg *config.RemoteConfig) { cfg.Timeout = 50 * time.Millisecond })

	if err := c.Ping(context.Background()); !models.IsNetworkError(err) {
		t.Errorf("timeout should be a NetworkError, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := c.Ping(ctx)
	if !errors.Is(err, context.Canceled) || models.IsNetworkError(err) {
		t.Errorf("caller cancellation should be reported as-is, got %v", err)
	}
}

func TestRateLimit_DeadlineShorterThanWait(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), func(cfg *config.RemoteConfig) {
		cfg.RateLimit = 0.1
		cfg.Burst = 1
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("first Ping: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); !models.IsNetworkError(err) {
		t.Errorf("throttled call should fail as NetworkError, got %v", err)
	}
}

func TestFailBatch(t *testing.T) {
	t.Parallel()
	one := []*models.TelemetryRecord{testRecord()}
	two := []*models.TelemetryRecord{testRecord(), testRecord()}
	invalid := models.NewValidationError("", "record", "bad")

	tests := []struct {
		name string
		recs []*models.TelemetryRecord
		err  error
		code string
	}{
		{"network", two, &models.NetworkError{Op: "x", Err: errors.New("reset")}, models.ItemCodeNetwork},
		{"validation single record", one, invalid, models.ItemCodeValidation},
		{"validation whole batch is retryable", two, invalid, models.ItemCodeInternal},
		{"other", two, errors.New("boom"), models.ItemCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FailBatch(tt.recs, tt.err)
			if len(res.Failed) != len(tt.recs) {
				t.Fatalf("FailBatch reported %d failures, want %d", len(res.Failed), len(tt.recs))
			}
			for _, f := range res.Failed {
				if f.Code != tt.code {
					t.Errorf("code = %s, want %s", f.Code, tt.code)
				}
			}
		})
	}
}

func parseQuery(raw string) (url.Values, error) {
	return url.ParseQuery(raw)
}
