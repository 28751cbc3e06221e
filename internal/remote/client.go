// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
	"github.com/tomtom215/telemetrysync/internal/models"
)

// DefaultUserAgent is sent when no WithUserAgent option is given.
const DefaultUserAgent = "telemetrysync/dev"

const breakerName = "remote-telemetry"

// API is the Remote Telemetry API as seen by the sync orchestrator and the
// repository. Every call is network-bound and may fail with a
// *models.NetworkError; batch calls report per-item outcomes.
type API interface {
	Create(ctx context.Context, r *models.TelemetryRecord) (*models.TelemetryRecord, error)
	CreateBatch(ctx context.Context, records []*models.TelemetryRecord) (*models.BatchOperationResult, error)
	Update(ctx context.Context, r *models.TelemetryRecord, force bool) (*models.TelemetryRecord, error)
	UpdateBatch(ctx context.Context, records []*models.TelemetryRecord, force bool) (*models.BatchOperationResult, error)
	Delete(ctx context.Context, serverID string) error
	Get(ctx context.Context, serverID string) (*models.TelemetryRecord, error)
	Query(ctx context.Context, f models.RecordFilter) ([]*models.TelemetryRecord, error)
	Count(ctx context.Context, f models.RecordFilter) (int, error)
	Ping(ctx context.Context) error
}

// Client is the HTTP implementation of API.
//
// Every call passes through a shared rate limiter and a circuit breaker and
// runs under its own timeout. Only transient failures count against the
// breaker; validation, conflict and not-found replies are treated as
// healthy responses.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	timeout   time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[struct{}]
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// New creates a remote client from configuration.
func New(cfg config.RemoteConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse remote base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		userAgent:  DefaultUserAgent,
		timeout:    timeout,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    newBreaker(cfg.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newBreaker(cfg config.BreakerConfig) *gobreaker.CircuitBreaker[struct{}] {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= threshold
			if trip {
				logging.Warn().Uint32("consecutive_failures", counts.ConsecutiveFailures).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.RecordCircuitBreakerTransition(name, from.String(), to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !models.IsNetworkError(err)
		},
	})
}

// BreakerState returns the circuit breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Create sends a new record. The remote deduplicates on the client id, so a
// retry after an ambiguous failure returns the existing copy.
func (c *Client) Create(ctx context.Context, r *models.TelemetryRecord) (*models.TelemetryRecord, error) {
	var out models.TelemetryRecord
	err := c.execute(ctx, "create", requestConfig{
		method:   http.MethodPost,
		path:     PathTelemetry,
		body:     r,
		recordID: r.ID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBatch sends records without a server id. A failure of the whole call
// is returned as an error; per-item failures are in the result.
func (c *Client) CreateBatch(ctx context.Context, records []*models.TelemetryRecord) (*models.BatchOperationResult, error) {
	return c.batch(ctx, "create_batch", http.MethodPost, records, false)
}

// Update replaces the remote copy of a synced record. force overrides the
// remote's stale-write check and is used when the local copy won a conflict.
func (c *Client) Update(ctx context.Context, r *models.TelemetryRecord, force bool) (*models.TelemetryRecord, error) {
	if !r.HasServerID() {
		return nil, models.NewValidationError(r.ID, "server_id", "update requires a server id")
	}

	updatedAt := r.UpdatedAt
	var out models.TelemetryRecord
	err := c.execute(ctx, "update", requestConfig{
		method:    http.MethodPut,
		path:      PathTelemetry + "/" + url.PathEscape(*r.ServerID),
		query:     forceQuery(force),
		body:      r,
		recordID:  r.ID,
		serverID:  *r.ServerID,
		updatedAt: &updatedAt,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateBatch replaces the remote copies of records that have a server id.
func (c *Client) UpdateBatch(ctx context.Context, records []*models.TelemetryRecord, force bool) (*models.BatchOperationResult, error) {
	return c.batch(ctx, "update_batch", http.MethodPut, records, force)
}

// Delete removes a record by server id. A record the remote does not know
// counts as deleted.
func (c *Client) Delete(ctx context.Context, serverID string) error {
	err := c.execute(ctx, "delete", requestConfig{
		method:   http.MethodDelete,
		path:     PathTelemetry + "/" + url.PathEscape(serverID),
		serverID: serverID,
	}, nil)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

// Get fetches a record by server id, or models.ErrNotFound.
func (c *Client) Get(ctx context.Context, serverID string) (*models.TelemetryRecord, error) {
	var out models.TelemetryRecord
	err := c.execute(ctx, "get", requestConfig{
		method:   http.MethodGet,
		path:     PathTelemetry + "/" + url.PathEscape(serverID),
		serverID: serverID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Query lists remote records matching the filter.
func (c *Client) Query(ctx context.Context, f models.RecordFilter) ([]*models.TelemetryRecord, error) {
	var out QueryResponse
	err := c.execute(ctx, "query", requestConfig{
		method: http.MethodGet,
		path:   PathTelemetry,
		query:  FilterToQuery(f),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Records == nil {
		out.Records = []*models.TelemetryRecord{}
	}
	return out.Records, nil
}

// Count returns the number of remote records matching the filter.
func (c *Client) Count(ctx context.Context, f models.RecordFilter) (int, error) {
	q := FilterToQuery(f)
	q.Del(ParamLimit)
	q.Del(ParamOffset)

	var out models.CountResponse
	if err := c.execute(ctx, "count", requestConfig{
		method: http.MethodGet,
		path:   PathCount,
		query:  q,
	}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Ping checks that the remote is reachable and healthy.
func (c *Client) Ping(ctx context.Context) error {
	return c.execute(ctx, "ping", requestConfig{method: http.MethodGet, path: PathHealth}, nil)
}

func (c *Client) batch(ctx context.Context, op, method string, records []*models.TelemetryRecord, force bool) (*models.BatchOperationResult, error) {
	if len(records) == 0 {
		return models.NewBatchResult(nil, nil), nil
	}

	var out models.BatchOperationResult
	err := c.execute(ctx, op, requestConfig{
		method: method,
		path:   PathBatch,
		query:  forceQuery(force),
		body:   BatchRequest{Records: records},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Successful == nil {
		out.Successful = []*models.TelemetryRecord{}
	}
	if out.Failed == nil {
		out.Failed = []models.BatchItemFailure{}
	}

	metrics.RemoteBatchItems.WithLabelValues(op, "OK").Add(float64(len(out.Successful)))
	for _, f := range out.Failed {
		metrics.RemoteBatchItems.WithLabelValues(op, f.Code).Inc()
	}
	return &out, nil
}

// execute runs one request through the limiter, the breaker and the
// per-call timeout, and records its outcome.
func (c *Client) execute(ctx context.Context, op string, rc requestConfig, out interface{}) error {
	start := time.Now()

	err := c.wait(ctx, op)
	if err == nil {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		_, err = c.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, c.do(callCtx, ctx, op, rc, out)
		})
		cancel()
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordRemoteRequest(op, outcomeRejected, time.Since(start))
		return &models.NetworkError{Op: op, Err: err}
	}

	outcome := outcomeOf(err)
	metrics.RecordRemoteRequest(op, outcome, time.Since(start))

	event := logging.Ctx(ctx).Debug()
	if outcome == outcomeNetwork {
		event = logging.Ctx(ctx).Warn()
	}
	event.Str("op", op).Str("outcome", outcome).Dur("duration", time.Since(start)).Err(err).Msg("Remote call completed")
	return err
}

func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter.Limit() == rate.Inf {
		return nil
	}
	start := time.Now()
	err := c.limiter.Wait(ctx)
	metrics.RemoteRateLimitWait.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The wait would outlast the caller's deadline.
		return &models.NetworkError{Op: op, Err: fmt.Errorf("rate limit: %w", err)}
	}
	return nil
}

func forceQuery(force bool) url.Values {
	if !force {
		return nil
	}
	return url.Values{ParamForce: []string{strconv.FormatBool(true)}}
}
