// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Local store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_store_operation_duration_seconds",
			Help:    "Duration of local store operations in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation", "driver"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_store_operation_errors_total",
			Help: "Total number of failed local store operations",
		},
		[]string{"operation", "driver"},
	)

	StoreRecordsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_store_records",
			Help: "Number of locally stored records by sync status",
		},
		[]string{"status"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_cache_evictions_total",
			Help: "Total number of cache entries evicted by capacity or expiry",
		},
		[]string{"cache", "reason"}, // "capacity", "expired"
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache"},
	)

	// Remote client metrics
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_remote_requests_total",
			Help: "Total number of remote API calls by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: "success", "network", "validation", "conflict", "not_found", "error"
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_remote_request_duration_seconds",
			Help:    "Duration of remote API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RemoteBatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_remote_batch_items_total",
			Help: "Items sent in remote batch calls by per-item result code",
		},
		[]string{"operation", "code"}, // code: "OK" or a failure code
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	RemoteRateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_remote_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the client-side rate limiter",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 5},
		},
	)

	// Connectivity metrics
	ConnectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_connectivity_online",
			Help: "1 when the remote API is reachable, 0 otherwise",
		},
	)

	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_connectivity_transitions_total",
			Help: "Total number of online/offline transitions",
		},
		[]string{"to"}, // "online", "offline"
	)

	// Sync metrics
	SyncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_sync_passes_total",
			Help: "Total number of sync passes by outcome",
		},
		[]string{"outcome"}, // "success", "partial", "offline", "skipped", "error"
	)

	SyncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_sync_pass_duration_seconds",
			Help:    "Duration of sync passes in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
	)

	SyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_sync_records_total",
			Help: "Total number of records processed by sync passes",
		},
		[]string{"result"}, // "synced", "retry", "failed"
	)

	SyncConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_sync_conflicts_total",
			Help: "Total number of conflicts resolved last-write-wins",
		},
		[]string{"winner"}, // "local", "remote"
	)

	SyncPendingRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_sync_pending_records",
			Help: "Number of records not yet synced (pending, in progress or retryable)",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful sync pass",
		},
	)

	// Opportunistic remote calls issued by the repository after a local commit
	OpportunisticCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_opportunistic_remote_calls_total",
			Help: "Best-effort remote calls issued after local writes",
		},
		[]string{"operation", "outcome"}, // outcome: "synced", "deferred", "skipped"
	)

	// Delete outbox metrics
	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_outbox_pending",
			Help: "Number of remote deletes waiting in the outbox",
		},
	)

	OutboxWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_outbox_writes_total",
			Help: "Total number of tombstones written to the outbox",
		},
	)

	OutboxConfirms = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_outbox_confirms_total",
			Help: "Total number of remote deletes confirmed and removed from the outbox",
		},
	)

	OutboxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_outbox_retries_total",
			Help: "Total number of outbox delivery retries by outcome",
		},
		[]string{"outcome"}, // "success", "failure", "dropped"
	)

	OutboxGCRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_outbox_gc_runs_total",
			Help: "Total number of outbox value-log GC runs",
		},
		[]string{"result"}, // "rewritten", "nothing"
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_published_total",
			Help: "Total number of events published on the in-process bus",
		},
		[]string{"topic"},
	)

	EventsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_forwarded_total",
			Help: "Total number of events mirrored to NATS",
		},
		[]string{"topic", "status"}, // status: "success", "error"
	)

	SubscriberDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_subscriber_drops_total",
			Help: "Values dropped because a subscriber was not keeping up",
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_api_requests_total",
			Help: "Total number of local API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_api_request_duration_seconds",
			Help:    "Duration of local API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_api_active_requests",
			Help: "Number of in-flight local API requests",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_websocket_connections",
			Help: "Current number of websocket clients",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_websocket_messages_total",
			Help: "Messages queued to websocket clients",
		},
		[]string{"type"},
	)

	WebSocketDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_websocket_broadcast_drops_total",
			Help: "Broadcasts dropped because the hub queue was full",
		},
		[]string{"type"},
	)
)

// RecordStoreOperation records a local store operation.
func RecordStoreOperation(operation, driver string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation, driver).Observe(duration.Seconds())
	if err != nil {
		StoreOperationErrors.WithLabelValues(operation, driver).Inc()
	}
}

// RecordRemoteRequest records a remote API call and its classified outcome.
func RecordRemoteRequest(operation, outcome string, duration time.Duration) {
	RemoteRequestsTotal.WithLabelValues(operation, outcome).Inc()
	RemoteRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCircuitBreakerTransition updates the breaker gauge and transition counter.
func RecordCircuitBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// SetOnline records the connectivity state. transition is true when it changed.
func SetOnline(online, transition bool) {
	to := "offline"
	v := 0.0
	if online {
		to = "online"
		v = 1
	}
	ConnectivityOnline.Set(v)
	if transition {
		ConnectivityTransitions.WithLabelValues(to).Inc()
	}
}

// RecordSyncPass records the outcome of a sync pass.
func RecordSyncPass(outcome string, duration time.Duration, synced, retried, failed int) {
	SyncPassesTotal.WithLabelValues(outcome).Inc()
	SyncPassDuration.Observe(duration.Seconds())
	if synced > 0 {
		SyncRecordsTotal.WithLabelValues("synced").Add(float64(synced))
	}
	if retried > 0 {
		SyncRecordsTotal.WithLabelValues("retry").Add(float64(retried))
	}
	if failed > 0 {
		SyncRecordsTotal.WithLabelValues("failed").Add(float64(failed))
	}
	if outcome == "success" {
		SyncLastSuccess.SetToCurrentTime()
	}
}

// UpdateStatusCounts replaces the per-status record gauges.
func UpdateStatusCounts(counts map[string]int) {
	for status, n := range counts {
		StoreRecordsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// RecordAPIRequest records a local API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
