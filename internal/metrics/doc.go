// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package metrics provides Prometheus metrics for telemetrysync.

All collectors are registered with the default registry through promauto and
exposed by telemetryd at /metrics:

	curl http://127.0.0.1:8686/metrics

# Available Metrics

Local store:
  - telemetry_store_operation_duration_seconds{operation,driver}
  - telemetry_store_operation_errors_total{operation,driver}
  - telemetry_store_records{status}

Cache:
  - telemetry_cache_hits_total{cache}, telemetry_cache_misses_total{cache}
  - telemetry_cache_evictions_total{cache,reason}
  - telemetry_cache_entries{cache}

Remote client:
  - telemetry_remote_requests_total{operation,outcome}
  - telemetry_remote_request_duration_seconds{operation}
  - telemetry_remote_batch_items_total{operation,code}
  - telemetry_circuit_breaker_state{name}: 0=closed, 1=half-open, 2=open
  - telemetry_remote_rate_limit_wait_seconds

Sync:
  - telemetry_sync_passes_total{outcome}: success, partial, offline, skipped, error
  - telemetry_sync_records_total{result}: synced, retry, failed
  - telemetry_sync_conflicts_total{winner}
  - telemetry_sync_pending_records
  - telemetry_sync_last_success_timestamp_seconds

Outbox, events and API metrics follow the same naming scheme.

# Example Queries

Share of passes that left failures behind:

	sum(rate(telemetry_sync_passes_total{outcome="partial"}[1h]))
	  / sum(rate(telemetry_sync_passes_total[1h]))

Cache hit rate:

	rate(telemetry_cache_hits_total[5m])
	  / (rate(telemetry_cache_hits_total[5m]) + rate(telemetry_cache_misses_total[5m]))
*/
package metrics
