// Package metrics provides the centralized Prometheus metrics registry for
// the vendor sync engine. All metrics are defined in their respective
// packages (vendorapi, ratelimit, pagination, spool, watermark, sync,
// schedule) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the sync engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - vendor_throttle_penalties_total (Counter): Throttle penalties recorded from vendor responses
//   - vendor_throttle_blocks_total (Counter): Requests blocked because an open penalty was too long to wait out
//   - vendor_throttle_waits_total (Counter): Requests that waited out a short penalty before proceeding
//   - vendor_gate_acquisitions_total{endpoint} (Counter): Capacity slot acquisitions by endpoint
//   - vendor_gate_wait_seconds{endpoint} (Histogram): Time spent waiting for endpoint capacity
//
// Request Metrics (pkg/vendorapi):
//   - vendor_requests_total{endpoint, result} (Counter): Requests by endpoint and result (success, rejected, throttled, transport, blocked)
//   - vendor_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - vendor_errors_total{class} (Counter): Errors by class (throttled, rejected, transport, persistence)
//
// Retry Metrics (pkg/vendorapi):
//   - vendor_retries_total (Counter): Throttle retry attempts
//   - vendor_retry_backoff_seconds (Histogram): Linear backoff wait per retry
//   - vendor_retry_exhausted_total (Counter): Calls that exhausted max retries while throttled
//
// Pagination Metrics (pkg/pagination):
//   - vendor_fetch_pages_total (Counter): Pages fetched across all runs
//   - vendor_fetch_partial_total (Counter): Fetch runs that terminated with partial data
//   - vendor_fetch_duration_seconds (Histogram): Full fetch-run duration
//
// Spool Metrics (pkg/spool):
//   - vendor_spool_writes_total (Counter): Pages written to the Redis spool
//   - vendor_spool_bytes_total (Counter): Bytes written to the Redis spool
//   - vendor_spool_errors_total{operation} (Counter): Spool operation errors
//
// Watermark Metrics (pkg/watermark):
//   - vendor_watermark_upserts_total{status} (Counter): Watermark upserts by run status
//   - vendor_watermark_lag_days{task_type} (Gauge): Days between the last synced boundary and yesterday
//
// Sync Run Metrics (pkg/sync):
//   - vendor_sync_runs_total{task_type, state} (Counter): Shard runs by final state
//   - vendor_sync_records_total{task_type} (Counter): Records synced by task type
//   - vendor_sync_run_duration_seconds{task_type} (Histogram): Duration of one shard run
//
// Schedule Metrics (pkg/schedule):
//   - vendor_job_runs_total{job, status} (Counter): Recorded scheduled job runs
//
// Example Prometheus Queries:
//
//   # Throttle pressure
//   rate(vendor_throttle_penalties_total[15m])
//
//   # Partial fetch rate
//   rate(vendor_fetch_partial_total[1h]) / rate(vendor_sync_runs_total[1h])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(vendor_request_duration_seconds_bucket[5m]))
//
//   # Sync freshness per task type
//   max by (task_type) (vendor_watermark_lag_days)
//
//   # Failed run ratio
//   sum(rate(vendor_sync_runs_total{state="failed"}[6h])) /
//   sum(rate(vendor_sync_runs_total[6h]))
