// Package observability exposes the Prometheus metrics emitted by the
// orchestration engine. Names are grouped by subsystem the way the teacher
// groups its flux_* metrics by component.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// --- LockManager ---

	LockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdmflow_lock_acquisitions_total",
		Help: "Lock acquire attempts by outcome (acquired, timeout, takeover)",
	}, []string{"outcome"})

	LockHoldDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mdmflow_lock_hold_duration_seconds",
		Help:    "Duration a lock was held between acquire and release",
		Buckets: prometheus.DefBuckets,
	})

	LockTakeovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdmflow_lock_takeovers_total",
		Help: "Stale locks forcibly reclaimed, by source (acquire-path, janitor)",
	}, []string{"source"})

	// --- RowStore ---

	RowCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdmflow_row_cache_result_total",
		Help: "RowStore cache lookups by result (hit, miss)",
	}, []string{"result"})

	RowWriteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mdmflow_row_write_duration_seconds",
		Help:    "Duration of row-store writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"})

	// --- ConfigCache ---

	ConfigCacheRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdmflow_config_cache_refresh_total",
		Help: "ConfigCache relation refreshes by relation and outcome",
	}, []string{"relation", "outcome"})

	// --- ApprovalSync ---

	ApprovalLevelOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdmflow_approval_level_outcome_total",
		Help: "ApprovalSync per-level outcomes (auto_approved, exists, invalid, pending, resolved)",
	}, []string{"level", "outcome"})

	// --- RequestFSM ---

	RequestFSMDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mdmflow_requestfsm_handler_duration_seconds",
		Help:    "Duration of RequestFSM entry points",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	RequestFSMTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdmflow_requestfsm_timeouts_total",
		Help: "RequestFSM handler invocations forcibly cancelled on their hard deadline",
	}, []string{"handler"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdmflow_notification_failures_total",
		Help: "Outbound notification attempts exhausted without success",
	}, []string{"kind"})

	RequestNumberFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdmflow_request_number_fallback_total",
		Help: "Times RequestNumber generation fell back to the wall-clock derived number",
	})

	// --- Allocator / WorkloadCounter ---

	AllocationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdmflow_allocation_decisions_total",
		Help: "Allocator decisions by path (matrix, bau, default) and tie-break (single, round_robin)",
	}, []string{"path", "tiebreak"})

	WorkloadSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mdmflow_agent_workload_seconds",
		Help: "Current outstanding workload seconds per agent",
	}, []string{"agent"})

	// --- Scheduler ---

	SchedulerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mdmflow_scheduler_queue_depth",
		Help: "Candidate rows scanned in the latest sweep per table",
	}, []string{"table"})

	SchedulerSweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mdmflow_scheduler_sweep_duration_seconds",
		Help:    "Duration of a single scheduler sweep over a table",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"})

	SchedulerCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mdmflow_scheduler_circuit_state",
		Help: "Scheduler circuit breaker state per table (0=closed, 1=half_open, 2=open)",
	}, []string{"table"})

	SchedulerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdmflow_scheduler_rejections_total",
		Help: "Rows skipped during a sweep by reason",
	}, []string{"reason"})

	// --- HTTP ---

	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdmflow_api_rate_limited_total",
		Help: "API requests rejected by the per-caller rate limiter, by route",
	}, []string{"route"})
)
