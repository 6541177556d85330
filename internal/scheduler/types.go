package scheduler

import "time"

// Mode is the scheduler's operating mode, carried over in idiom from
// scheduler.SchedulerMode (spec.md §4.8's Scheduler is grounded on it).
type Mode string

const (
	ModeNormal   Mode = "NORMAL"
	ModeDegraded Mode = "DEGRADED"  // only the onSubmit-retry and sendBack-retry sweeps run
	ModeReadOnly Mode = "READ_ONLY" // no sweep dispatches a handler; observation only
	ModeDraining Mode = "DRAINING"  // same as READ_ONLY; kept distinct for operator intent
)

// MasterTable is one master table the scheduler sweeps for advancement
// and onSubmit-retry, per spec.md §4.8.
type MasterTable struct {
	Table             string
	TableAbbreviation string
}

// AssigneeTable is one per-agent table swept for the child-interval
// repair pass (spec.md E4).
type AssigneeTable struct {
	Table string
}

// Config tunes the sweep cadence and backpressure thresholds.
type Config struct {
	// SweepInterval is how often each table is polled.
	SweepInterval time.Duration
	// SweepBudget is the cooperative per-sweep time budget (spec.md
	// §4.8: "the Scheduler checks a per-sweep time budget; on exceeding
	// it, it stops and lets the next tick resume").
	SweepBudget time.Duration
	// OnSubmitRetryWindow is the "not completed within 10 minutes"
	// threshold from spec.md §4.8.
	OnSubmitRetryWindow time.Duration
	// MaxConcurrency bounds in-flight row handlers per table sweep, used
	// to compute saturation for the circuit breaker.
	MaxConcurrency int
	// CircuitBreakerQueueThreshold is the candidate-queue depth that
	// opens the per-table circuit breaker.
	CircuitBreakerQueueThreshold int
	// CircuitBreakerCooldown is how long a table's breaker stays open
	// before it starts admitting half-open probe rows again.
	CircuitBreakerCooldown time.Duration
	// CircuitBreakerCloseAfter is the number of consecutive successful
	// half-open probe rows required before the breaker closes.
	CircuitBreakerCloseAfter int
	// ShardIndex/ShardCount split each table's row scan across multiple
	// scheduler instances (spec.md §4.8's "multiple tables may run in
	// parallel" generalized to sharded processes of the same table).
	ShardIndex int
	ShardCount int
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:                5 * time.Second,
		SweepBudget:                  2 * time.Second,
		OnSubmitRetryWindow:          10 * time.Minute,
		MaxConcurrency:               10,
		CircuitBreakerQueueThreshold: 1000,
		CircuitBreakerCooldown:       30 * time.Second,
		CircuitBreakerCloseAfter:     5,
		ShardIndex:                   0,
		ShardCount:                   1,
	}
}
