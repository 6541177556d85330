// Package configcache memoizes the five read-mostly configuration
// relations consulted throughout request processing (approver rosters,
// SLA baselines, work-allocation rules, the distribution matrix, priority
// weights). Grounded on control_plane/idempotency/store.go's pluggable
// backend + in-memory-fallback idiom, generalized from "cache an HTTP
// response by idempotency key" to "cache a config relation by lookup key,
// with a relation-specific TTL and an explicit refresh trigger."
package configcache

// ApproverRule is one row of the Approvers relation.
type ApproverRule struct {
	BusinessUnit string
	Department   string
	RequestType  string
	Level        int
	Approvers    []string // email addresses, or [NO_APPROVER]
}

// BaselineRule is one row of the Baseline relation: TotalTask in
// [Min, Max] (Max<0 means "+", i.e. unbounded) maps to Seconds, with
// IsPerTask marking whether Seconds is a per-unit rate or a flat total.
type BaselineRule struct {
	RequestType string
	Min         int
	Max         int // -1 == unbounded ("+")
	Seconds     int64
	IsPerTask   bool
}

// WorkAllocationRule is one row of the Work Allocation relation: for
// (BusinessUnit, Department, RequestType), an ordered list of candidate
// groups — [primary, backup1, backup2, ...] — where each group is itself
// a set of tied candidates (spec.md §4.6's BAU fallback path).
type WorkAllocationRule struct {
	BusinessUnit string
	Department   string
	RequestType  string
	Groups       [][]string
}

// PriorityWeight is one row of the Priority Weight relation. Allocator
// does not use it to break least-loaded ties (those go round-robin).
type PriorityWeight struct {
	RequestType string
	Weight      int
}
