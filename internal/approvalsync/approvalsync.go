// Package approvalsync implements the per-level reconciliation check (C4,
// spec.md §4.4): for one approval level, cross-check the external
// attachment's status/name cells against the internal row and report what
// the FSM should do next. Grounded on control_plane/reconciler.go's
// check/apply staging (read external truth, validate, report outcome —
// mutation left to the caller).
package approvalsync

import (
	"context"

	"github.com/itskum47/mdmflow/internal/configcache"
	"github.com/itskum47/mdmflow/internal/observability"
)

// Outcome is the result kind returned by Evaluate.
type Outcome string

const (
	// OutcomeNoLevel means the row has no column for this level: this
	// request type has fewer levels than the caller's loop bound.
	OutcomeNoLevel Outcome = "no_level"
	// OutcomeExists means the internal row already carries an authoritative
	// (Status, Name) for this level; nothing further to ingest.
	OutcomeExists Outcome = "exists"
	// OutcomeInvalid means the external cells were malformed; the caller
	// should clear the external Status cell and notify.
	OutcomeInvalid Outcome = "invalid"
	// OutcomePending means both external cells are empty: awaiting action.
	OutcomePending Outcome = "pending"
	// OutcomeResolved means a clean, validated status/name pair is ready
	// for the FSM to ingest.
	OutcomeResolved Outcome = "resolved"
)

// Result is what Evaluate reports back to the FSM for ingestion.
type Result struct {
	Outcome    Outcome
	Status     string
	Name       string
	IsApprover bool // whether this level has any configured approver
}

// Row is the minimal view ApprovalSync needs of a request row: whether a
// column exists for a level, and the internal (already-ingested) value at
// that level, if any.
type Row interface {
	HasLevel(level int) bool
	InternalStatus(level int) (status, name string, ok bool)
	BusinessUnit() string
	Department() string
	RequestType() string
}

// Attachment is the minimal view ApprovalSync needs of the external
// document: the external status/name cells for a level, and a way to
// clear the status cell on an invalid sync.
type Attachment interface {
	ExternalStatus(level int) (status, name string, err error)
	ClearExternalStatus(level int, reason string) error
}

// levelEnum is the enumerated set of valid external Status values per
// level, from spec.md §3 ("Status (level 0 in {Completed, Expired,
// Invalid, NeedReview}; levels 1..3 in {Approved, Rejected,
// PartiallyRejected, SendBack})").
var levelEnum = map[int][]string{
	0: {"Completed", "Expired", "Invalid", "Need Review"},
	1: {"Approved", "Rejected", "Partially Rejected", "Send Back"},
	2: {"Approved", "Rejected", "Partially Rejected", "Send Back"},
	3: {"Approved", "Rejected", "Partially Rejected", "Send Back"},
}

func inEnum(level int, status string) bool {
	for _, v := range levelEnum[level] {
		if v == status {
			return true
		}
	}
	return false
}

// Evaluate implements spec.md §4.4 steps 1-5 for a single level. Levels
// must be called in ascending order by the caller (the FSM); a Rejected
// or SendBack result short-circuits further levels, per the ordering
// guarantee.
func Evaluate(ctx context.Context, cc *configcache.ConfigCache, row Row, att Attachment, level int) (Result, error) {
	if !row.HasLevel(level) {
		return Result{Outcome: OutcomeNoLevel}, nil
	}

	isApprover := true
	if level > 0 {
		approvers, err := cc.Approvers(ctx, row.BusinessUnit(), row.Department(), row.RequestType(), level, true)
		if err != nil {
			return Result{}, err
		}
		if len(approvers) == 0 {
			// No approver configured: auto-approve with the sentinel,
			// per spec.md §4.4 step 2 and I2.
			observability.ApprovalLevelOutcomes.WithLabelValues(levelLabel(level), "auto_approved").Inc()
			return Result{Outcome: OutcomeResolved, Status: "Approved", Name: configcache.NoApprover, IsApprover: false}, nil
		}
	}

	if status, name, ok := row.InternalStatus(level); ok && status != "" && name != "" {
		observability.ApprovalLevelOutcomes.WithLabelValues(levelLabel(level), "exists").Inc()
		return Result{Outcome: OutcomeExists, Status: status, Name: name, IsApprover: isApprover}, nil
	}

	extStatus, extName, err := att.ExternalStatus(level)
	if err != nil {
		return Result{}, err
	}

	if extStatus != "" && (extName == "" || !inEnum(level, extStatus)) {
		if err := att.ClearExternalStatus(level, "invalid sync: status without name, or status outside enumerated set"); err != nil {
			return Result{}, err
		}
		observability.ApprovalLevelOutcomes.WithLabelValues(levelLabel(level), "invalid").Inc()
		return Result{Outcome: OutcomeInvalid}, nil
	}

	if extStatus == "" && extName == "" {
		observability.ApprovalLevelOutcomes.WithLabelValues(levelLabel(level), "pending").Inc()
		return Result{Outcome: OutcomePending, IsApprover: isApprover}, nil
	}

	observability.ApprovalLevelOutcomes.WithLabelValues(levelLabel(level), "resolved").Inc()
	return Result{Outcome: OutcomeResolved, Status: extStatus, Name: extName, IsApprover: isApprover}, nil
}

func levelLabel(level int) string {
	switch level {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "unknown"
	}
}

// IsShortCircuit reports whether status terminates the level loop for
// the remaining levels, per spec.md §4.4's ordering guarantee ("A
// Rejected or SendBack at any level short-circuits the remaining
// levels"). Partially Rejected is deliberately excluded: per I2, a level
// with Status=PartiallyRejected counts toward "all applicable levels
// Approved or PartiallyRejected" and the chain keeps advancing.
func IsShortCircuit(status string) bool {
	return status == "Rejected" || status == "Send Back"
}
