// Package rowstore abstracts the tabular backing store (spec.md §3, §4.2,
// §6 "Row store boundary"), grounded on control_plane/store/{types,
// interface,redis,postgres}.go. Columns that are part of the fixed
// contract are promoted to typed fields; anything else travels in Extra.
package rowstore

import (
	"fmt"
	"time"
)

// ApprovalStatus enumerates the wire-level approver-level status values
// from spec.md §6.
type ApprovalStatus string

const (
	ApprovalApproved          ApprovalStatus = "Approved"
	ApprovalRejected          ApprovalStatus = "Rejected"
	ApprovalPartiallyRejected ApprovalStatus = "Partially Rejected"
	ApprovalSendBack          ApprovalStatus = "Send Back"
)

// RequesterStatus enumerates level-0 status values from spec.md §6.
type RequesterStatus string

const (
	RequesterCompleted  RequesterStatus = "Completed"
	RequesterExpired    RequesterStatus = "Expired"
	RequesterInvalid    RequesterStatus = "Invalid"
	RequesterNeedReview RequesterStatus = "Need Review"
)

// ProcessStatus enumerates spec.md §3's MDM ProcessStatus values.
type ProcessStatus string

const (
	ProcessNone              ProcessStatus = ""
	ProcessOnGoing           ProcessStatus = "On Going"
	ProcessCompleted         ProcessStatus = "Completed"
	ProcessPartiallyRejected ProcessStatus = "Partially Rejected"
	ProcessRejected          ProcessStatus = "Rejected"
	ProcessSendBack          ProcessStatus = "Send Back"
)

// NoApprover is the sentinel name meaning "level auto-approved" (spec.md §4.3/I2).
const NoApprover = "NO_APPROVER"

// ApprovalLevel is one of the four ordinal records per request (spec.md §3).
type ApprovalLevel struct {
	Level     int       `json:"level" db:"level"`
	Status    string    `json:"status" db:"status"` // RequesterStatus at level 0, ApprovalStatus at 1..3
	Name      string    `json:"name" db:"name"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Request is the primary entity from spec.md §3.
type Request struct {
	RequestNumber         string          `json:"request_number" db:"request_number"`
	RequestType           string          `json:"request_type" db:"request_type"`
	Department             string         `json:"department" db:"department"`
	BusinessUnit           string         `json:"business_unit" db:"business_unit"`
	RequesterEmail         string         `json:"requester_email" db:"requester_email"`
	AttachmentRef          string         `json:"attachment_ref" db:"attachment_ref"`
	Timestamp              time.Time      `json:"timestamp" db:"timestamp"`
	TotalTask              int            `json:"total_task" db:"total_task"`
	Baseline               int64          `json:"baseline" db:"baseline"` // seconds per unit or flat
	BaselineIsPerTask       bool          `json:"baseline_is_per_task" db:"baseline_is_per_task"`
	EstimatedTime           int64          `json:"estimated_time" db:"estimated_time"` // seconds
	EstimatedTimeFinished   *time.Time     `json:"estimated_time_finished" db:"estimated_time_finished"`
	ProcessedBy             string         `json:"processed_by" db:"processed_by"` // "" until allocated
	ProcessStatus           ProcessStatus  `json:"process_status" db:"process_status"`
	FeedbackStatus          string         `json:"feedback_status" db:"feedback_status"`
	TakenDate               *time.Time     `json:"taken_date" db:"taken_date"`
	ProcessedDate           *time.Time     `json:"processed_date" db:"processed_date"`

	Levels []ApprovalLevel `json:"levels" db:"-"`

	NewSubmissionStatus     bool   `json:"new_submission_status" db:"new_submission_status"`
	AskApprovalStatus       map[int]bool `json:"ask_approval_status" db:"-"` // per-level "asked" guard cells
	SystemSentBackCount     int    `json:"system_sent_back_count" db:"system_sent_back_count"`
	SystemSentBackEmailSent int    `json:"system_sent_back_email_sent" db:"system_sent_back_email_sent"`

	// Version carries the row's stored version value through ToRecord and
	// RequestFromRecord. No write compares it; the Postgres store
	// increments its own version column on every write.
	Version int `json:"version" db:"version"`

	// Extra carries passthrough columns not yet promoted to a typed
	// field, matching store.Agent.Metadata's JSONB escape hatch.
	Extra map[string]string `json:"extra" db:"extra"`
}

// Level returns the ApprovalLevel record at the given ordinal, or a zero
// value with ok=false if the row has no column for that level (fewer
// levels than 4, per spec.md §4.4 step 1).
func (r *Request) Level(level int) (ApprovalLevel, bool) {
	for _, l := range r.Levels {
		if l.Level == level {
			return l, true
		}
	}
	return ApprovalLevel{}, false
}

// SetLevel upserts the ApprovalLevel record for the given ordinal.
func (r *Request) SetLevel(l ApprovalLevel) {
	for i := range r.Levels {
		if r.Levels[i].Level == l.Level {
			r.Levels[i] = l
			return
		}
	}
	r.Levels = append(r.Levels, l)
}

// Agent is a worker (spec.md §3).
type Agent struct {
	Name            string `json:"name" db:"name"`
	Active          bool   `json:"active" db:"active"`
	Free            bool   `json:"free" db:"free"`
	WorkloadSeconds int64  `json:"workload_seconds" db:"workload_seconds"`
}

// Record is the generic ColumnName -> value passthrough map used where a
// table's column vocabulary hasn't been promoted to a typed struct, per
// the §9 design note ("Dynamic-typed row maps... become typed records...
// plus a generic Record for passthrough").
type Record map[string]any

// ToRecord flattens a Request into the Record shape Store operates on.
// Levels/AskApprovalStatus (db:"-") are fanned out into per-level columns
// since the underlying Store has no notion of a nested struct column.
func (r *Request) ToRecord() Record {
	rec := Record{
		"request_number":             r.RequestNumber,
		"request_type":               r.RequestType,
		"department":                 r.Department,
		"business_unit":              r.BusinessUnit,
		"requester_email":            r.RequesterEmail,
		"attachment_ref":             r.AttachmentRef,
		"timestamp":                  r.Timestamp,
		"total_task":                 r.TotalTask,
		"baseline":                   r.Baseline,
		"baseline_is_per_task":       r.BaselineIsPerTask,
		"estimated_time":             r.EstimatedTime,
		"processed_by":               r.ProcessedBy,
		"process_status":             string(r.ProcessStatus),
		"feedback_status":            r.FeedbackStatus,
		"new_submission_status":      r.NewSubmissionStatus,
		"system_sent_back_count":     r.SystemSentBackCount,
		"system_sent_back_email_sent": r.SystemSentBackEmailSent,
		"version":                    r.Version,
	}
	if r.EstimatedTimeFinished != nil {
		rec["estimated_time_finished"] = *r.EstimatedTimeFinished
	}
	if r.TakenDate != nil {
		rec["taken_date"] = *r.TakenDate
	}
	if r.ProcessedDate != nil {
		rec["processed_date"] = *r.ProcessedDate
	}
	for level := 0; level <= 3; level++ {
		l, ok := r.Level(level)
		if !ok {
			continue
		}
		prefix := levelColumnPrefix(level)
		rec[prefix+"status"] = l.Status
		rec[prefix+"name"] = l.Name
		rec[prefix+"timestamp"] = l.Timestamp
	}
	for level, asked := range r.AskApprovalStatus {
		rec[fmt.Sprintf("ask_approval_status_%d", level)] = asked
	}
	for k, v := range r.Extra {
		if _, exists := rec[k]; !exists {
			rec[k] = v
		}
	}
	return rec
}

// RequestFromRecord rebuilds a Request from the flattened Record shape,
// the inverse of ToRecord. A level whose status column is absent from
// both rec and cols (the table's known header set) is treated as "no
// column for this level" (spec.md §4.4 step 1); a level named in cols
// but absent from rec becomes an empty (zero-value) level.
func RequestFromRecord(rec Record, cols []string) *Request {
	r := &Request{
		RequestNumber:           str(rec["request_number"]),
		RequestType:             str(rec["request_type"]),
		Department:              str(rec["department"]),
		BusinessUnit:            str(rec["business_unit"]),
		RequesterEmail:          str(rec["requester_email"]),
		AttachmentRef:           str(rec["attachment_ref"]),
		Timestamp:               asTime(rec["timestamp"]),
		TotalTask:               asInt(rec["total_task"]),
		Baseline:                asInt64(rec["baseline"]),
		BaselineIsPerTask:       asBool(rec["baseline_is_per_task"]),
		EstimatedTime:           asInt64(rec["estimated_time"]),
		ProcessedBy:             str(rec["processed_by"]),
		ProcessStatus:           ProcessStatus(str(rec["process_status"])),
		FeedbackStatus:          str(rec["feedback_status"]),
		NewSubmissionStatus:     asBool(rec["new_submission_status"]),
		SystemSentBackCount:     asInt(rec["system_sent_back_count"]),
		SystemSentBackEmailSent: asInt(rec["system_sent_back_email_sent"]),
		Version:                 asInt(rec["version"]),
		AskApprovalStatus:       make(map[int]bool),
		Extra:                   make(map[string]string),
	}
	if t := asTime(rec["estimated_time_finished"]); !t.IsZero() {
		r.EstimatedTimeFinished = &t
	}
	if t := asTime(rec["taken_date"]); !t.IsZero() {
		r.TakenDate = &t
	}
	if t := asTime(rec["processed_date"]); !t.IsZero() {
		r.ProcessedDate = &t
	}

	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}
	for level := 0; level <= 3; level++ {
		prefix := levelColumnPrefix(level)
		statusKey := prefix + "status"
		if _, ok := rec[statusKey]; !ok && !known[statusKey] {
			continue
		}
		r.SetLevel(ApprovalLevel{
			Level:     level,
			Status:    str(rec[statusKey]),
			Name:      str(rec[prefix+"name"]),
			Timestamp: asTime(rec[prefix+"timestamp"]),
		})
		if level > 0 {
			if v, ok := rec[fmt.Sprintf("ask_approval_status_%d", level)]; ok {
				r.AskApprovalStatus[level] = asBool(v)
			}
		}
	}
	return r
}

func levelColumnPrefix(level int) string {
	return fmt.Sprintf("level_%d_", level)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
