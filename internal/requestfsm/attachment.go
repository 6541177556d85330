package requestfsm

import (
	"context"

	"github.com/itskum47/mdmflow/internal/approvalsync"
)

// ValidationResult is the outcome of §4.5.a attachment validation: per
// mandatory column, either it was empty or it failed its declared
// validation rule.
type ValidationResult struct {
	EmptyCols   []string
	InvalidCols []string
}

// OK reports whether the attachment passed validation with no empty or
// invalid mandatory cells.
func (v ValidationResult) OK() bool {
	return len(v.EmptyCols) == 0 && len(v.InvalidCols) == 0
}

// Attachment is the external tabular document boundary (spec.md §1,
// "attachment template cloning and ACL management on an external
// document store" is out of scope; only the interface is specified
// here, per §6's Attachment boundary). It embeds approvalsync.Attachment
// so a single concrete type serves both packages.
type Attachment interface {
	approvalsync.Attachment

	// Exists reports whether the attachment has already been created.
	Exists() bool

	// SetDefaultCells writes the business-unit display name and
	// requester email into the attachment's fixed cells (spec.md §6:
	// F10, C17-19 triples), done once right after cloning.
	SetDefaultCells(ctx context.Context, businessUnitName, requesterEmail string) error

	// GrantApproverScopes grants per-level write access to the given
	// approver emails, per spec.md E1 ("grant per-level write scopes to
	// the configured approver emails").
	GrantApproverScopes(ctx context.Context, level int, emails []string) error

	// GrantAssigneeScope grants the allocated agent edit rights on the
	// attachment, per spec.md E3 ("grant the assignee edit rights").
	GrantAssigneeScope(ctx context.Context, assignee string) error

	// Protect removes further write access once a request has reached a
	// terminal outcome (reject/expire/complete), per spec.md §4.5.b/d.
	Protect(ctx context.Context) error

	// CountTaskRows counts non-empty task rows across every marked task
	// sheet, used to backfill TotalTask when absent (spec.md §4.5.b.1).
	CountTaskRows(ctx context.Context) (int, error)

	// Validate runs §4.5.a's mandatory-column and per-rule validation
	// over every task sheet.
	Validate(ctx context.Context) (ValidationResult, error)
}

// AttachmentStore is the factory/lookup boundary for attachments.
type AttachmentStore interface {
	// Open returns the Attachment handle for an existing ref.
	Open(ctx context.Context, ref string) (Attachment, error)

	// CloneTemplate creates a fresh attachment from the template for
	// (requestType, businessUnit) and returns its opaque ref handle,
	// per spec.md E1 ("clone the template for this (RequestType,
	// BusinessUnit)").
	CloneTemplate(ctx context.Context, requestType, businessUnit string) (ref string, err error)
}
