// Package requestfsm is the orchestrator (C5, spec.md §4.5): the four
// entry points that drive a request from submission through approval,
// allocation, execution, and closure. Grounded on
// control_plane/reconciler.go's Reconcile/reconcileWithContext split
// (hard per-call timeout wrapping a check/apply/final-check body) and
// jobs.go's dispatch-and-record-status idiom.
package requestfsm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/allocator"
	"github.com/itskum47/mdmflow/internal/approvalsync"
	"github.com/itskum47/mdmflow/internal/configcache"
	"github.com/itskum47/mdmflow/internal/holiday"
	"github.com/itskum47/mdmflow/internal/lockmanager"
	"github.com/itskum47/mdmflow/internal/notify"
	"github.com/itskum47/mdmflow/internal/observability"
	"github.com/itskum47/mdmflow/internal/rowstore"
)

// Config tunes the few constants spec.md §9 calls out as tunables.
type Config struct {
	// ExpiredDayLimit is the business-day window after which a request
	// whose requester status is not Need Review is expired (spec.md §4.5 E2).
	ExpiredDayLimit int
	// SubmissionRetryWindow is the "hand-written 10-minute timeout" from
	// spec.md §9, preserved as a tunable.
	SubmissionRetryWindow time.Duration
	// NotifyAttempts is the retry count for outbound notifications
	// (spec.md E1: "up to 3 retries").
	NotifyAttempts int
	// MaxHandlerRuntime is the hard per-call timeout enforced around
	// every entry point, mirroring Reconciler.maxTaskRuntime.
	MaxHandlerRuntime time.Duration
	// DefaultRequestType/DefaultDepartment are applied when a submitted
	// row carries neither (spec.md E1: "apply defaults... if absent").
	DefaultRequestType string
	DefaultDepartment  string
}

func DefaultConfig() Config {
	return Config{
		ExpiredDayLimit:       5,
		SubmissionRetryWindow: 10 * time.Minute,
		NotifyAttempts:        3,
		MaxHandlerRuntime:     5 * time.Minute,
	}
}

// FSM is the C5 orchestrator. One instance serves every master table;
// callers pass the table name and its RequestNumber-prefix abbreviation
// per call, the way Reconciler.Reconcile is generic over stateID.
type FSM struct {
	store       rowstore.Store
	locks       *lockmanager.Manager
	cc          *configcache.ConfigCache
	alloc       *allocator.Allocator
	workload    *allocator.WorkloadCounter
	reqnum      *allocator.RequestNumberCounter
	notifier    notify.Notifier
	calendar    holiday.Calendar
	attachments AttachmentStore
	cfg         Config
}

func New(store rowstore.Store, locks *lockmanager.Manager, cc *configcache.ConfigCache, alloc *allocator.Allocator, workload *allocator.WorkloadCounter, reqnum *allocator.RequestNumberCounter, notifier notify.Notifier, calendar holiday.Calendar, attachments AttachmentStore, cfg Config) *FSM {
	if calendar == nil {
		calendar = holiday.NoHolidays{}
	}
	return &FSM{
		store:       store,
		locks:       locks,
		cc:          cc,
		alloc:       alloc,
		workload:    workload,
		reqnum:      reqnum,
		notifier:    notifier,
		calendar:    calendar,
		attachments: attachments,
		cfg:         cfg,
	}
}

// withTimeout wraps handler in the hard-deadline kill switch every entry
// point enforces, grounded on Reconciler.Reconcile.
func (f *FSM) withTimeout(ctx context.Context, handler string, fn func(ctx context.Context) error) error {
	hctx, cancel := context.WithTimeout(ctx, f.cfg.MaxHandlerRuntime)
	defer cancel()

	start := time.Now()
	err := fn(hctx)
	observability.RequestFSMDuration.WithLabelValues(handler).Observe(time.Since(start).Seconds())
	if hctx.Err() == context.DeadlineExceeded {
		observability.RequestFSMTimeouts.WithLabelValues(handler).Inc()
		log.Warn().Str("handler", handler).Dur("max_runtime", f.cfg.MaxHandlerRuntime).Msg("requestfsm: handler hit its hard deadline")
	}
	return err
}

func (f *FSM) readRequest(ctx context.Context, table, rowID string) (*rowstore.Request, bool, error) {
	cols, err := f.store.ReadHeaders(ctx, table)
	if err != nil {
		return nil, false, err
	}
	rec, found, err := f.store.ReadRow(ctx, table, rowID)
	if err != nil || !found {
		return nil, found, err
	}
	return rowstore.RequestFromRecord(rec, cols), true, nil
}

func (f *FSM) save(ctx context.Context, table string, req *rowstore.Request) error {
	_, err := f.store.UpsertRow(ctx, table, "request_number", req.ToRecord(), false)
	return err
}

func (f *FSM) notify(ctx context.Context, kind notify.Kind, req *rowstore.Request, recipient, reason string) bool {
	return notify.SendWithRetry(ctx, f.notifier, notify.Event{
		Kind:          kind,
		RequestNumber: req.RequestNumber,
		Recipient:     recipient,
		Reason:        reason,
		Timestamp:     time.Now(),
	}, f.cfg.NotifyAttempts)
}

// ---- E1: handleOnSubmit ----

// HandleOnSubmit is idempotent (spec.md E1): generating a RequestNumber,
// cloning the attachment, and sending the new-submission email are each
// guarded so re-invoking on an already-submitted row is a no-op.
func (f *FSM) HandleOnSubmit(ctx context.Context, table, tableAbbreviation, rowID string) error {
	return f.withTimeout(ctx, "handleOnSubmit", func(ctx context.Context) error {
		_, err := lockmanager.WithRowLock(ctx, f.locks, table, rowID, "handle-on-submit", 10*time.Second,
			func(h *lockmanager.Handle, beat func() bool) (struct{}, error) {
				return struct{}{}, f.handleOnSubmitLocked(ctx, table, tableAbbreviation, rowID)
			})
		return err
	})
}

func (f *FSM) handleOnSubmitLocked(ctx context.Context, table, tableAbbreviation, rowID string) error {
	req, found, err := f.readRequest(ctx, table, rowID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("requestfsm: row %s not found in %s", rowID, table)
	}

	if req.RequestType == "" {
		req.RequestType = f.cfg.DefaultRequestType
	}
	if req.Department == "" {
		req.Department = f.cfg.DefaultDepartment
	}

	if req.RequestNumber == "" {
		num, err := f.reqnum.Next(ctx, tableAbbreviation, req.BusinessUnit)
		if err != nil {
			return err
		}
		req.RequestNumber = num
	}

	if req.AttachmentRef == "" {
		if err := f.provisionAttachment(ctx, req); err != nil {
			return err
		}
	}

	if !req.NewSubmissionStatus {
		f.notify(ctx, notify.KindNewSubmission, req, req.RequesterEmail, "")
		req.NewSubmissionStatus = true
	}

	return f.save(ctx, table, req)
}

func (f *FSM) provisionAttachment(ctx context.Context, req *rowstore.Request) error {
	if f.attachments == nil {
		return nil
	}
	ref, err := f.attachments.CloneTemplate(ctx, req.RequestType, req.BusinessUnit)
	if err != nil {
		return err
	}
	att, err := f.attachments.Open(ctx, ref)
	if err != nil {
		return err
	}
	if err := att.SetDefaultCells(ctx, req.BusinessUnit, req.RequesterEmail); err != nil {
		return err
	}
	for level := 1; level <= 3; level++ {
		approvers, err := f.cc.Approvers(ctx, req.BusinessUnit, req.Department, req.RequestType, level, true)
		if err != nil {
			return err
		}
		if len(approvers) == 0 {
			continue
		}
		if err := att.GrantApproverScopes(ctx, level, approvers); err != nil {
			return err
		}
	}
	req.AttachmentRef = ref
	return nil
}

// ---- E2: handleOnInterval ----

// HandleOnInterval is the periodic advancement entry point (spec.md E2).
func (f *FSM) HandleOnInterval(ctx context.Context, table, tableAbbreviation, rowID, scheduledRequestNumber string) error {
	return f.withTimeout(ctx, "handleOnInterval", func(ctx context.Context) error {
		_, err := lockmanager.WithRowLock(ctx, f.locks, table, rowID, "handle-on-interval", 10*time.Second,
			func(h *lockmanager.Handle, beat func() bool) (struct{}, error) {
				return struct{}{}, f.handleOnIntervalLocked(ctx, table, rowID, scheduledRequestNumber)
			})
		return err
	})
}

func (f *FSM) handleOnIntervalLocked(ctx context.Context, table, rowID, scheduledRequestNumber string) error {
	req, found, err := f.readRequest(ctx, table, rowID)
	if err != nil || !found {
		return err
	}
	if req.RequestNumber != scheduledRequestNumber {
		// Row was reindexed out from under the scheduler's snapshot.
		return nil
	}

	if req.SystemSentBackCount > req.SystemSentBackEmailSent &&
		f.notify(ctx, notify.KindSendBack, req, req.RequesterEmail, "send-back email retry") {
		req.SystemSentBackEmailSent = req.SystemSentBackCount
		if err := f.save(ctx, table, req); err != nil {
			return err
		}
	}

	requesterStatus := ""
	if l, ok := req.Level(0); ok {
		requesterStatus = l.Status
	}

	if requesterStatus != string(rowstore.RequesterNeedReview) &&
		isExpired(time.Now(), req.Timestamp, f.cfg.ExpiredDayLimit, f.calendar) {
		return f.expire(ctx, table, req)
	}

	return f.advanceLevels(ctx, table, req)
}

func (f *FSM) expire(ctx context.Context, table string, req *rowstore.Request) error {
	req.SetLevel(rowstore.ApprovalLevel{Level: 0, Status: string(rowstore.RequesterExpired), Timestamp: time.Now()})
	if err := f.protectAttachment(ctx, req); err != nil {
		return err
	}
	f.notify(ctx, notify.KindExpired, req, req.RequesterEmail, "")
	return f.save(ctx, table, req)
}

func (f *FSM) protectAttachment(ctx context.Context, req *rowstore.Request) error {
	if f.attachments == nil || req.AttachmentRef == "" {
		return nil
	}
	att, err := f.attachments.Open(ctx, req.AttachmentRef)
	if err != nil {
		return err
	}
	return att.Protect(ctx)
}

// advanceLevels runs ApprovalSync level-by-level and ingests each
// outcome, per spec.md §4.4/§4.5 E2.
func (f *FSM) advanceLevels(ctx context.Context, table string, req *rowstore.Request) error {
	var att Attachment
	if f.attachments != nil && req.AttachmentRef != "" {
		a, err := f.attachments.Open(ctx, req.AttachmentRef)
		if err != nil {
			return err
		}
		att = a
	}
	if att == nil {
		// No attachment yet: submission hasn't finished; the
		// onSubmit-retry sweep will pick this row up.
		return nil
	}

	view := rowView{req: req}
	for level := 0; level <= 3; level++ {
		result, err := approvalsync.Evaluate(ctx, f.cc, view, att, level)
		if err != nil {
			return err
		}

		switch result.Outcome {
		case approvalsync.OutcomeNoLevel:
			return f.save(ctx, table, req)

		case approvalsync.OutcomeInvalid:
			f.notify(ctx, notify.KindRejected, req, req.RequesterEmail, "invalid approval sync")
			return f.save(ctx, table, req)

		case approvalsync.OutcomePending:
			if result.IsApprover && !req.AskApprovalStatus[level] {
				f.notify(ctx, notify.KindApprovalAsk, req, "", "")
				req.AskApprovalStatus[level] = true
			}
			return f.save(ctx, table, req)

		case approvalsync.OutcomeExists, approvalsync.OutcomeResolved:
			done, err := f.ingestLevel(ctx, table, req, att, level, result)
			if err != nil {
				return err
			}
			if done {
				return f.save(ctx, table, req)
			}
		}
	}
	return f.save(ctx, table, req)
}

// ingestLevel applies one level's resolved (status, name) to the row,
// returning done=true if the level loop should stop here.
func (f *FSM) ingestLevel(ctx context.Context, table string, req *rowstore.Request, att Attachment, level int, result approvalsync.Result) (bool, error) {
	if result.Outcome == approvalsync.OutcomeResolved {
		req.SetLevel(rowstore.ApprovalLevel{Level: level, Status: result.Status, Name: result.Name, Timestamp: time.Now()})
	}

	if level == 0 {
		return f.ingestRequesterLevel(ctx, table, req, att, result)
	}
	return f.ingestApproverLevel(ctx, table, req, att, level, result)
}

func (f *FSM) ingestRequesterLevel(ctx context.Context, table string, req *rowstore.Request, att Attachment, result approvalsync.Result) (bool, error) {
	switch result.Status {
	case string(rowstore.RequesterCompleted):
		vr, err := att.Validate(ctx)
		if err != nil {
			return false, err
		}
		if !vr.OK() {
			return true, f.systemSendBack(ctx, table, req, att, "SYSTEM", "attachment failed validation: missing or invalid mandatory fields")
		}
		return false, nil // proceed to level 1
	default:
		// Expired / Invalid / NeedReview: nothing further to do this sweep.
		return true, nil
	}
}

func (f *FSM) ingestApproverLevel(ctx context.Context, table string, req *rowstore.Request, att Attachment, level int, result approvalsync.Result) (bool, error) {
	switch result.Status {
	case string(rowstore.ApprovalApproved), string(rowstore.ApprovalPartiallyRejected):
		if _, hasNext := req.Level(level + 1); !hasNext {
			// Terminal level approved: run the approved pipeline.
			return true, f.runApprovedPipeline(ctx, table, req)
		}
		return false, nil // advance to the next level

	case string(rowstore.ApprovalRejected):
		if err := f.protectAttachment(ctx, req); err != nil {
			return true, err
		}
		f.notify(ctx, notify.KindRejected, req, req.RequesterEmail, "rejected by "+result.Name)
		return true, nil

	case string(rowstore.ApprovalSendBack):
		return true, f.systemSendBack(ctx, table, req, att, "APPROVER", result.Name)

	default:
		return true, nil
	}
}

// systemSendBack implements spec.md §4.5.d.
func (f *FSM) systemSendBack(ctx context.Context, table string, req *rowstore.Request, att Attachment, actor, reason string) error {
	for level := 0; level <= 3; level++ {
		if att != nil {
			_ = att.ClearExternalStatus(level, reason)
		}
	}
	req.Levels = nil
	req.AskApprovalStatus = make(map[int]bool)
	req.SetLevel(rowstore.ApprovalLevel{Level: 0, Status: string(rowstore.RequesterNeedReview), Timestamp: time.Now()})
	req.SystemSentBackCount++

	log.Info().Str("request_number", req.RequestNumber).Str("actor", actor).Str("reason", reason).Msg("system send-back")
	if f.notify(ctx, notify.KindSendBack, req, req.RequesterEmail, reason) {
		// Clears needsSendBackRetry. If delivery fails here, the
		// counter is advanced later by HandleOnInterval's resend on
		// master rows, or by HandleOnChildInterval on assignee rows.
		req.SystemSentBackEmailSent = req.SystemSentBackCount
	}
	return nil
}

// runApprovedPipeline implements spec.md §4.5.b. Guarded on ProcessedBy
// so a repeat handleOnInterval sweep over an already-processed row (all
// levels Approved) doesn't re-allocate, re-notify, or double-increment
// WorkloadSeconds.
func (f *FSM) runApprovedPipeline(ctx context.Context, table string, req *rowstore.Request) error {
	if req.ProcessedBy != "" {
		return nil
	}

	if req.TotalTask <= 0 {
		if f.attachments != nil && req.AttachmentRef != "" {
			att, err := f.attachments.Open(ctx, req.AttachmentRef)
			if err != nil {
				return err
			}
			count, err := att.CountTaskRows(ctx)
			if err != nil {
				return err
			}
			req.TotalTask = count
		}
		if req.TotalTask <= 0 {
			f.notify(ctx, notify.KindRejected, req, req.RequesterEmail, "no tasks found in attachment")
			return nil
		}
	}

	seconds, isPerTask, found, err := f.cc.Baseline(ctx, req.RequestType, req.TotalTask)
	if err != nil {
		return err
	}
	if found {
		req.Baseline = seconds
		req.BaselineIsPerTask = isPerTask
		if isPerTask {
			req.EstimatedTime = seconds * int64(req.TotalTask)
		} else {
			req.EstimatedTime = seconds
		}
	}

	agent, err := f.alloc.Allocate(ctx, req.BusinessUnit, req.Department, req.RequestType)
	if err != nil {
		return err
	}
	req.ProcessedBy = agent

	if req.EstimatedTime > 0 {
		if _, err := f.workload.Add(ctx, agent, req.EstimatedTime); err != nil {
			return err
		}
	}

	if err := f.protectAttachment(ctx, req); err != nil {
		return err
	}
	f.notify(ctx, notify.KindApproved, req, req.RequesterEmail, "")
	return nil
}

// ---- E3: handleOnEdit ----

// HandleOnEdit drives the execution phase (spec.md E3). toast is the
// user-facing message to surface when an edit is rejected and reverted;
// it is empty when the edit is accepted.
func (f *FSM) HandleOnEdit(ctx context.Context, table, rowID, editedCol, oldValue string) (revert bool, toast string, err error) {
	err = f.withTimeout(ctx, "handleOnEdit", func(ctx context.Context) error {
		res, lerr := lockmanager.WithRowLock(ctx, f.locks, table, rowID, "handle-on-edit", 10*time.Second,
			func(h *lockmanager.Handle, beat func() bool) (editOutcome, error) {
				return f.handleOnEditLocked(ctx, table, rowID, editedCol, oldValue)
			})
		if lerr != nil {
			return lerr
		}
		revert, toast = res.revert, res.toast
		return nil
	})
	return revert, toast, err
}

type editOutcome struct {
	revert bool
	toast  string
}

func (f *FSM) handleOnEditLocked(ctx context.Context, table, rowID, editedCol, oldValue string) (editOutcome, error) {
	req, found, err := f.readRequest(ctx, table, rowID)
	if err != nil || !found {
		return editOutcome{}, err
	}

	switch editedCol {
	case "processed_by":
		if req.ProcessedBy != "" && oldValue == "" {
			now := time.Now()
			req.TakenDate = &now
			finished := estimatedTimeFinished(now, req.EstimatedTime, f.calendar)
			req.EstimatedTimeFinished = &finished
			if f.attachments != nil && req.AttachmentRef != "" {
				att, aerr := f.attachments.Open(ctx, req.AttachmentRef)
				if aerr != nil {
					return editOutcome{}, aerr
				}
				if aerr := att.GrantAssigneeScope(ctx, req.ProcessedBy); aerr != nil {
					return editOutcome{}, aerr
				}
			}
		}
		return editOutcome{}, f.save(ctx, table, req)

	case "process_status":
		return f.handleProcessStatusEdit(ctx, table, req, oldValue)

	default:
		return editOutcome{}, f.save(ctx, table, req)
	}
}

func (f *FSM) handleProcessStatusEdit(ctx context.Context, table string, req *rowstore.Request, oldValue string) (editOutcome, error) {
	newStatus := req.ProcessStatus
	old := rowstore.ProcessStatus(oldValue)

	if newStatus == rowstore.ProcessCompleted && req.TakenDate == nil {
		req.ProcessStatus = old
		return editOutcome{revert: true, toast: "Cannot set status to Completed without a Taken Date"}, f.save(ctx, table, req)
	}
	if isTerminalStatus(old) && newStatus == rowstore.ProcessOnGoing {
		req.ProcessStatus = old
		return editOutcome{revert: true, toast: "Cannot revert a terminal status back to On Going"}, f.save(ctx, table, req)
	}
	if old == rowstore.ProcessSendBack && newStatus != rowstore.ProcessSendBack {
		req.ProcessStatus = old
		return editOutcome{revert: true, toast: "Cannot change a Send Back status directly"}, f.save(ctx, table, req)
	}

	if newStatus == rowstore.ProcessSendBack {
		if err := f.systemSendBack(ctx, table, req, nil, "MDM", "assignee sent back"); err != nil {
			return editOutcome{}, err
		}
		if err := f.store.DeleteRow(ctx, table, req.RequestNumber); err != nil {
			return editOutcome{}, err
		}
		return editOutcome{}, nil
	}

	if newStatus != rowstore.ProcessOnGoing && req.TakenDate != nil {
		now := time.Now()
		req.ProcessedDate = &now
		sent := req.FeedbackStatus == "sent"
		if !sent {
			f.notify(ctx, notify.KindProcessed, req, req.RequesterEmail, "")
			req.FeedbackStatus = "sent"
		}
	}

	return editOutcome{}, f.save(ctx, table, req)
}

func isTerminalStatus(s rowstore.ProcessStatus) bool {
	switch s {
	case rowstore.ProcessCompleted, rowstore.ProcessRejected, rowstore.ProcessPartiallyRejected:
		return true
	default:
		return false
	}
}

// ---- E4: handleOnChildInterval ----

// HandleOnChildInterval repairs assignee-table rows left inconsistent by
// a transient failure (spec.md E4): missing EstimatedTimeFinished,
// missing FeedbackStatus, or a stuck SendBack without notification.
func (f *FSM) HandleOnChildInterval(ctx context.Context, assigneeTable, rowID string) error {
	return f.withTimeout(ctx, "handleOnChildInterval", func(ctx context.Context) error {
		_, err := lockmanager.WithRowLock(ctx, f.locks, assigneeTable, rowID, "handle-on-child-interval", 10*time.Second,
			func(h *lockmanager.Handle, beat func() bool) (struct{}, error) {
				return struct{}{}, f.handleOnChildIntervalLocked(ctx, assigneeTable, rowID)
			})
		return err
	})
}

func (f *FSM) handleOnChildIntervalLocked(ctx context.Context, table, rowID string) error {
	req, found, err := f.readRequest(ctx, table, rowID)
	if err != nil || !found {
		return err
	}

	dirty := false
	if req.TakenDate != nil && req.EstimatedTimeFinished == nil {
		finished := estimatedTimeFinished(*req.TakenDate, req.EstimatedTime, f.calendar)
		req.EstimatedTimeFinished = &finished
		dirty = true
	}
	if req.ProcessStatus != rowstore.ProcessOnGoing && req.ProcessStatus != rowstore.ProcessNone && req.FeedbackStatus == "" {
		f.notify(ctx, notify.KindProcessed, req, req.RequesterEmail, "")
		req.FeedbackStatus = "sent"
		dirty = true
	}
	if req.SystemSentBackCount > req.SystemSentBackEmailSent {
		f.notify(ctx, notify.KindSendBack, req, req.RequesterEmail, "repair sweep resend")
		req.SystemSentBackEmailSent = req.SystemSentBackCount
		dirty = true
	}

	if !dirty {
		return nil
	}
	return f.save(ctx, table, req)
}
