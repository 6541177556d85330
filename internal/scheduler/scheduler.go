// Package scheduler is the periodic poller (C8, spec.md §4.8): one
// goroutine per table, sweeping for rows needing advancement, a stalled
// submission, a missed send-back email, or a child-row repair, and
// dispatching each to the RequestFSM handler that owns it. Grounded on
// control_plane/scheduler.Scheduler's worker-loop/circuit-breaker shape,
// generalized from a single shared task queue to one cooperative sweep
// per table (spec.md §4.8: "the Scheduler is single-threaded per table;
// multiple tables may run in parallel").
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/observability"
	"github.com/itskum47/mdmflow/internal/requestfsm"
	"github.com/itskum47/mdmflow/internal/rowstore"
)

// FSM is the subset of requestfsm.FSM the scheduler drives.
type FSM interface {
	HandleOnSubmit(ctx context.Context, table, tableAbbreviation, rowID string) error
	HandleOnInterval(ctx context.Context, table, tableAbbreviation, rowID, scheduledRequestNumber string) error
	HandleOnChildInterval(ctx context.Context, assigneeTable, rowID string) error
}

var _ FSM = (*requestfsm.FSM)(nil)

// Scheduler runs one sweep goroutine per configured table.
type Scheduler struct {
	store   rowstore.Store
	fsm     FSM
	masters []MasterTable
	assignees []AssigneeTable
	cfg     Config

	mu      sync.RWMutex
	mode    Mode
	active  bool
	breakers map[string]*CircuitBreaker // keyed by table name
}

func New(store rowstore.Store, fsm FSM, masters []MasterTable, assignees []AssigneeTable, cfg Config) *Scheduler {
	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}
	breakers := make(map[string]*CircuitBreaker, len(masters)+len(assignees))
	for _, m := range masters {
		breakers[m.Table] = NewCircuitBreaker(cfg.CircuitBreakerQueueThreshold, cfg.CircuitBreakerCooldown, cfg.CircuitBreakerCloseAfter)
	}
	for _, a := range assignees {
		breakers[a.Table] = NewCircuitBreaker(cfg.CircuitBreakerQueueThreshold, cfg.CircuitBreakerCooldown, cfg.CircuitBreakerCloseAfter)
	}
	return &Scheduler{
		store:     store,
		fsm:       fsm,
		masters:   masters,
		assignees: assignees,
		cfg:       cfg,
		mode:      ModeNormal,
		breakers:  breakers,
	}
}

// SetMode switches the scheduler's operating mode (spec.md §4.8's modes,
// carried over from the teacher's admission-gating SchedulerMode).
func (s *Scheduler) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	log.Info().Str("mode", string(mode)).Msg("scheduler: mode changed")
}

func (s *Scheduler) currentMode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Start launches one sweep loop per master table and per assignee table.
// It returns immediately; sweeps run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	for _, m := range s.masters {
		go s.runMasterLoop(ctx, m)
	}
	for _, a := range s.assignees {
		go s.runAssigneeLoop(ctx, a)
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

func (s *Scheduler) runMasterLoop(ctx context.Context, table MasterTable) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepMaster(ctx, table)
		}
	}
}

func (s *Scheduler) runAssigneeLoop(ctx context.Context, table AssigneeTable) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAssignee(ctx, table)
		}
	}
}

// sweepMaster implements spec.md §4.8's per-tick master-table pass: scan
// candidate rows in descending row-index order, and for each, route it
// to onSubmit-retry, the advancement handler, or the send-back-email
// retry, whichever predicate it matches. Degraded mode runs only the two
// retry sweeps; ReadOnly/Draining run neither.
func (s *Scheduler) sweepMaster(ctx context.Context, table MasterTable) {
	mode := s.currentMode()
	if mode == ModeReadOnly || mode == ModeDraining {
		return
	}

	deadline := time.Now().Add(s.cfg.SweepBudget)
	ids, err := s.store.ScanNeedingAdvancement(ctx, table.Table, s.cfg.ShardIndex, s.cfg.ShardCount)
	if err != nil {
		log.Warn().Err(err).Str("table", table.Table).Msg("scheduler: scan failed")
		return
	}
	observability.SchedulerQueueDepth.WithLabelValues(table.Table).Set(float64(len(ids)))

	breaker := s.breakers[table.Table]
	start := time.Now()
	var active int

	for _, rowID := range ids {
		if time.Now().After(deadline) {
			log.Debug().Str("table", table.Table).Msg("scheduler: sweep budget exhausted, resuming next tick")
			break
		}

		saturation := float64(active) / float64(maxInt(s.cfg.MaxConcurrency, 1))
		observability.SchedulerCircuitState.WithLabelValues(table.Table).Set(float64(breaker.GetState()))
		if !breaker.ShouldAdmit(len(ids), saturation) {
			observability.SchedulerRejections.WithLabelValues(table.Table, "circuit_open").Inc()
			continue
		}

		req, found, err := s.readRow(ctx, table.Table, rowID)
		if err != nil || !found {
			continue
		}

		active++
		var handleErr error
		switch {
		case mode == ModeDegraded:
			handleErr = s.dispatchRetriesOnly(ctx, table, rowID, req)
		case needsOnSubmitRetry(req, s.cfg.OnSubmitRetryWindow):
			handleErr = s.fsm.HandleOnSubmit(ctx, table.Table, table.TableAbbreviation, rowID)
		case needsSendBackRetry(req):
			// HandleOnInterval resends the pending send-back email
			// before its normal advancement pass.
			handleErr = s.fsm.HandleOnInterval(ctx, table.Table, table.TableAbbreviation, rowID, req.RequestNumber)
		case needsAdvancement(req):
			handleErr = s.fsm.HandleOnInterval(ctx, table.Table, table.TableAbbreviation, rowID, req.RequestNumber)
		default:
			active--
			continue
		}
		active--

		if handleErr != nil {
			breaker.RecordFailure()
			log.Warn().Err(handleErr).Str("table", table.Table).Str("row_id", rowID).Msg("scheduler: handler failed")
		} else {
			breaker.RecordSuccess()
		}
	}

	observability.SchedulerSweepDuration.WithLabelValues(table.Table).Observe(time.Since(start).Seconds())
}

func (s *Scheduler) dispatchRetriesOnly(ctx context.Context, table MasterTable, rowID string, req *rowstore.Request) error {
	switch {
	case needsOnSubmitRetry(req, s.cfg.OnSubmitRetryWindow):
		return s.fsm.HandleOnSubmit(ctx, table.Table, table.TableAbbreviation, rowID)
	case needsSendBackRetry(req):
		return s.fsm.HandleOnInterval(ctx, table.Table, table.TableAbbreviation, rowID, req.RequestNumber)
	default:
		return nil
	}
}

// sweepAssignee implements the §4.5 E4 child-interval repair sweep over
// one assignee table.
func (s *Scheduler) sweepAssignee(ctx context.Context, table AssigneeTable) {
	mode := s.currentMode()
	if mode == ModeReadOnly || mode == ModeDraining {
		return
	}

	deadline := time.Now().Add(s.cfg.SweepBudget)
	ids, err := s.store.ScanNeedingAdvancement(ctx, table.Table, s.cfg.ShardIndex, s.cfg.ShardCount)
	if err != nil {
		log.Warn().Err(err).Str("table", table.Table).Msg("scheduler: assignee scan failed")
		return
	}

	breaker := s.breakers[table.Table]
	start := time.Now()
	for i, rowID := range ids {
		if time.Now().After(deadline) {
			break
		}
		saturation := float64(i) / float64(maxInt(s.cfg.MaxConcurrency, 1)*len(ids)+1)
		if !breaker.ShouldAdmit(len(ids), saturation) {
			observability.SchedulerRejections.WithLabelValues(table.Table, "circuit_open").Inc()
			continue
		}
		if err := s.fsm.HandleOnChildInterval(ctx, table.Table, rowID); err != nil {
			breaker.RecordFailure()
			log.Warn().Err(err).Str("table", table.Table).Str("row_id", rowID).Msg("scheduler: child-interval repair failed")
			continue
		}
		breaker.RecordSuccess()
	}
	observability.SchedulerSweepDuration.WithLabelValues(table.Table).Observe(time.Since(start).Seconds())
}

func (s *Scheduler) readRow(ctx context.Context, table, rowID string) (*rowstore.Request, bool, error) {
	cols, err := s.store.ReadHeaders(ctx, table)
	if err != nil {
		return nil, false, err
	}
	rec, found, err := s.store.ReadRow(ctx, table, rowID)
	if err != nil || !found {
		return nil, found, err
	}
	return rowstore.RequestFromRecord(rec, cols), true, nil
}

// needsAdvancement implements spec.md §4.8's predicate: RequestNumber and
// attachment set, AND (requester status empty/NeedReview, OR some
// approval level has an empty Status with no earlier level Rejected and
// the row hasn't reached a terminal requester status).
func needsAdvancement(req *rowstore.Request) bool {
	if req.RequestNumber == "" || req.AttachmentRef == "" {
		return false
	}

	l0, ok := req.Level(0)
	requesterStatus := ""
	if ok {
		requesterStatus = l0.Status
	}
	if requesterStatus == "" || requesterStatus == string(rowstore.RequesterNeedReview) {
		return true
	}
	if requesterStatus == string(rowstore.RequesterExpired) || requesterStatus == string(rowstore.RequesterInvalid) {
		return false
	}

	for level := 1; level <= 3; level++ {
		l, ok := req.Level(level)
		if !ok {
			break
		}
		if l.Status == string(rowstore.ApprovalRejected) {
			return false
		}
		if l.Status == "" {
			return true
		}
	}
	return false
}

// needsOnSubmitRetry implements spec.md §4.8's onSubmit-retry predicate:
// submission didn't finish within window despite a non-zero timestamp.
func needsOnSubmitRetry(req *rowstore.Request, window time.Duration) bool {
	if req.Timestamp.IsZero() {
		return false
	}
	if req.RequestNumber != "" && req.AttachmentRef != "" {
		return false
	}
	return time.Since(req.Timestamp) > window
}

// needsSendBackRetry implements spec.md §4.8's sendBack-email retry
// predicate: more send-back events recorded than send-back emails sent.
func needsSendBackRetry(req *rowstore.Request) bool {
	return req.SystemSentBackCount > req.SystemSentBackEmailSent
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
