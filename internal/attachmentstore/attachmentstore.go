// Package attachmentstore provides a placeholder AttachmentStore/Attachment
// implementation. The external tabular document store itself (Google
// Sheets or similar) is out of scope (spec.md §1); this logs every
// lifecycle call and keeps just enough in-memory state for RequestFSM's
// own flow to exercise correctly end to end, the same "until the real
// backend is available" role streaming.LogPublisher plays for NATS.
package attachmentstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/requestfsm"
)

// LogStore hands out in-memory Attachment handles keyed by an opaque
// ref, logging every mutating call instead of driving a real document
// backend.
type LogStore struct {
	mu      sync.Mutex
	seq     uint64
	refs    map[string]*logAttachment
}

// NewLogStore builds an empty LogStore.
func NewLogStore() *LogStore {
	return &LogStore{refs: make(map[string]*logAttachment)}
}

func (s *LogStore) CloneTemplate(ctx context.Context, requestType, businessUnit string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := atomic.AddUint64(&s.seq, 1)
	ref := fmt.Sprintf("att-%s-%s-%d", requestType, businessUnit, n)
	s.refs[ref] = &logAttachment{ref: ref, exists: true}
	log.Info().Str("ref", ref).Str("request_type", requestType).Str("business_unit", businessUnit).
		Msg("attachmentstore: cloned template")
	return ref, nil
}

func (s *LogStore) Open(ctx context.Context, ref string) (requestfsm.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.refs[ref]
	if !ok {
		a = &logAttachment{ref: ref}
		s.refs[ref] = a
	}
	return a, nil
}

type logAttachment struct {
	mu       sync.Mutex
	ref      string
	exists   bool
	statuses map[int]externalStatus
}

type externalStatus struct {
	status string
	name   string
}

func (a *logAttachment) Exists() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exists
}

func (a *logAttachment) ExternalStatus(level int) (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.statuses[level]
	if !ok {
		return "", "", nil
	}
	return st.status, st.name, nil
}

func (a *logAttachment) ClearExternalStatus(level int, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.statuses, level)
	log.Info().Str("ref", a.ref).Int("level", level).Str("reason", reason).
		Msg("attachmentstore: cleared external status")
	return nil
}

func (a *logAttachment) SetDefaultCells(ctx context.Context, businessUnitName, requesterEmail string) error {
	log.Info().Str("ref", a.ref).Str("business_unit", businessUnitName).Str("requester", requesterEmail).
		Msg("attachmentstore: set default cells")
	return nil
}

func (a *logAttachment) GrantApproverScopes(ctx context.Context, level int, emails []string) error {
	log.Info().Str("ref", a.ref).Int("level", level).Strs("emails", emails).
		Msg("attachmentstore: granted approver scopes")
	return nil
}

func (a *logAttachment) GrantAssigneeScope(ctx context.Context, assignee string) error {
	log.Info().Str("ref", a.ref).Str("assignee", assignee).Msg("attachmentstore: granted assignee scope")
	return nil
}

func (a *logAttachment) Protect(ctx context.Context) error {
	log.Info().Str("ref", a.ref).Msg("attachmentstore: protected from further writes")
	return nil
}

func (a *logAttachment) CountTaskRows(ctx context.Context) (int, error) {
	return 0, nil
}

func (a *logAttachment) Validate(ctx context.Context) (requestfsm.ValidationResult, error) {
	return requestfsm.ValidationResult{}, nil
}
