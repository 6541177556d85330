// Package notify models the outbound notification collaborator (email
// rendering/delivery is out of scope per spec.md §1; this package only
// defines the interface the core calls through and a logging default).
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/observability"
)

// Kind enumerates the notification events RequestFSM emits.
type Kind string

const (
	KindNewSubmission Kind = "new_submission"
	KindApprovalAsk   Kind = "approval_ask"
	KindApproved      Kind = "approved"
	KindSendBack      Kind = "send_back"
	KindRejected      Kind = "rejected"
	KindExpired       Kind = "expired"
	KindProcessed     Kind = "processed"
)

// Event is the payload handed to a Notifier.
type Event struct {
	Kind          Kind
	RequestNumber string
	Recipient     string
	Reason        string
	Timestamp     time.Time
}

// Notifier is the out-of-scope collaborator boundary: something that can
// deliver a human-facing message. Grounded on streaming.Publisher's
// Publish(ctx, topic, payload) error shape.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier is the default Notifier: it logs structurally instead of
// sending real email, mirroring streaming.LogPublisher.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log.Info().
		Str("kind", string(event.Kind)).
		Str("request_number", event.RequestNumber).
		Str("recipient", event.Recipient).
		Str("reason", event.Reason).
		Msg("notification dispatched")
	return nil
}

// SendWithRetry attempts Notify up to attempts times, continuing on final
// failure per spec.md E1 ("continue on final failure; set the flag to
// prevent re-sending"). It returns true iff delivery succeeded at least
// once. Most callers persist their "sent" flag regardless; the send-back
// path records delivery only when this returns true.
func SendWithRetry(ctx context.Context, n Notifier, event Event, attempts int) bool {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := n.Notify(ctx, event); err == nil {
			return true
		} else {
			lastErr = err
		}
		if i < attempts-1 {
			time.Sleep(backoff(i))
		}
	}
	log.Warn().
		Err(lastErr).
		Str("kind", string(event.Kind)).
		Str("request_number", event.RequestNumber).
		Int("attempts", attempts).
		Msg("notification delivery exhausted retries, continuing")
	observability.NotificationFailures.WithLabelValues(string(event.Kind)).Inc()
	return false
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
