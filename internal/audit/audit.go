package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType names a security-relevant transition.
type EventType string

const (
	EventLogin             EventType = "auth.login"
	EventLogout            EventType = "auth.logout"
	EventPasswordChanged   EventType = "auth.password.changed"
	EventPasswordReset     EventType = "auth.password.reset"
	EventCenterSwitch      EventType = "auth.center.switch"
	EventAssignmentGranted EventType = "auth.assignment.granted"
	EventAssignmentRevoked EventType = "auth.assignment.revoked"
	EventSessionExpired    EventType = "auth.session.expired"
)

// Event is one append-only security audit record. Events are write-only:
// nothing in this service mutates or deletes them after the fact.
type Event struct {
	ID            string            `json:"id"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Type          EventType         `json:"event"`
	Success       bool              `json:"success"`
	ActorUserID   string            `json:"actor_user_id,omitempty"`
	SubjectUserID string            `json:"subject_user_id,omitempty"`
	CenterID      string            `json:"center_id,omitempty"`
	Origin        string            `json:"origin,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// Recorder is the sink interface the auth core records events through.
// Implementations must treat events as fire-and-forget: a failing sink is
// reported to the caller but must never undo the state change it describes.
type Recorder interface {
	Record(ctx context.Context, evt Event) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so sinks can
// correlate events with request logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// enrich fills identity and correlation defaults before an event is sunk.
func enrich(ctx context.Context, evt Event) Event {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if evt.RequestID == "" {
		evt.RequestID = requestIDFromContext(ctx)
	}
	return evt
}
