package events

import (
	"context"
	"time"

	"healthintel.local/gateway/internal/ids"
)

type Type string

const (
	TypeSessionCreated    Type = "session.created"
	TypeSessionReset      Type = "session.reset"
	TypeSessionExpired    Type = "session.expired"
	TypeAnalysisStarted   Type = "analysis.started"
	TypeAnalysisCompleted Type = "analysis.completed"
	TypeAnalysisFailed    Type = "analysis.failed"
	TypeAnalysisDiscarded Type = "analysis.discarded"
)

// Known reports whether t is one of the lifecycle event types above.
func Known(t Type) bool {
	switch t {
	case TypeSessionCreated, TypeSessionReset, TypeSessionExpired,
		TypeAnalysisStarted, TypeAnalysisCompleted, TypeAnalysisFailed, TypeAnalysisDiscarded:
		return true
	}
	return false
}

// Event is a lifecycle notification fanned out to subscribers.
type Event struct {
	ID         string         `json:"event_id"`
	Type       Type           `json:"event_type"`
	SessionID  string         `json:"session_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func New(eventType Type, sessionID string, payload map[string]any) Event {
	return Event{
		ID:         ids.New(),
		Type:       eventType,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Sink accepts events for delivery.
type Sink interface {
	Dispatch(ctx context.Context, event Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Dispatch(context.Context, Event) {}
