// Package bus is the event distribution system for the orchestration engine.
// Every stage of a conversation turn publishes events here; the WebSocket
// server and the activity log subscribe to them.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of orchestration event.
type EventType string

const (
	// Turn lifecycle
	EventTurnStarted   EventType = "turn_started"
	EventTurnCompleted EventType = "turn_completed"
	EventTurnFailed    EventType = "turn_failed"
	EventTurnCancelled EventType = "turn_cancelled"

	// Attempt lifecycle
	EventAttemptStarted EventType = "attempt_started"
	EventRetryScheduled EventType = "retry_scheduled"

	// Provider activity
	EventProviderRequest    EventType = "provider_request"
	EventProviderResponse   EventType = "provider_response"
	EventProviderError      EventType = "provider_error"
	EventFallbackSubstitute EventType = "fallback_substitute"

	// Tool activity
	EventToolCallStarted   EventType = "tool_call_started"
	EventToolCallCompleted EventType = "tool_call_completed"
	EventBreakerTripped    EventType = "breaker_tripped"

	// Context assembly
	EventContextAssembled EventType = "context_assembled"
	EventContextDegraded  EventType = "context_degraded"

	// Post-processing
	EventPostprocQueued    EventType = "postproc_queued"
	EventPostprocCompleted EventType = "postproc_completed"
	EventPostprocDropped   EventType = "postproc_dropped"
)

// Event is a single orchestration event. Fields beyond the core four are
// populated only where they apply.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	RequestID      string `json:"request_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	Attempt  int    `json:"attempt,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	Tool   string `json:"tool,omitempty"`
	CallID string `json:"call_id,omitempty"`

	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}
