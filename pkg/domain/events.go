package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStepCompleted    EventType = "step_completed"
	EventStatusChanged    EventType = "status_changed"
	EventGenerationFailed EventType = "generation_failed"
)

// Event is pushed to observers after a committed change.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`

	Status         Status `json:"status"`
	PreviousStatus Status `json:"previous_status,omitempty"`
	Pointer        int    `json:"pointer"`
	Round          int    `json:"round"`

	Message   *Message       `json:"message,omitempty"`
	Execution *ExecutionInfo `json:"execution_info,omitempty"`
	Reason    string         `json:"reason,omitempty"`

	// Diff lists what the change touched, for clients that patch a local copy.
	Diff *SessionDiff `json:"diff,omitempty"`
}

// NewEvent stamps an event with the session's current cursor.
func NewEvent(t EventType, s *Session, now time.Time) *Event {
	return &Event{
		Type:      t,
		Timestamp: now,
		SessionID: s.ID,
		Status:    s.Status,
		Pointer:   s.Pointer,
		Round:     s.Round,
	}
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnStepCompleted    func(context.Context, *Event)
	OnStatusChanged    func(context.Context, *Event)
	OnGenerationFailed func(context.Context, *Event)
}
