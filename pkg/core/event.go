package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted by the runtime.
type EventType string

const (
	EventSessionStarted   EventType = "session.started"
	EventSessionCompleted EventType = "session.completed"
	EventTurnStarted      EventType = "turn.started"
	EventToolRequested    EventType = "tool.requested"
	EventToolCompleted    EventType = "tool.completed"
	EventApprovalPending  EventType = "approval.pending"
	EventApprovalDecided  EventType = "approval.decided"
	EventMemoryWritten    EventType = "memory.written"
	EventSessionError     EventType = "session.error"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	SessionID string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds a default event with timestamp.
func NewEvent(eventType EventType, sessionID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
