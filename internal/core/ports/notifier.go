// internal/core/ports/notifier.go
package ports

import (
	"context"
	"time"
)

// Notifier is the port for observers of orchestrator events (webhooks,
// chat alerts, log sinks). It decouples scheduling logic from the
// notification mechanism.
type Notifier interface {
	// Notify delivers one event.
	Notify(ctx context.Context, event Event) error

	// Close releases notifier resources.
	Close() error
}

// EventType enumerates orchestrator events.
type EventType string

const (
	EventRunSubmitted  EventType = "run.submitted"
	EventRunCompleted  EventType = "run.completed"
	EventTaskSucceeded EventType = "task.succeeded"
	EventTaskRetrying  EventType = "task.retrying"
	EventTaskFailed    EventType = "task.failed"
)

// Event is one orchestrator occurrence.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RunID     string
	TaskID    string
	SourceID  string
	Data      any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, runID, taskID, sourceID string, data any) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		TaskID:    taskID,
		SourceID:  sourceID,
		Data:      data,
	}
}
