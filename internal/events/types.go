package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask    = "task"
	TopicFile    = "file"
	TopicBreaker = "breaker"
)

// Event type constants
const (
	EventTypeTaskDispatched = "task.dispatched"
	EventTypeTaskCompleted  = "task.completed"
	EventTypeFileFailed     = "file.failed"
	EventTypeFileQuarantined = "file.quarantined"
	EventTypeBreakerOpened  = "breaker.opened"
	EventTypeBreakerClosed  = "breaker.closed"
)

// TaskDispatchedEvent is published when a task is handed to the process
// runner.
type TaskDispatchedEvent struct {
	ID        string
	Tool      string
	Repo      string
	Timestamp time.Time
}

func (e TaskDispatchedEvent) EventType() string { return EventTypeTaskDispatched }
func (e TaskDispatchedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task's final attempt terminates,
// whether it succeeded, exhausted retries, or was skipped for a failed
// dependency.
type TaskCompletedEvent struct {
	ID        string
	Tool      string
	Success   bool
	Exit      int
	Attempts  int
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// FileFailedEvent is published when a whole inbox file is rejected for a
// parse or validation error and moved to failed/.
type FileFailedEvent struct {
	SourceFile string
	Reason     string
	Timestamp  time.Time
}

func (e FileFailedEvent) EventType() string { return EventTypeFileFailed }
func (e FileFailedEvent) TaskID() string    { return "" }

// FileQuarantinedEvent is published when an inbox file is diverted to
// quarantine/ because one of its tasks targets a tool whose circuit
// breaker is open.
type FileQuarantinedEvent struct {
	SourceFile string
	Timestamp  time.Time
}

func (e FileQuarantinedEvent) EventType() string { return EventTypeFileQuarantined }
func (e FileQuarantinedEvent) TaskID() string    { return "" }

// BreakerStateChangedEvent is published whenever a tool's circuit breaker
// transitions between closed and open.
type BreakerStateChangedEvent struct {
	Tool      string
	Open      bool
	Timestamp time.Time
}

func (e BreakerStateChangedEvent) EventType() string {
	if e.Open {
		return EventTypeBreakerOpened
	}
	return EventTypeBreakerClosed
}
func (e BreakerStateChangedEvent) TaskID() string { return "" }
