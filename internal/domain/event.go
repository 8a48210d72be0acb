package domain

import "time"

// EventType represents the type of domain event.
type EventType string

const (
	EventTypeTaskCreated   EventType = "task.created"
	EventTypeTaskUpdated   EventType = "task.updated"
	EventTypeTaskAssigned  EventType = "task.assigned"
	EventTypeTaskDeleted   EventType = "task.deleted"
	EventTypeStatusChanged EventType = "status.changed"
	EventTypeTodosUpdated  EventType = "todos.updated"
	EventTypeRedZoneAlert  EventType = "red_zone_alert"
)

// EventPayload carries the committed state change. Task is the full
// post-mutation snapshot so subscribers can merge without refetching.
type EventPayload struct {
	Task      *Task       `json:"task,omitempty"`
	OldStatus *TaskStatus `json:"oldStatus,omitempty"`
	NewStatus *TaskStatus `json:"newStatus,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Event is an immutable fact emitted by the workflow engine describing a
// committed state change. Sequence is a monotonically increasing per-task
// counter used for ordering and duplicate suppression on the client.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	TaskID    string       `json:"taskId"`
	ActorID   *string      `json:"actorId"` // nil for system events
	Payload   EventPayload `json:"payload"`
	Sequence  int64        `json:"sequence"`
	Timestamp time.Time    `json:"timestamp"`
}

// IsSystemEvent returns true if the event was emitted by the system rather
// than a user action (QA queue pickup, finalization, red-zone sweep).
func (e *Event) IsSystemEvent() bool {
	return e.ActorID == nil
}
