package dto

import (
	"github.com/mtlprog/taskflow/internal/domain"
)

// TaskResponse wraps a single task. The domain type already carries the wire
// JSON tags, so responses embed it directly.
type TaskResponse struct {
	Task *domain.Task `json:"task"`
}

// TasksListResponse represents the response for task list endpoints.
type TasksListResponse struct {
	Tasks []*domain.Task `json:"tasks"`
	Total int            `json:"total"`
}

// TaskEventsResponse represents the response for GET /api/tasks/{id}/events.
type TaskEventsResponse struct {
	Events []*domain.Event `json:"events"`
	Total  int             `json:"total"`
}

// NewTasksListResponse builds the list envelope.
func NewTasksListResponse(tasks []*domain.Task) TasksListResponse {
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	return TasksListResponse{Tasks: tasks, Total: len(tasks)}
}

// NewTaskEventsResponse builds the event history envelope.
func NewTaskEventsResponse(events []*domain.Event) TaskEventsResponse {
	if events == nil {
		events = []*domain.Event{}
	}
	return TaskEventsResponse{Events: events, Total: len(events)}
}
