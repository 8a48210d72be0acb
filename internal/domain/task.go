package domain

import "time"

// TaskStatus represents the position of a task in the delivery workflow.
type TaskStatus string

const (
	TaskStatusPending        TaskStatus = "Pending"
	TaskStatusInProgress     TaskStatus = "In Progress"
	TaskStatusQAReady        TaskStatus = "QA Ready"
	TaskStatusQA             TaskStatus = "QA"
	TaskStatusApproved       TaskStatus = "Approved"
	TaskStatusRejected       TaskStatus = "Rejected"
	TaskStatusFixingRequired TaskStatus = "Fixing Required"
	TaskStatusBackToQA       TaskStatus = "Back to QA"
	TaskStatusCompleted      TaskStatus = "Completed"
)

// IsTerminal returns true if the status is terminal (no transitions allowed).
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted
}

// IsVerdict returns true if the status is a QA reviewer verdict.
func (s TaskStatus) IsVerdict() bool {
	return s == TaskStatusApproved || s == TaskStatusRejected || s == TaskStatusFixingRequired
}

// RequiresRemarks returns true if the status must carry non-empty QA remarks.
func (s TaskStatus) RequiresRemarks() bool {
	return s == TaskStatusRejected || s == TaskStatusFixingRequired
}

// IsValid checks if the status is one of the allowed values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusQAReady, TaskStatusQA,
		TaskStatusApproved, TaskStatusRejected, TaskStatusFixingRequired,
		TaskStatusBackToQA, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// TaskPriority represents the priority level of a task.
type TaskPriority string

const (
	TaskPriorityLow      TaskPriority = "Low"
	TaskPriorityMedium   TaskPriority = "Medium"
	TaskPriorityHigh     TaskPriority = "High"
	TaskPriorityCritical TaskPriority = "Critical"
)

// IsValid checks if the priority is one of the allowed values.
func (p TaskPriority) IsValid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityCritical:
		return true
	default:
		return false
	}
}

// Todo is a checklist sub-item of a task. Item IDs are immutable once assigned
// and unique within a task; insertion order is significant.
type Todo struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Task is the unit of assignable work moving through the QA workflow.
// Project and milestone are foreign identifiers owned by external collaborators.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	ProjectID   string       `json:"projectId"`
	MilestoneID *string      `json:"milestoneId"`
	AssigneeID  *string      `json:"assigneeId"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Todos       []Todo       `json:"todos"`
	QARemarks   string       `json:"qaRemarks"`
	DueDate     *time.Time   `json:"dueDate"`
	// EventSeq is the per-task event counter; every committed mutation
	// advances it by the number of events it emitted. Exposed on the wire
	// so clients can order a fetched snapshot against buffered events.
	EventSeq  int64     `json:"eventSeq"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsAssignedTo checks if the task is assigned to the given user.
func (t *Task) IsAssignedTo(userID string) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}

// FindTodo returns the index of the todo with the given id, or -1.
func (t *Task) FindTodo(todoID string) int {
	for i := range t.Todos {
		if t.Todos[i].ID == todoID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the task. The workflow engine mutates copies
// only, so a failed transition never leaves a half-applied snapshot behind.
func (t *Task) Clone() *Task {
	c := *t
	c.Todos = make([]Todo, len(t.Todos))
	copy(c.Todos, t.Todos)
	if t.MilestoneID != nil {
		m := *t.MilestoneID
		c.MilestoneID = &m
	}
	if t.AssigneeID != nil {
		a := *t.AssigneeID
		c.AssigneeID = &a
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	return &c
}
