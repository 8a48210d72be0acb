package workflow

import (
	"time"

	"github.com/mtlprog/taskflow/internal/domain"
)

// Command is the tagged union of task mutations. Payloads are validated at the
// HTTP boundary before they reach the engine, so illegal shapes never touch
// the state machine.
type Command interface {
	commandName() string
}

// CreateParams holds the fields for a new task. Status and id are never
// client-supplied; every task starts in Pending.
type CreateParams struct {
	Title       string
	Description string
	ProjectID   string
	MilestoneID *string
	AssigneeID  *string
	Priority    domain.TaskPriority
	DueDate     *time.Time
	Todos       []domain.Todo
}

// Update changes general task fields. Nil pointers leave the field untouched;
// the Set flags distinguish "clear" from "leave alone" for nullable fields.
type Update struct {
	Title        *string
	Description  *string
	Priority     *domain.TaskPriority
	AssigneeID   *string
	AssigneeSet  bool
	MilestoneID  *string
	MilestoneSet bool
	DueDate      *time.Time
	DueDateSet   bool
}

// ReplaceTodos swaps the entire todos array. This matches the portal's
// read-modify-send-whole-collection pattern; no diffing or merge logic.
type ReplaceTodos struct {
	Todos []domain.Todo
}

// AddTodo appends a checklist item. The engine mints the item id.
type AddTodo struct {
	Text string
}

// ToggleTodo flips the completed flag of one checklist item.
type ToggleTodo struct {
	TodoID string
}

// RemoveTodo deletes one checklist item. Removing the last item fails.
type RemoveTodo struct {
	TodoID string
}

// SubmitForQA moves In Progress -> QA Ready (assignee requests review).
type SubmitForQA struct{}

// PickForQA moves QA Ready -> QA or Back to QA -> QA. Applied by the queue
// sweeper (system actor) or a privileged reviewer pulling a task directly.
type PickForQA struct{}

// Verdict applies a privileged reviewer's QA decision.
type Verdict struct {
	Status  domain.TaskStatus // Approved, Rejected or Fixing Required
	Remarks string
}

// Resubmit moves Rejected or Fixing Required -> Back to QA.
type Resubmit struct{}

// MarkFixed moves Rejected or Fixing Required -> Completed directly,
// bypassing re-review (the portal's "Mark as Fixed" action).
type MarkFixed struct{}

// Finalize moves Approved -> Completed (system finalization).
type Finalize struct{}

// Delete removes the task. Privileged only.
type Delete struct{}

func (Update) commandName() string       { return "update" }
func (ReplaceTodos) commandName() string { return "replace_todos" }
func (AddTodo) commandName() string      { return "add_todo" }
func (ToggleTodo) commandName() string   { return "toggle_todo" }
func (RemoveTodo) commandName() string   { return "remove_todo" }
func (SubmitForQA) commandName() string  { return "submit_for_qa" }
func (PickForQA) commandName() string    { return "pick_for_qa" }
func (Verdict) commandName() string      { return "verdict" }
func (Resubmit) commandName() string     { return "resubmit" }
func (MarkFixed) commandName() string    { return "mark_fixed" }
func (Finalize) commandName() string     { return "finalize" }
func (Delete) commandName() string       { return "delete" }
