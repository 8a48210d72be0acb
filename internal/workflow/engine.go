// Package workflow implements the task delivery state machine as a pure
// engine: it validates a command against a task snapshot and returns the new
// snapshot plus the domain events the mutation committed, without touching
// storage or transport. Serialization per task id is the caller's job (the
// service layer holds a row lock for the duration of every Apply).
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/mtlprog/taskflow/internal/domain"
)

// Result is the outcome of a successful command: the post-mutation snapshot
// and the ordered events it emitted, each stamped with the next per-task
// sequence number.
type Result struct {
	Task   *domain.Task
	Events []*domain.Event
}

// Engine applies workflow commands. Stateless and safe for concurrent use.
type Engine struct{}

// NewEngine creates a new Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Create builds a new task in Pending status. Only privileged roles may
// create tasks. A placeholder todo is inserted when none are supplied, so
// the todos-never-empty invariant holds from the first snapshot.
func (e *Engine) Create(params CreateParams, actor *domain.User) (*Result, error) {
	if actor == nil || !actor.Role.IsPrivileged() {
		return nil, fmt.Errorf("%w: only privileged roles may create tasks", domain.ErrForbidden)
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, domain.ErrEmptyTitle
	}

	priority := params.Priority
	if priority == "" {
		priority = domain.TaskPriorityMedium
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPriority, priority)
	}

	todos, err := normalizeTodos(params.Todos)
	if err != nil {
		return nil, err
	}
	if len(todos) == 0 {
		todos = []domain.Todo{{ID: ulid.Make().String(), Text: "Getting started"}}
	}

	now := time.Now()
	task := &domain.Task{
		ID:          uuid.NewString(),
		Title:       params.Title,
		Description: params.Description,
		ProjectID:   params.ProjectID,
		MilestoneID: params.MilestoneID,
		AssigneeID:  params.AssigneeID,
		Status:      domain.TaskStatusPending,
		Priority:    priority,
		Todos:       todos,
		DueDate:     params.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res := &Result{Task: task}
	e.emit(res, task, domain.EventTypeTaskCreated, actor, domain.EventPayload{})
	if task.AssigneeID != nil {
		e.emit(res, task, domain.EventTypeTaskAssigned, actor, domain.EventPayload{
			Message: fmt.Sprintf("You have been assigned %q", task.Title),
		})
	}
	return res, nil
}

// Apply validates a command against the current snapshot and returns the new
// snapshot plus emitted events. The input task is never mutated.
func (e *Engine) Apply(task *domain.Task, cmd Command, actor *domain.User) (*Result, error) {
	t := task.Clone()
	t.UpdatedAt = time.Now()
	res := &Result{Task: t}

	var err error
	switch c := cmd.(type) {
	case Update:
		err = e.applyUpdate(res, t, c, actor)
	case ReplaceTodos, AddTodo, ToggleTodo, RemoveTodo:
		err = e.applyTodos(res, t, c, actor)
	case SubmitForQA:
		if err = requireMutate(t, actor); err == nil {
			err = e.applyStatus(res, t, domain.TaskStatusQAReady, actor)
		}
	case PickForQA:
		err = e.applySystemStatus(res, t, domain.TaskStatusQA, actor)
	case Verdict:
		err = e.applyVerdict(res, t, c, actor)
	case Resubmit:
		if err = requireMutate(t, actor); err == nil {
			t.QARemarks = ""
			err = e.applyStatus(res, t, domain.TaskStatusBackToQA, actor)
		}
	case MarkFixed:
		if err = requireMutate(t, actor); err == nil {
			t.QARemarks = ""
			err = e.applyStatus(res, t, domain.TaskStatusCompleted, actor)
		}
	case Finalize:
		err = e.applySystemStatus(res, t, domain.TaskStatusCompleted, actor)
	case Delete:
		err = e.applyDelete(res, t, actor)
	default:
		err = fmt.Errorf("unknown workflow command %T", cmd)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RedZoneAlert emits the cross-cutting overdue notification for a task past
// its due date. System event: no status change, no updatedAt bump, but the
// sequence counter still advances so subscribers order it correctly.
func (e *Engine) RedZoneAlert(task *domain.Task) *Result {
	t := task.Clone()
	res := &Result{Task: t}
	e.emit(res, t, domain.EventTypeRedZoneAlert, nil, domain.EventPayload{
		Message: fmt.Sprintf("Task %q is past its due date", t.Title),
	})
	return res
}

func (e *Engine) applyUpdate(res *Result, t *domain.Task, c Update, actor *domain.User) error {
	if err := requireMutate(t, actor); err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: task is %s", domain.ErrInvalidTransition, t.Status)
	}
	if c.AssigneeSet && !actor.Role.IsPrivileged() {
		return fmt.Errorf("%w: only privileged roles may reassign tasks", domain.ErrForbidden)
	}

	if c.Title != nil {
		if strings.TrimSpace(*c.Title) == "" {
			return domain.ErrEmptyTitle
		}
		t.Title = *c.Title
	}
	if c.Description != nil {
		t.Description = *c.Description
	}
	if c.Priority != nil {
		if !c.Priority.IsValid() {
			return fmt.Errorf("%w: %q", domain.ErrInvalidPriority, *c.Priority)
		}
		t.Priority = *c.Priority
	}
	if c.MilestoneSet {
		t.MilestoneID = c.MilestoneID
	}
	if c.DueDateSet {
		t.DueDate = c.DueDate
	}

	assigneeChanged := false
	if c.AssigneeSet {
		old := t.AssigneeID
		t.AssigneeID = c.AssigneeID
		assigneeChanged = !sameRef(old, c.AssigneeID)
	}

	e.emit(res, t, domain.EventTypeTaskUpdated, actor, domain.EventPayload{})
	if assigneeChanged && t.AssigneeID != nil {
		e.emit(res, t, domain.EventTypeTaskAssigned, actor, domain.EventPayload{
			Message: fmt.Sprintf("You have been assigned %q", t.Title),
		})
	}
	return nil
}

func (e *Engine) applyTodos(res *Result, t *domain.Task, cmd Command, actor *domain.User) error {
	if err := requireMutate(t, actor); err != nil {
		return err
	}
	// Todo mutations are allowed from any non-terminal status and never
	// change status themselves, except the implicit start of work below.
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: todos are frozen once a task is %s", domain.ErrInvalidTransition, t.Status)
	}
	if t.Status == domain.TaskStatusPending {
		// First todo edit implicitly starts work.
		if err := e.applyStatus(res, t, domain.TaskStatusInProgress, actor); err != nil {
			return err
		}
	}

	switch c := cmd.(type) {
	case ReplaceTodos:
		todos, err := normalizeTodos(c.Todos)
		if err != nil {
			return err
		}
		if len(todos) == 0 {
			return domain.ErrEmptyTodos
		}
		t.Todos = todos
	case AddTodo:
		text := strings.TrimSpace(c.Text)
		if text == "" {
			return fmt.Errorf("%w: todo text is required", domain.ErrEmptyTodos)
		}
		t.Todos = append(t.Todos, domain.Todo{ID: ulid.Make().String(), Text: text})
	case ToggleTodo:
		i := t.FindTodo(c.TodoID)
		if i < 0 {
			return fmt.Errorf("%w: %s", domain.ErrTodoNotFound, c.TodoID)
		}
		t.Todos[i].Completed = !t.Todos[i].Completed
	case RemoveTodo:
		i := t.FindTodo(c.TodoID)
		if i < 0 {
			return fmt.Errorf("%w: %s", domain.ErrTodoNotFound, c.TodoID)
		}
		if len(t.Todos) == 1 {
			return domain.ErrEmptyTodos
		}
		t.Todos = append(t.Todos[:i], t.Todos[i+1:]...)
	}

	e.emit(res, t, domain.EventTypeTodosUpdated, actor, domain.EventPayload{})
	return nil
}

func (e *Engine) applyVerdict(res *Result, t *domain.Task, c Verdict, actor *domain.User) error {
	if !c.Status.IsVerdict() {
		return fmt.Errorf("%w: %q is not a verdict", domain.ErrInvalidStatus, c.Status)
	}
	if actor == nil || !actor.Role.IsPrivileged() {
		return fmt.Errorf("%w: verdicts require a privileged role", domain.ErrForbidden)
	}

	remarks := strings.TrimSpace(c.Remarks)
	if c.Status.RequiresRemarks() && remarks == "" {
		return fmt.Errorf("%w: verdict %s", domain.ErrMissingRemarks, c.Status)
	}

	// Remarks land on the snapshot before the event is emitted so the
	// payload carries them.
	if c.Status == domain.TaskStatusApproved {
		t.QARemarks = ""
	} else {
		t.QARemarks = remarks
	}
	return e.applyStatus(res, t, c.Status, actor)
}

func (e *Engine) applyDelete(res *Result, t *domain.Task, actor *domain.User) error {
	if actor == nil || !actor.Role.IsPrivileged() {
		return fmt.Errorf("%w: only privileged roles may delete tasks", domain.ErrForbidden)
	}
	e.emit(res, t, domain.EventTypeTaskDeleted, actor, domain.EventPayload{
		Message: fmt.Sprintf("Task %q was removed", t.Title),
	})
	return nil
}

// applyStatus performs a user-driven transition: graph check, role check,
// then the status.changed event.
func (e *Engine) applyStatus(res *Result, t *domain.Task, to domain.TaskStatus, actor *domain.User) error {
	from := t.Status
	if !CanFollow(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	if actor == nil {
		return fmt.Errorf("%w: %s -> %s requires a user actor", domain.ErrForbidden, from, to)
	}
	if !CanTransition(actor.Role, from, to) {
		return fmt.Errorf("%w: role %s may not apply %s -> %s", domain.ErrForbidden, actor.Role, from, to)
	}
	if !to.RequiresRemarks() {
		t.QARemarks = ""
	}
	t.Status = to
	e.emit(res, t, domain.EventTypeStatusChanged, actor, domain.EventPayload{
		OldStatus: &from,
		NewStatus: &to,
	})
	return nil
}

// applySystemStatus performs a queue-driven transition (QA pickup,
// finalization). A nil actor is the system; privileged users may also drive
// these directly.
func (e *Engine) applySystemStatus(res *Result, t *domain.Task, to domain.TaskStatus, actor *domain.User) error {
	from := t.Status
	if !CanFollow(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	if actor != nil && !actor.Role.IsPrivileged() {
		return fmt.Errorf("%w: role %s may not apply %s -> %s", domain.ErrForbidden, actor.Role, from, to)
	}
	if !to.RequiresRemarks() {
		t.QARemarks = ""
	}
	t.Status = to
	e.emit(res, t, domain.EventTypeStatusChanged, actor, domain.EventPayload{
		OldStatus: &from,
		NewStatus: &to,
	})
	return nil
}

// emit appends an event stamped with the next per-task sequence number.
// The snapshot is cloned at emission time, so multi-event commands (implicit
// start of work followed by a todo change) capture intermediate states.
func (e *Engine) emit(res *Result, t *domain.Task, typ domain.EventType, actor *domain.User, payload domain.EventPayload) {
	t.EventSeq++
	if payload.Task == nil {
		payload.Task = t.Clone()
	}
	var actorID *string
	if actor != nil {
		id := actor.ID
		actorID = &id
	}
	res.Events = append(res.Events, &domain.Event{
		ID:        ulid.Make().String(),
		Type:      typ,
		TaskID:    t.ID,
		ActorID:   actorID,
		Payload:   payload,
		Sequence:  t.EventSeq,
		Timestamp: time.Now(),
	})
}

// requireMutate enforces the ownership rule shared by todo edits and
// assignee-driven transitions: the assignee, or a privileged role.
func requireMutate(t *domain.Task, actor *domain.User) error {
	if actor == nil {
		return fmt.Errorf("%w: command requires a user actor", domain.ErrForbidden)
	}
	if !CanMutateTodos(actor.Role, actor.ID, t.AssigneeID) {
		return fmt.Errorf("%w: user %s may not modify task %s", domain.ErrForbidden, actor.ID, t.ID)
	}
	return nil
}

// normalizeTodos mints ids for new items and rejects duplicates. Existing ids
// are preserved as-is; they are immutable once assigned.
func normalizeTodos(todos []domain.Todo) ([]domain.Todo, error) {
	out := make([]domain.Todo, 0, len(todos))
	seen := make(map[string]struct{}, len(todos))
	for _, td := range todos {
		if strings.TrimSpace(td.Text) == "" {
			return nil, fmt.Errorf("%w: todo text is required", domain.ErrEmptyTodos)
		}
		if td.ID == "" {
			td.ID = ulid.Make().String()
		}
		if _, dup := seen[td.ID]; dup {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateTodo, td.ID)
		}
		seen[td.ID] = struct{}{}
		out = append(out, td)
	}
	return out, nil
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
