// Package service coordinates task workflow operations: it loads state under
// a row lock, runs the pure workflow engine, persists the new snapshot with an
// optimistic sequence guard, and publishes the emitted events after commit.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taskflow/internal/domain"
	"github.com/mtlprog/taskflow/internal/repository"
	"github.com/mtlprog/taskflow/internal/workflow"
)

// EventPublisher receives committed events for fan-out to live connections.
// Implemented by bus.Bus.
type EventPublisher interface {
	Publish(event *domain.Event)
}

// TaskService executes workflow commands against persistent task state.
// The SELECT ... FOR UPDATE row lock serializes writers per task, so the
// engine always sees the latest committed snapshot.
type TaskService struct {
	pool      *pgxpool.Pool
	taskRepo  *repository.TaskRepository
	eventRepo *repository.TaskEventRepository
	userRepo  *repository.UserRepository
	engine    *workflow.Engine
	publisher EventPublisher
}

// NewTaskService creates a new TaskService.
func NewTaskService(
	pool *pgxpool.Pool,
	taskRepo *repository.TaskRepository,
	eventRepo *repository.TaskEventRepository,
	userRepo *repository.UserRepository,
	publisher EventPublisher,
) *TaskService {
	return &TaskService{
		pool:      pool,
		taskRepo:  taskRepo,
		eventRepo: eventRepo,
		userRepo:  userRepo,
		engine:    workflow.NewEngine(),
		publisher: publisher,
	}
}

// CreateTask creates a new task in Pending status.
func (s *TaskService) CreateTask(
	ctx context.Context,
	params workflow.CreateParams,
	actor *domain.User,
) (*domain.Task, error) {
	res, err := s.engine.Create(params, actor)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err.Error() != "tx is closed" {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if err := s.taskRepo.Create(ctx, tx, res.Task); err != nil {
		return nil, err
	}
	for _, event := range res.Events {
		if err := s.eventRepo.Create(ctx, tx, event); err != nil {
			return nil, fmt.Errorf("create event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.publish(res.Events)
	slog.Info("task created", "task_id", res.Task.ID, "actor_id", actor.ID)

	return res.Task, nil
}

// apply runs one workflow command against a task inside a locked transaction.
// All mutating operations below go through here.
func (s *TaskService) apply(
	ctx context.Context,
	taskID string,
	cmd workflow.Command,
	actor *domain.User,
) (*domain.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err.Error() != "tx is closed" {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Apply(task, cmd, actor)
	if err != nil {
		return nil, err
	}

	if _, isDelete := cmd.(workflow.Delete); isDelete {
		if err := s.taskRepo.Delete(ctx, tx, taskID); err != nil {
			return nil, err
		}
	} else {
		if err := s.taskRepo.Save(ctx, tx, res.Task, task.EventSeq); err != nil {
			return nil, err
		}
		for _, event := range res.Events {
			if err := s.eventRepo.Create(ctx, tx, event); err != nil {
				return nil, fmt.Errorf("create event: %w", err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.publish(res.Events)

	return res.Task, nil
}

func (s *TaskService) publish(events []*domain.Event) {
	if s.publisher == nil {
		return
	}
	for _, event := range events {
		s.publisher.Publish(event)
	}
}

// UpdateTask changes general task fields.
func (s *TaskService) UpdateTask(
	ctx context.Context,
	taskID string,
	cmd workflow.Update,
	actor *domain.User,
) (*domain.Task, error) {
	return s.apply(ctx, taskID, cmd, actor)
}

// ReplaceTodos swaps the task's entire checklist.
func (s *TaskService) ReplaceTodos(
	ctx context.Context,
	taskID string,
	todos []domain.Todo,
	actor *domain.User,
) (*domain.Task, error) {
	return s.apply(ctx, taskID, workflow.ReplaceTodos{Todos: todos}, actor)
}

// ToggleTodo flips one checklist item's completed flag.
func (s *TaskService) ToggleTodo(
	ctx context.Context,
	taskID, todoID string,
	actor *domain.User,
) (*domain.Task, error) {
	return s.apply(ctx, taskID, workflow.ToggleTodo{TodoID: todoID}, actor)
}

// AddTodo appends a checklist item.
func (s *TaskService) AddTodo(
	ctx context.Context,
	taskID, text string,
	actor *domain.User,
) (*domain.Task, error) {
	return s.apply(ctx, taskID, workflow.AddTodo{Text: text}, actor)
}

// RemoveTodo deletes a checklist item.
func (s *TaskService) RemoveTodo(
	ctx context.Context,
	taskID, todoID string,
	actor *domain.User,
) (*domain.Task, error) {
	return s.apply(ctx, taskID, workflow.RemoveTodo{TodoID: todoID}, actor)
}

// SubmitForQA moves the task from In Progress to QA Ready.
func (s *TaskService) SubmitForQA(
	ctx context.Context,
	taskID string,
	actor *domain.User,
) (*domain.Task, error) {
	return s.apply(ctx, taskID, workflow.SubmitForQA{}, actor)
}

// Resubmit moves a Rejected or Fixing Required task to Back to QA.
func (s *TaskService) Resubmit(
	ctx context.Context,
	taskID string,
	actor *domain.User,
) (*domain.Task, error) {
	return s.apply(ctx, taskID, workflow.Resubmit{}, actor)
}

// MarkFixed moves a Rejected or Fixing Required task directly to Completed.
func (s *TaskService) MarkFixed(
	ctx context.Context,
	taskID string,
	actor *domain.User,
) (*domain.Task, error) {
	return s.apply(ctx, taskID, workflow.MarkFixed{}, actor)
}

// ApplyVerdict records a reviewer's QA decision.
func (s *TaskService) ApplyVerdict(
	ctx context.Context,
	taskID string,
	verdict domain.TaskStatus,
	remarks string,
	actor *domain.User,
) (*domain.Task, error) {
	return s.apply(ctx, taskID, workflow.Verdict{Status: verdict, Remarks: remarks}, actor)
}

// DeleteTask removes a task. The task.deleted event is published to live
// connections but not persisted, since the event rows cascade away with
// the task.
func (s *TaskService) DeleteTask(ctx context.Context, taskID string, actor *domain.User) error {
	_, err := s.apply(ctx, taskID, workflow.Delete{}, actor)
	if err != nil {
		return err
	}
	slog.Info("task deleted", "task_id", taskID, "actor_id", actor.ID)
	return nil
}

// GetTask returns a single task by id. Visibility follows the list rules:
// privileged roles read any task, regular users only their assignments.
func (s *TaskService) GetTask(ctx context.Context, taskID string, actor *domain.User) (*domain.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsPrivileged() && !task.IsAssignedTo(actor.ID) {
		return nil, fmt.Errorf("%w: task %s is not assigned to user %s", domain.ErrForbidden, taskID, actor.ID)
	}
	return task, nil
}

// GetTaskEvents returns the persisted event history of a task, ordered by
// sequence. Scoped the same way as GetTask.
func (s *TaskService) GetTaskEvents(ctx context.Context, taskID string, actor *domain.User) ([]*domain.Event, error) {
	if _, err := s.GetTask(ctx, taskID, actor); err != nil {
		return nil, err
	}
	return s.eventRepo.GetByTaskID(ctx, taskID)
}

// ListTasks returns tasks visible to the actor. Privileged roles see every
// task; regular users see only their assignments.
func (s *TaskService) ListTasks(
	ctx context.Context,
	actor *domain.User,
	statuses []domain.TaskStatus,
) ([]*domain.Task, error) {
	filters := repository.TaskListFilters{Statuses: statuses}
	if !actor.Role.IsPrivileged() {
		filters.AssigneeID = &actor.ID
	}
	return s.taskRepo.List(ctx, filters)
}

// ListQAQueue returns the review queue: QA Ready, QA and Back to QA tasks.
func (s *TaskService) ListQAQueue(ctx context.Context, actor *domain.User) ([]*domain.Task, error) {
	if !actor.Role.IsPrivileged() {
		return nil, fmt.Errorf("%w: QA queue is reviewer-only", domain.ErrForbidden)
	}
	return s.taskRepo.FindByStatuses(ctx,
		domain.TaskStatusQAReady, domain.TaskStatusQA, domain.TaskStatusBackToQA)
}

// ListRevision returns tasks awaiting rework: Rejected and Fixing Required.
// Regular users see only their own.
func (s *TaskService) ListRevision(ctx context.Context, actor *domain.User) ([]*domain.Task, error) {
	filters := repository.TaskListFilters{
		Statuses: []domain.TaskStatus{domain.TaskStatusRejected, domain.TaskStatusFixingRequired},
	}
	if !actor.Role.IsPrivileged() {
		filters.AssigneeID = &actor.ID
	}
	return s.taskRepo.List(ctx, filters)
}
