package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taskflow/internal/domain"
)

// taskColumns is the shared list of columns for task queries.
var taskColumns = []string{
	"id", "title", "description", "project_id", "milestone_id", "assignee_id",
	"status", "priority", "todos", "qa_remarks", "due_date", "event_seq",
	"created_at", "updated_at",
}

// TaskRepository handles database operations for tasks.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// scanTask scans a single row into a Task struct.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var todosJSON []byte
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.ProjectID,
		&task.MilestoneID,
		&task.AssigneeID,
		&task.Status,
		&task.Priority,
		&todosJSON,
		&task.QARemarks,
		&task.DueDate,
		&task.EventSeq,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if err := json.Unmarshal(todosJSON, &task.Todos); err != nil {
		return nil, fmt.Errorf("unmarshal todos for task %s: %w", task.ID, err)
	}
	return &task, nil
}

// scanTasks scans multiple rows into a slice of Task structs.
func scanTasks(rows pgx.Rows) ([]*domain.Task, error) {
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}

// GetByID retrieves a task by ID.
func (r *TaskRepository) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for task: %w", err)
	}

	return scanTask(r.pool.QueryRow(ctx, query, args...))
}

// GetByIDForUpdate retrieves a task by ID with FOR UPDATE lock (within
// transaction). The row lock is the single-writer guarantee: no two
// transitions on the same task can interleave.
func (r *TaskRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": taskID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDForUpdate query for task %s: %w", taskID, err)
	}

	return scanTask(tx.QueryRow(ctx, query, args...))
}

// Create inserts a new task snapshot produced by the workflow engine.
func (r *TaskRepository) Create(ctx context.Context, tx pgx.Tx, task *domain.Task) error {
	todosJSON, err := json.Marshal(task.Todos)
	if err != nil {
		return fmt.Errorf("marshal todos: %w", err)
	}

	query, args, err := psql.
		Insert("tasks").
		Columns(taskColumns...).
		Values(
			task.ID, task.Title, task.Description, task.ProjectID,
			task.MilestoneID, task.AssigneeID, task.Status, task.Priority,
			todosJSON, task.QARemarks, task.DueDate, task.EventSeq,
			task.CreatedAt, task.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for task: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Save persists a mutated snapshot with an optimistic guard on the event
// sequence: if the stored counter no longer matches the snapshot this
// mutation was computed from, the write is stale and fails.
func (r *TaskRepository) Save(ctx context.Context, tx pgx.Tx, task *domain.Task, expectedSeq int64) error {
	todosJSON, err := json.Marshal(task.Todos)
	if err != nil {
		return fmt.Errorf("marshal todos: %w", err)
	}

	query, args, err := psql.
		Update("tasks").
		Set("title", task.Title).
		Set("description", task.Description).
		Set("milestone_id", task.MilestoneID).
		Set("assignee_id", task.AssigneeID).
		Set("status", task.Status).
		Set("priority", task.Priority).
		Set("todos", todosJSON).
		Set("qa_remarks", task.QARemarks).
		Set("due_date", task.DueDate).
		Set("event_seq", task.EventSeq).
		Set("updated_at", task.UpdatedAt).
		Where(sq.Eq{
			"id":        task.ID,
			"event_seq": expectedSeq,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Save query for task %s: %w", task.ID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflictStale
	}
	return nil
}

// Delete removes a task. Events go with it via the FK cascade; the
// task.deleted event is published live only.
func (r *TaskRepository) Delete(ctx context.Context, tx pgx.Tx, taskID string) error {
	query, args, err := psql.
		Delete("tasks").
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Delete query for task %s: %w", taskID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// TaskListFilters holds the supported filters for task listing.
type TaskListFilters struct {
	AssigneeID *string // scope to one assignee (ordinary users)
	Statuses   []domain.TaskStatus
}

// List retrieves tasks ordered by priority then creation time.
func (r *TaskRepository) List(ctx context.Context, filters TaskListFilters) ([]*domain.Task, error) {
	qb := psql.Select(taskColumns...).From("tasks")

	if filters.AssigneeID != nil {
		qb = qb.Where(sq.Eq{"assignee_id": *filters.AssigneeID})
	}
	if len(filters.Statuses) > 0 {
		qb = qb.Where(sq.Eq{"status": filters.Statuses})
	}

	qb = qb.OrderBy("CASE priority WHEN 'Critical' THEN 1 WHEN 'High' THEN 2 WHEN 'Medium' THEN 3 WHEN 'Low' THEN 4 END ASC")
	qb = qb.OrderBy("created_at ASC")

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build List query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}

	return scanTasks(rows)
}

// FindByStatuses retrieves tasks in any of the given statuses, used by the
// queue sweeper to promote QA Ready and finalize Approved tasks.
func (r *TaskRepository) FindByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	return r.List(ctx, TaskListFilters{Statuses: statuses})
}

// FindRedZone finds non-terminal tasks past their due date that have not yet
// triggered a red-zone alert.
func (r *TaskRepository) FindRedZone(ctx context.Context) ([]*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where("due_date < NOW()").
		Where("red_zone_at IS NULL").
		Where(sq.NotEq{"status": domain.TaskStatusCompleted}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindRedZone query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query red zone tasks: %w", err)
	}

	return scanTasks(rows)
}

// MarkRedZone records that the red-zone alert for a task has been emitted,
// so the sweeper alerts at most once per task.
func (r *TaskRepository) MarkRedZone(ctx context.Context, tx pgx.Tx, taskID string) error {
	query, args, err := psql.
		Update("tasks").
		Set("red_zone_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build MarkRedZone query for task %s: %w", taskID, err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark red zone: %w", err)
	}
	return nil
}
