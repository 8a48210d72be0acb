package dto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mtlprog/taskflow/internal/domain"
	"github.com/mtlprog/taskflow/internal/workflow"
)

// CreateTaskRequest represents the request body for POST /api/tasks.
type CreateTaskRequest struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	ProjectID   string      `json:"projectId"`
	MilestoneID *string     `json:"milestoneId,omitempty"`
	AssigneeID  *string     `json:"assigneeId,omitempty"`
	Priority    string      `json:"priority,omitempty"`
	DueDate     *time.Time  `json:"dueDate,omitempty"`
	Todos       []TodoInput `json:"todos,omitempty"`
}

// TodoInput is a checklist item as submitted by clients. Item ids are minted
// server-side; an incoming id is only meaningful when replacing todos.
type TodoInput struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// UpdateTaskRequest represents the request body for PUT /api/tasks/{id}.
// Absent fields are left untouched; explicit null clears nullable fields.
type UpdateTaskRequest struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Priority    *string        `json:"priority,omitempty"`
	AssigneeID  OptionalString `json:"assigneeId,omitzero"`
	MilestoneID OptionalString `json:"milestoneId,omitzero"`
	DueDate     OptionalTime   `json:"dueDate,omitzero"`
}

// OptionalString distinguishes "field absent" from "field set to null".
type OptionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON records that the field was present in the payload.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// OptionalTime distinguishes "field absent" from "field set to null".
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

// UnmarshalJSON records that the field was present in the payload.
func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parse due date: %w", err)
	}
	o.Value = &t
	return nil
}

// ReplaceTodosRequest represents the request body for PUT /api/tasks/{id}/todos.
type ReplaceTodosRequest struct {
	Todos []TodoInput `json:"todos"`
}

// VerdictRequest represents the request body for PUT /api/qa/tasks/{id}.
type VerdictRequest struct {
	Status    string `json:"status"`
	QARemarks string `json:"qaRemarks"`
}

// ToCreateParams converts the request into engine create parameters.
func (r CreateTaskRequest) ToCreateParams() (workflow.CreateParams, error) {
	priority := domain.TaskPriorityMedium
	if r.Priority != "" {
		priority = domain.TaskPriority(r.Priority)
		if !priority.IsValid() {
			return workflow.CreateParams{}, fmt.Errorf("%w: %s", domain.ErrInvalidPriority, r.Priority)
		}
	}

	return workflow.CreateParams{
		Title:       strings.TrimSpace(r.Title),
		Description: r.Description,
		ProjectID:   r.ProjectID,
		MilestoneID: r.MilestoneID,
		AssigneeID:  r.AssigneeID,
		Priority:    priority,
		DueDate:     r.DueDate,
		Todos:       todosFromInput(r.Todos),
	}, nil
}

// ToCommand converts the request into an engine update command.
func (r UpdateTaskRequest) ToCommand() (workflow.Update, error) {
	cmd := workflow.Update{
		Title:        r.Title,
		Description:  r.Description,
		AssigneeID:   r.AssigneeID.Value,
		AssigneeSet:  r.AssigneeID.Set,
		MilestoneID:  r.MilestoneID.Value,
		MilestoneSet: r.MilestoneID.Set,
		DueDate:      r.DueDate.Value,
		DueDateSet:   r.DueDate.Set,
	}
	if r.Priority != nil {
		p := domain.TaskPriority(*r.Priority)
		if !p.IsValid() {
			return workflow.Update{}, fmt.Errorf("%w: %s", domain.ErrInvalidPriority, *r.Priority)
		}
		cmd.Priority = &p
	}
	return cmd, nil
}

// ToCommand converts the request into an engine verdict command.
func (r VerdictRequest) ToCommand() (workflow.Verdict, error) {
	status := domain.TaskStatus(r.Status)
	if !status.IsVerdict() {
		return workflow.Verdict{}, fmt.Errorf("%w: %s is not a verdict", domain.ErrInvalidStatus, r.Status)
	}
	return workflow.Verdict{Status: status, Remarks: r.QARemarks}, nil
}

// ToTodos converts the replace payload into domain checklist items.
func (r ReplaceTodosRequest) ToTodos() []domain.Todo {
	return todosFromInput(r.Todos)
}

func todosFromInput(in []TodoInput) []domain.Todo {
	todos := make([]domain.Todo, 0, len(in))
	for _, t := range in {
		todos = append(todos, domain.Todo{
			ID:        t.ID,
			Text:      t.Text,
			Completed: t.Completed,
		})
	}
	return todos
}
