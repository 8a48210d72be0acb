// Package client is the Go client for the taskflow server: a thin HTTP API
// wrapper, a reconnecting realtime listener and an optimistic store that
// keeps a local task cache consistent while mutations are in flight.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mtlprog/taskflow/internal/domain"
	"github.com/mtlprog/taskflow/internal/handler/dto"
)

// APIClient talks to the taskflow HTTP API with Bearer authentication.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPIClient creates an APIClient for the given server and token.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is a non-2xx response decoded into the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope dto.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return &APIError{Status: resp.StatusCode, Code: "UNKNOWN", Message: resp.Status}
		}
		return &APIError{
			Status:  resp.StatusCode,
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListTasks fetches tasks visible to the caller.
func (c *APIClient) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	var resp dto.TasksListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// GetTask fetches a single task.
func (c *APIClient) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var resp dto.TaskResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+taskID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// CreateTask creates a new task.
func (c *APIClient) CreateTask(ctx context.Context, req dto.CreateTaskRequest) (*domain.Task, error) {
	var resp dto.TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/tasks", req, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// UpdateTask updates general task fields.
func (c *APIClient) UpdateTask(ctx context.Context, taskID string, req dto.UpdateTaskRequest) (*domain.Task, error) {
	var resp dto.TaskResponse
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+taskID, req, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// ReplaceTodos replaces the task's checklist.
func (c *APIClient) ReplaceTodos(ctx context.Context, taskID string, todos []dto.TodoInput) (*domain.Task, error) {
	var resp dto.TaskResponse
	req := dto.ReplaceTodosRequest{Todos: todos}
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+taskID+"/todos", req, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// SubmitForQA submits the task for review.
func (c *APIClient) SubmitForQA(ctx context.Context, taskID string) (*domain.Task, error) {
	var resp dto.TaskResponse
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+taskID+"/qa", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// Resubmit sends a rejected task back to review.
func (c *APIClient) Resubmit(ctx context.Context, taskID string) (*domain.Task, error) {
	var resp dto.TaskResponse
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+taskID+"/resubmit", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// MarkFixed completes a rejected task without re-review.
func (c *APIClient) MarkFixed(ctx context.Context, taskID string) (*domain.Task, error) {
	var resp dto.TaskResponse
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+taskID+"/fixed", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// SubmitVerdict records a QA decision.
func (c *APIClient) SubmitVerdict(ctx context.Context, taskID string, status domain.TaskStatus, remarks string) (*domain.Task, error) {
	var resp dto.TaskResponse
	req := dto.VerdictRequest{Status: string(status), QARemarks: remarks}
	if err := c.do(ctx, http.MethodPut, "/api/qa/tasks/"+taskID, req, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// ListQAQueue fetches the review queue.
func (c *APIClient) ListQAQueue(ctx context.Context) ([]*domain.Task, error) {
	var resp dto.TasksListResponse
	if err := c.do(ctx, http.MethodGet, "/api/qa/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// DeleteTask deletes a task.
func (c *APIClient) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+taskID, nil, nil)
}
