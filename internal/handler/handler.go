package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/mtlprog/taskflow/docs" // Import generated docs
	"github.com/mtlprog/taskflow/internal/handler/dto"
	"github.com/mtlprog/taskflow/internal/middleware"
	"github.com/mtlprog/taskflow/internal/realtime"
	"github.com/mtlprog/taskflow/internal/repository"
	"github.com/mtlprog/taskflow/internal/service"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	pool           *pgxpool.Pool
	taskService    *service.TaskService
	hub            *realtime.Hub
	authMiddleware *middleware.AuthMiddleware
}

// New creates a new Handler instance.
func New(
	pool *pgxpool.Pool,
	taskService *service.TaskService,
	hub *realtime.Hub,
	userRepo *repository.UserRepository,
) *Handler {
	return &Handler{
		pool:           pool,
		taskService:    taskService,
		hub:            hub,
		authMiddleware: middleware.NewAuthMiddleware(userRepo),
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	// Swagger UI
	mux.HandleFunc("GET /swagger/", httpSwagger.Handler())

	// Realtime channel; authentication happens in-band after the upgrade.
	mux.HandleFunc("GET /ws", h.hub.ServeWS)

	// Task API
	mux.Handle("GET /api/tasks", h.auth(h.handleListTasks))
	mux.Handle("POST /api/tasks", h.auth(h.handleCreateTask))
	mux.Handle("GET /api/tasks/{id}", h.auth(h.handleGetTask))
	mux.Handle("PUT /api/tasks/{id}", h.auth(h.handleUpdateTask))
	mux.Handle("DELETE /api/tasks/{id}", h.auth(h.handleDeleteTask))
	mux.Handle("GET /api/tasks/{id}/events", h.auth(h.handleTaskEvents))
	mux.Handle("PUT /api/tasks/{id}/todos", h.auth(h.handleReplaceTodos))
	mux.Handle("PUT /api/tasks/{id}/qa", h.auth(h.handleSubmitForQA))
	mux.Handle("PUT /api/tasks/{id}/resubmit", h.auth(h.handleResubmit))
	mux.Handle("PUT /api/tasks/{id}/fixed", h.auth(h.handleMarkFixed))

	// QA API
	mux.Handle("GET /api/qa/tasks", h.auth(h.handleListQAQueue))
	mux.Handle("GET /api/qa/revision", h.auth(h.handleListRevision))
	mux.Handle("PUT /api/qa/tasks/{id}", h.auth(h.handleVerdict))
}

func (h *Handler) auth(fn http.HandlerFunc) http.Handler {
	return h.authMiddleware.Authenticate(fn)
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.pool.Ping(ctx); err != nil {
		slog.Error("database health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Ping checks if the database is reachable (used for testing).
func (h *Handler) Ping(ctx context.Context) error {
	return h.pool.Ping(ctx)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps a domain error and writes the standard envelope.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	respondError(w, status, code, message)
}

// extractTaskID extracts and validates the task ID path parameter.
// Returns (taskID, true) if valid, ("", false) if invalid (error already sent to client).
func extractTaskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	taskID := r.PathValue("id")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task id is required")
		return "", false
	}

	if _, err := uuid.Parse(taskID); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task id must be a valid UUID")
		return "", false
	}

	return taskID, true
}
