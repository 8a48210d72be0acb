package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mtlprog/taskflow/internal/handler/dto"
	"github.com/mtlprog/taskflow/internal/middleware"
)

// handleListQAQueue lists the review queue (QA Ready, QA, Back to QA).
// @Summary List the QA queue
// @Description Lists tasks waiting for or under review. Admin only.
// @Tags qa
// @Produce json
// @Success 200 {object} dto.TasksListResponse
// @Failure 403 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/qa/tasks [get]
func (h *Handler) handleListQAQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	tasks, err := h.taskService.ListQAQueue(ctx, user)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewTasksListResponse(tasks))
}

// handleListRevision lists tasks awaiting rework (Rejected, Fixing Required).
// @Summary List tasks awaiting rework
// @Description Lists rejected tasks. Regular users see their own; admins see all.
// @Tags qa
// @Produce json
// @Success 200 {object} dto.TasksListResponse
// @Security BearerAuth
// @Router /api/qa/revision [get]
func (h *Handler) handleListRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	tasks, err := h.taskService.ListRevision(ctx, user)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewTasksListResponse(tasks))
}

// handleVerdict records a QA decision on a task under review.
// @Summary Record a QA verdict
// @Description Applies Approved, Rejected or Fixing Required to a task in QA. Rejection verdicts require qaRemarks. Admin only.
// @Tags qa
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body dto.VerdictRequest true "QA verdict"
// @Success 200 {object} dto.TaskResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/qa/tasks/{id} [put]
func (h *Handler) handleVerdict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.VerdictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	cmd, err := req.ToCommand()
	if err != nil {
		respondDomainError(w, err)
		return
	}

	task, err := h.taskService.ApplyVerdict(ctx, taskID, cmd.Status, cmd.Remarks, user)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.TaskResponse{Task: task})
}
