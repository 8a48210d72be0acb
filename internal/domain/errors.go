package domain

import "errors"

// Domain-specific errors for business logic validation.
var (
	// Task errors
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingRemarks    = errors.New("qa remarks are required")
	ErrConflictStale     = errors.New("task state is stale")

	// Todo errors
	ErrTodoNotFound  = errors.New("todo item not found")
	ErrEmptyTodos    = errors.New("task must keep at least one todo item")
	ErrDuplicateTodo = errors.New("duplicate todo item id")

	// Permission errors
	ErrForbidden = errors.New("operation not permitted")

	// User errors
	ErrUserNotFound = errors.New("user not found")
	ErrUserInactive = errors.New("user is inactive")
	ErrInvalidToken = errors.New("invalid authentication token")

	// Validation errors
	ErrInvalidStatus   = errors.New("invalid task status")
	ErrInvalidPriority = errors.New("invalid task priority")
	ErrEmptyTitle      = errors.New("title is required")
)
