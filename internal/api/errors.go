package api

import (
	"errors"
	"net/http"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/store"
	"github.com/hoardline/taskcore/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrTaskItemNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// State conflicts
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, task.ErrTaskNotTerminal),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidTaskKind),
		errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrNoItems),
		errors.Is(err, domain.ErrEmptyItemID),
		errors.Is(err, domain.ErrEmptyQueueName),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrTaskItemNotFound):
		return "Task item not found"

	case errors.Is(err, task.ErrTaskNotTerminal):
		return "Task is still active; cancel it before deleting"

	case errors.Is(err, domain.ErrInvalidTransition):
		return "Operation not allowed in the task's current state"

	case errors.Is(err, domain.ErrInvalidTaskKind):
		return "Unknown task kind"

	case errors.Is(err, domain.ErrInvalidConfig):
		return "Invalid task config"

	case errors.Is(err, domain.ErrNoItems):
		return "Batch must contain at least one item"

	case errors.Is(err, domain.ErrEmptyItemID):
		return "Item ID cannot be empty"

	case errors.Is(err, domain.ErrEmptyQueueName):
		return "Queue name cannot be empty"

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	default:
		return "An unexpected error occurred"
	}
}
