package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyTaskID is returned when a task ID is the zero UUID.
	ErrEmptyTaskID = errors.New("task ID cannot be empty")

	// ErrInvalidTaskKind is returned when a task kind is not one of the
	// registered kinds (parsing, ai, export).
	ErrInvalidTaskKind = errors.New("invalid task kind")

	// ErrInvalidTaskStatus is returned when a task status is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidItemStatus is returned when a task item status is not valid.
	ErrInvalidItemStatus = errors.New("invalid task item status")

	// ErrInvalidTransition is returned when a status change would violate
	// the task or item state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyQueueName is returned when a task references no queue.
	ErrEmptyQueueName = errors.New("queue name cannot be empty")

	// ErrEmptyItemID is returned when a task item has no domain object ID.
	ErrEmptyItemID = errors.New("item ID cannot be empty")

	// ErrNoItems is returned when a batch is submitted with no item IDs.
	ErrNoItems = errors.New("batch must contain at least one item")

	// ErrInvalidConfig is returned when per-kind task configuration fails
	// validation at batch-creation time.
	ErrInvalidConfig = errors.New("invalid task config")
)
