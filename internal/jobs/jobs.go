// Package jobs defines the contract between the task-processing core and
// the domain services that do the actual work: content fetch/parse, AI
// enrichment, and export. The core knows nothing about their internals;
// it hands each handler an item reference plus the task config and
// interprets the returned envelope.
package jobs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hoardline/taskcore/internal/domain"
)

// Request carries everything a handler needs for one unit of work.
type Request struct {
	// TaskID identifies the parent task.
	TaskID uuid.UUID

	// ItemID is the domain object the handler operates on.
	ItemID string

	// ItemType is the domain object's type (e.g. "link", "note").
	ItemType string

	// Config is the task's per-kind configuration, read-only.
	Config domain.TaskConfig
}

// Result is a handler's success payload.
type Result struct {
	// Data is an opaque payload stored on the item as result_data.
	Data json.RawMessage
}

// Handler executes one unit of work. Implementations are invoked
// synchronously from a worker goroutine; the worker blocks for the
// duration of the call. Failures are returned as a *Error so the core
// can classify them; any other error is treated as retryable.
type Handler interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (Result, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
