package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hoardline/taskcore/internal/domain"
)

// ItemCounts holds per-status item totals for a queue or task.
type ItemCounts struct {
	Pending int
	Running int
	Failed  int
}

// TaskStore defines the interface for persisting tasks and task items.
// All status transitions and the aggregate recompute must be applied as
// atomic, serializable updates: multiple workers complete sibling items
// concurrently and race on the recompute.
type TaskStore interface {
	// CreateTaskWithItems persists a task and its items in one transaction.
	CreateTaskWithItems(ctx context.Context, task *domain.Task, items []*domain.TaskItem) error

	// GetTask retrieves a task by ID. Returns ErrTaskNotFound if absent.
	GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// GetTaskItems retrieves all items of a task, oldest first.
	GetTaskItems(ctx context.Context, taskID uuid.UUID) ([]*domain.TaskItem, error)

	// GetTaskItem retrieves a single item by ID. Returns
	// ErrTaskItemNotFound if absent.
	GetTaskItem(ctx context.Context, itemID uuid.UUID) (*domain.TaskItem, error)

	// UpdateTaskStatus moves a task to the given status, enforcing the
	// task state machine in the database.
	UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status domain.TaskStatus) error

	// SetItemJobHandle records the queue system's job identifier for an item.
	SetItemJobHandle(ctx context.Context, itemID uuid.UUID, handle string) error

	// ClaimItem transitions an item from pending to running and marks the
	// parent task running if it was queued. Returns false when the item is
	// not pending (already claimed, completed, or failed), which makes
	// re-delivered jobs a no-op.
	ClaimItem(ctx context.Context, itemID uuid.UUID) (bool, error)

	// CompleteItem finalizes a running item as completed with its result
	// payload. Completed items are never mutated again.
	CompleteItem(ctx context.Context, itemID uuid.UUID, result json.RawMessage) error

	// FailItem finalizes an item as failed with a human-readable message.
	// Applies to pending and running items; completed items are untouched.
	FailItem(ctx context.Context, itemID uuid.UUID, errorMessage string) error

	// ResetItemForRetry moves a failed item back to pending and increments
	// its retry count. The recorded job handle is cleared; the follow-up
	// enqueue records the new one.
	ResetItemForRetry(ctx context.Context, itemID uuid.UUID) error

	// ListItemsByStatus returns a task's items currently in the given status.
	ListItemsByStatus(ctx context.Context, taskID uuid.UUID, status domain.ItemStatus) ([]*domain.TaskItem, error)

	// ListStuckItems returns items that have been running longer than the
	// given age, across all tasks. Used by the crash-recovery sweep.
	ListStuckItems(ctx context.Context, olderThan time.Duration) ([]*domain.TaskItem, error)

	// ListUnqueuedItems returns pending items older than the given age
	// with no recorded job handle, meaning their enqueue never succeeded.
	// Used by the recovery sweep after a broker outage.
	ListUnqueuedItems(ctx context.Context, olderThan time.Duration) ([]*domain.TaskItem, error)

	// RecomputeProgress recounts the task's terminal items, recomputes the
	// percentage, and applies the terminal task status when every item has
	// finished. The recompute runs under a row lock on the task and never
	// alters a cancelled task's status. Returns the task's new state.
	RecomputeProgress(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// CancelTask sets the task to cancelled unless it is already terminal,
	// and fails all still-pending items with the cancelled reason. Items
	// already completed keep their results; running items are left to the
	// executor's end-of-run check. Returns the task's new state.
	CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// CountItemsForQueue returns per-status item counts across all
	// non-terminal tasks bound to the given queue.
	CountItemsForQueue(ctx context.Context, queueName string) (ItemCounts, error)

	// DeleteTask removes a task and, by cascade, its items. Explicit
	// cleanup only; live tasks are protected by the caller.
	DeleteTask(ctx context.Context, taskID uuid.UUID) error

	// WithTx returns a TaskStore bound to the provided transaction so
	// multiple operations can share one atomic unit.
	WithTx(tx *sql.Tx) TaskStore
}
