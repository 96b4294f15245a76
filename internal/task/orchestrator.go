package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/queue"
	"github.com/hoardline/taskcore/internal/store"
)

// ErrTaskNotTerminal is returned when deletion is requested for a task
// that is still pending, queued, or running.
var ErrTaskNotTerminal = errors.New("task is not in a terminal state")

// BatchItem identifies one domain object to include in a batch.
type BatchItem struct {
	ItemID   string
	ItemType string
}

// Orchestrator owns the write path for batches: creation, cancellation,
// manual retry, and cleanup. It persists first and enqueues second, so a
// broker outage after commit leaves a pending task that the recovery
// sweep can re-enqueue.
type Orchestrator struct {
	store  store.TaskStore
	queue  queue.Queue
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator backed by the given store and
// queue.
func NewOrchestrator(taskStore store.TaskStore, q queue.Queue, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  taskStore,
		queue:  q,
		logger: logger.With("component", "orchestrator"),
	}
}

// CreateBatch validates and persists a task with one item per batch
// entry, enqueues a job per item, and marks the task queued. A nil
// policy selects the default retry policy.
func (o *Orchestrator) CreateBatch(
	ctx context.Context,
	kind domain.TaskKind,
	queueName string,
	config domain.TaskConfig,
	items []BatchItem,
	policy *domain.RetryPolicy,
) (*domain.Task, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch has no items", domain.ErrNoItems)
	}

	retryPolicy := domain.DefaultRetryPolicy()
	if policy != nil {
		retryPolicy = *policy
	}

	task, err := domain.NewTask(kind, queueName, config, len(items), retryPolicy)
	if err != nil {
		return nil, fmt.Errorf("building task: %w", err)
	}

	taskItems := make([]*domain.TaskItem, 0, len(items))
	for _, entry := range items {
		item, err := domain.NewTaskItem(task.ID, entry.ItemID, entry.ItemType)
		if err != nil {
			return nil, fmt.Errorf("building item %q: %w", entry.ItemID, err)
		}
		taskItems = append(taskItems, item)
	}

	if err := o.store.CreateTaskWithItems(ctx, task, taskItems); err != nil {
		return nil, fmt.Errorf("persisting batch: %w", err)
	}

	logger := o.logger.With("task_id", task.ID, "kind", task.Kind, "queue", task.QueueName)

	enqueued := 0
	for _, item := range taskItems {
		if err := o.enqueueItem(ctx, task, item, 0); err != nil {
			// The item stays pending; the recovery sweep picks it up once
			// the broker is back.
			logger.Error("failed to enqueue item",
				"task_item_id", item.ID,
				"item_id", item.ItemID,
				"error", err)
			continue
		}
		enqueued++
	}

	// The task becomes queued on the first successful enqueue. With the
	// broker fully down it stays pending until the recovery sweep
	// re-enqueues its items.
	if enqueued > 0 {
		if err := o.store.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusQueued); err != nil {
			return nil, fmt.Errorf("marking task queued: %w", err)
		}
		task.Status = domain.TaskStatusQueued
	}

	logger.Info("batch created",
		"total_items", task.TotalItems,
		"enqueued_items", enqueued)

	return task, nil
}

// enqueueItem publishes the job for one item and records the assigned
// handle on the item row.
func (o *Orchestrator) enqueueItem(ctx context.Context, task *domain.Task, item *domain.TaskItem, attempt int) error {
	job := &queue.Job{
		TaskID:     task.ID,
		TaskItemID: item.ID,
		ItemID:     item.ItemID,
		ItemType:   item.ItemType,
		Kind:       task.Kind,
		Queue:      task.QueueName,
		Attempt:    attempt,
	}

	handle, err := o.queue.Enqueue(ctx, job)
	if err != nil {
		return err
	}

	if err := o.store.SetItemJobHandle(ctx, item.ID, handle); err != nil {
		return fmt.Errorf("recording job handle: %w", err)
	}
	return nil
}

// GetTask returns the task's current state.
func (o *Orchestrator) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return o.store.GetTask(ctx, taskID)
}

// GetTaskItems returns all items of a task, oldest first.
func (o *Orchestrator) GetTaskItems(ctx context.Context, taskID uuid.UUID) ([]*domain.TaskItem, error) {
	return o.store.GetTaskItems(ctx, taskID)
}

// Cancel moves the task to cancelled and fails its still-pending items.
// Running items finish their current attempt and are failed by the
// executor's end-of-run check. Cancelling a terminal task is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := o.store.CancelTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("cancelling task: %w", err)
	}

	o.logger.Info("task cancelled", "task_id", taskID, "status", task.Status)
	return task, nil
}

// RetryFailed resets the task's failed items that still have retry
// budget back to pending and re-enqueues them immediately, then
// recomputes the aggregate, which reopens a completed or failed task to
// running. Items already at max retries stay failed permanently.
// Returns the number of items re-enqueued. Cancelled tasks are not
// retried.
func (o *Orchestrator) RetryFailed(ctx context.Context, taskID uuid.UUID) (int, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if task.Status == domain.TaskStatusCancelled {
		return 0, fmt.Errorf("%w: cannot retry a cancelled task", domain.ErrInvalidTransition)
	}

	failed, err := o.store.ListItemsByStatus(ctx, taskID, domain.ItemStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("listing failed items: %w", err)
	}
	if len(failed) == 0 {
		return 0, nil
	}

	retried := 0
	for _, item := range failed {
		if item.RetryCount >= task.RetryPolicy.MaxRetries {
			o.logger.Debug("skipping exhausted item",
				"task_id", taskID,
				"task_item_id", item.ID,
				"retry_count", item.RetryCount)
			continue
		}
		if err := o.store.ResetItemForRetry(ctx, item.ID); err != nil {
			o.logger.Error("failed to reset item for retry",
				"task_id", taskID,
				"task_item_id", item.ID,
				"error", err)
			continue
		}
		if err := o.enqueueItem(ctx, task, item, item.RetryCount+1); err != nil {
			o.logger.Error("failed to re-enqueue item",
				"task_id", taskID,
				"task_item_id", item.ID,
				"error", err)
			continue
		}
		retried++
	}
	if retried == 0 {
		return 0, nil
	}

	if _, err := o.store.RecomputeProgress(ctx, taskID); err != nil {
		return retried, fmt.Errorf("recomputing progress: %w", err)
	}

	o.logger.Info("failed items re-enqueued", "task_id", taskID, "count", retried)
	return retried, nil
}

// DeleteTask removes a terminal task and its items. Live tasks must be
// cancelled first.
func (o *Orchestrator) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.IsTerminal() {
		return fmt.Errorf("%w: cancel the task before deleting it", ErrTaskNotTerminal)
	}

	if err := o.store.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}

	o.logger.Info("task deleted", "task_id", taskID)
	return nil
}
