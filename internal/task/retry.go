package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/jobs"
	"github.com/hoardline/taskcore/internal/queue"
	"github.com/hoardline/taskcore/internal/store"
)

// RetryEngine decides whether a failed attempt gets another delivery and
// schedules it. The backoff delay is looked up in the task's policy by
// the item's retry count, so the first retry can be immediate and later
// ones progressively delayed.
type RetryEngine struct {
	store  store.TaskStore
	queue  queue.Queue
	logger *slog.Logger
}

// NewRetryEngine creates a RetryEngine backed by the given store and
// queue.
func NewRetryEngine(taskStore store.TaskStore, q queue.Queue, logger *slog.Logger) *RetryEngine {
	return &RetryEngine{
		store:  taskStore,
		queue:  q,
		logger: logger.With("component", "retry_engine"),
	}
}

// ShouldRetry reports whether the failure is transient and the item has
// retry budget left under the task's policy.
func (e *RetryEngine) ShouldRetry(policy domain.RetryPolicy, retryCount int, err error) bool {
	if !jobs.IsRetryable(err) {
		return false
	}
	return retryCount < policy.MaxRetries
}

// Schedule resets the item to pending, re-enqueues it after the policy's
// backoff delay for this retry count, and records the new job handle.
// The reset routes running → pending directly, so a scheduled retry is
// never counted as a failure and progress never moves backwards.
func (e *RetryEngine) Schedule(ctx context.Context, task *domain.Task, item *domain.TaskItem) error {
	delay := task.RetryPolicy.DelayFor(item.RetryCount)

	if err := e.store.ResetItemForRetry(ctx, item.ID); err != nil {
		return fmt.Errorf("resetting item for retry: %w", err)
	}

	job := &queue.Job{
		TaskID:     task.ID,
		TaskItemID: item.ID,
		ItemID:     item.ItemID,
		ItemType:   item.ItemType,
		Kind:       task.Kind,
		Queue:      task.QueueName,
		Attempt:    item.RetryCount + 1,
	}

	handle, err := e.queue.EnqueueIn(ctx, job, delay)
	if err != nil {
		return fmt.Errorf("re-enqueueing item: %w", err)
	}

	if err := e.store.SetItemJobHandle(ctx, item.ID, handle); err != nil {
		return fmt.Errorf("recording job handle: %w", err)
	}

	e.logger.Info("scheduled retry",
		"task_id", task.ID,
		"task_item_id", item.ID,
		"attempt", item.RetryCount+1,
		"delay", delay)

	return nil
}
