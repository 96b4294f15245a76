package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/events"
	"github.com/hoardline/taskcore/internal/jobs"
	"github.com/hoardline/taskcore/internal/queue"
	"github.com/hoardline/taskcore/internal/redact"
	"github.com/hoardline/taskcore/internal/store"
)

// ExecutorConfig holds per-kind execution limits.
type ExecutorConfig struct {
	// DefaultJobTimeout bounds a single handler call when the kind has no
	// specific timeout. If zero, defaults to 2 minutes.
	DefaultJobTimeout time.Duration

	// JobTimeouts overrides the timeout per kind.
	JobTimeouts map[domain.TaskKind]time.Duration
}

// DefaultExecutorConfig returns an ExecutorConfig with reasonable
// defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultJobTimeout: 2 * time.Minute,
	}
}

// Executor runs one dequeued job end to end: claim the item, dispatch to
// the kind's handler under a timeout, commit the outcome, and emit the
// transition event that drives the progress recompute.
//
// The claim is a conditional pending → running update, so a job delivered
// twice runs at most once and a re-delivery of a finished item is a
// no-op. Cancellation is checked on entry and again before the outcome
// is committed; a result computed for a cancelled task is discarded.
type Executor struct {
	store    store.TaskStore
	registry *Registry
	retry    *RetryEngine
	emitter  events.EventEmitter
	config   ExecutorConfig
	logger   *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(
	taskStore store.TaskStore,
	registry *Registry,
	retryEngine *RetryEngine,
	emitter events.EventEmitter,
	config ExecutorConfig,
	logger *slog.Logger,
) *Executor {
	if config.DefaultJobTimeout <= 0 {
		config.DefaultJobTimeout = 2 * time.Minute
	}

	return &Executor{
		store:    taskStore,
		registry: registry,
		retry:    retryEngine,
		emitter:  emitter,
		config:   config,
		logger:   logger.With("component", "executor"),
	}
}

// Process executes a single job. A nil return means the job is settled
// from the broker's point of view; errors are returned only for
// infrastructure failures where nothing was committed.
func (e *Executor) Process(ctx context.Context, job *queue.Job) error {
	logger := e.logger.With(
		"task_id", job.TaskID,
		"task_item_id", job.TaskItemID,
		"kind", job.Kind,
		"attempt", job.Attempt,
	)

	task, err := e.store.GetTask(ctx, job.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			// Task was deleted while the job sat in the queue.
			logger.Debug("dropping job for deleted task")
			return nil
		}
		return fmt.Errorf("loading task: %w", err)
	}

	if task.Status == domain.TaskStatusCancelled {
		// Pending items were already failed by the cancellation; nothing
		// to run here.
		logger.Debug("dropping job for cancelled task")
		return nil
	}

	claimed, err := e.store.ClaimItem(ctx, job.TaskItemID)
	if err != nil {
		return fmt.Errorf("claiming item: %w", err)
	}
	if !claimed {
		logger.Debug("item not pending, skipping re-delivered job")
		return nil
	}

	item, err := e.store.GetTaskItem(ctx, job.TaskItemID)
	if err != nil {
		return fmt.Errorf("loading item: %w", err)
	}

	logger.Info("executing item", "item_id", item.ItemID, "retry_count", item.RetryCount)

	result, runErr := e.run(ctx, task, item)

	// Re-check cancellation before committing: a cancel that landed while
	// the handler ran wins over the handler's outcome.
	current, err := e.store.GetTask(ctx, job.TaskID)
	if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
		return fmt.Errorf("re-loading task: %w", err)
	}
	if err == nil && current.Status == domain.TaskStatusCancelled {
		if failErr := e.store.FailItem(ctx, item.ID, domain.CancelledReason); failErr != nil {
			logger.Error("failed to fail item after cancellation", "error", failErr)
		}
		e.emit(ctx, logger, task.ID, item.ID, events.TransitionFailed)
		logger.Info("discarded outcome of cancelled task")
		return nil
	}

	if runErr != nil {
		return e.settleFailure(ctx, logger, task, item, runErr)
	}

	if err := e.store.CompleteItem(ctx, item.ID, result.Data); err != nil {
		return fmt.Errorf("completing item: %w", err)
	}
	e.emit(ctx, logger, task.ID, item.ID, events.TransitionCompleted)

	logger.Info("item completed")
	return nil
}

// run dispatches the item to its kind's handler under the kind's timeout.
// A panicking handler is converted into an internal job error instead of
// taking the worker down.
func (e *Executor) run(ctx context.Context, task *domain.Task, item *domain.TaskItem) (result jobs.Result, err error) {
	handler, err := e.registry.Resolve(task.Kind)
	if err != nil {
		return jobs.Result{}, jobs.NewPermanent(jobs.ErrorKindInternal, "no handler for kind", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(task.Kind))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			// A panic is a programming bug, not a transient condition;
			// retrying it would fail the same way every time.
			err = jobs.NewPermanent(jobs.ErrorKindInternal, fmt.Sprintf("handler panicked: %v", r), nil)
		}
	}()

	return handler.Execute(runCtx, jobs.Request{
		TaskID:   task.ID,
		ItemID:   item.ItemID,
		ItemType: item.ItemType,
		Config:   task.Config,
	})
}

// settleFailure either schedules a retry or records the permanent
// failure, depending on the error classification and the task's policy.
func (e *Executor) settleFailure(
	ctx context.Context,
	logger *slog.Logger,
	task *domain.Task,
	item *domain.TaskItem,
	runErr error,
) error {
	kind := jobs.Classify(runErr)

	if e.retry.ShouldRetry(task.RetryPolicy, item.RetryCount, runErr) {
		if err := e.retry.Schedule(ctx, task, item); err != nil {
			return fmt.Errorf("scheduling retry: %w", err)
		}
		e.emit(ctx, logger, task.ID, item.ID, events.TransitionRetried)

		logger.Warn("item failed, retry scheduled",
			"error_kind", kind,
			"error", runErr,
			"retry_count", item.RetryCount)
		return nil
	}

	if err := e.store.FailItem(ctx, item.ID, redact.Error(runErr)); err != nil {
		return fmt.Errorf("failing item: %w", err)
	}
	e.emit(ctx, logger, task.ID, item.ID, events.TransitionFailed)

	logger.Error("item failed permanently",
		"error_kind", kind,
		"error", runErr,
		"retry_count", item.RetryCount)
	return nil
}

func (e *Executor) emit(ctx context.Context, logger *slog.Logger, taskID, itemID uuid.UUID, transition events.ItemTransition) {
	event := events.NewItemTransitionEvent(taskID, itemID, transition)
	if err := e.emitter.EmitEvent(ctx, event); err != nil {
		logger.Error("failed to emit item transition",
			"transition", transition,
			"error", err)
	}
}

func (e *Executor) timeoutFor(kind domain.TaskKind) time.Duration {
	if t, ok := e.config.JobTimeouts[kind]; ok && t > 0 {
		return t
	}
	return e.config.DefaultJobTimeout
}
