package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/queue"
	"github.com/hoardline/taskcore/internal/store"
)

// ReaperConfig holds configuration for the stuck-item reaper.
type ReaperConfig struct {
	// StuckAge defines how long an item can sit in running state before
	// it is considered orphaned by a crashed worker.
	StuckAge time.Duration

	// CheckInterval defines how often to sweep. If zero, defaults to
	// 5 minutes.
	CheckInterval time.Duration

	// PendingAge defines how long a pending item may sit with no recorded
	// job handle before the sweep re-enqueues it. This covers enqueue
	// failures during batch creation and retry scheduling. If zero,
	// defaults to CheckInterval.
	PendingAge time.Duration
}

// DefaultReaperConfig returns a ReaperConfig with reasonable defaults.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		StuckAge:      30 * time.Minute,
		CheckInterval: 5 * time.Minute,
	}
}

// Reaper periodically sweeps for items the normal flow lost track of:
// items stuck in running state (the residue of a worker that crashed
// between claim and commit) and pending items that never made it onto
// the broker (an enqueue that failed during a broker outage). Stuck
// items are reset to pending and re-enqueued, unqueued items are
// re-enqueued as they are; items of cancelled tasks are failed instead.
type Reaper struct {
	store  store.TaskStore
	queue  queue.Queue
	config ReaperConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a Reaper.
func NewReaper(taskStore store.TaskStore, q queue.Queue, config ReaperConfig, logger *slog.Logger) *Reaper {
	if config.CheckInterval == 0 {
		config.CheckInterval = 5 * time.Minute
	}
	if config.PendingAge == 0 {
		config.PendingAge = config.CheckInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reaper{
		store:  taskStore,
		queue:  q,
		config: config,
		logger: logger.With("component", "reaper"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs one immediate sweep to recover from a previous crash, then
// sweeps on the configured interval until Stop is called.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := r.Sweep(r.ctx); err != nil {
			r.logger.Error("startup sweep failed", "error", err)
		}

		ticker := time.NewTicker(r.config.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				if err := r.Sweep(r.ctx); err != nil {
					r.logger.Error("sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop shuts the reaper down and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Sweep recovers items stuck in running state, then pending items whose
// enqueue never succeeded. Returns the first listing error; per-item
// recovery errors are logged and skipped so one bad row cannot wedge the
// sweep.
func (r *Reaper) Sweep(ctx context.Context) error {
	if err := r.sweepStuck(ctx); err != nil {
		return err
	}
	return r.sweepUnqueued(ctx)
}

func (r *Reaper) sweepStuck(ctx context.Context) error {
	stuck, err := r.store.ListStuckItems(ctx, r.config.StuckAge)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	r.logger.Info("found stuck items", "count", len(stuck))
	r.each(ctx, stuck, r.recover)
	return nil
}

func (r *Reaper) sweepUnqueued(ctx context.Context) error {
	unqueued, err := r.store.ListUnqueuedItems(ctx, r.config.PendingAge)
	if err != nil {
		return err
	}
	if len(unqueued) == 0 {
		return nil
	}

	r.logger.Info("found unqueued items", "count", len(unqueued))
	r.each(ctx, unqueued, r.requeue)
	return nil
}

// each loads the parent task for every listed item (cached per sweep)
// and applies the recovery function.
func (r *Reaper) each(ctx context.Context, items []*domain.TaskItem, fn func(context.Context, *domain.Task, *domain.TaskItem) error) {
	tasks := make(map[uuid.UUID]*domain.Task)
	for _, item := range items {
		task, ok := tasks[item.TaskID]
		if !ok {
			var err error
			task, err = r.store.GetTask(ctx, item.TaskID)
			if err != nil {
				if errors.Is(err, store.ErrTaskNotFound) {
					continue
				}
				r.logger.Error("failed to load task for item",
					"task_id", item.TaskID,
					"task_item_id", item.ID,
					"error", err)
				continue
			}
			tasks[item.TaskID] = task
		}

		if err := fn(ctx, task, item); err != nil {
			r.logger.Error("failed to recover item",
				"task_id", item.TaskID,
				"task_item_id", item.ID,
				"error", err)
		}
	}
}

func (r *Reaper) recover(ctx context.Context, task *domain.Task, item *domain.TaskItem) error {
	if task.Status == domain.TaskStatusCancelled {
		if err := r.store.FailItem(ctx, item.ID, domain.CancelledReason); err != nil {
			return err
		}
		if _, err := r.store.RecomputeProgress(ctx, task.ID); err != nil {
			return err
		}
		r.logger.Info("failed stuck item of cancelled task",
			"task_id", task.ID,
			"task_item_id", item.ID)
		return nil
	}

	if err := r.store.ResetItemForRetry(ctx, item.ID); err != nil {
		return err
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

	handle, err := r.queue.Enqueue(ctx, job)
	if err != nil {
		return err
	}
	if err := r.store.SetItemJobHandle(ctx, item.ID, handle); err != nil {
		return err
	}

	r.logger.Info("requeued stuck item",
		"task_id", task.ID,
		"task_item_id", item.ID,
		"attempt", item.RetryCount+1)
	return nil
}

// requeue publishes the job for a pending item whose original enqueue
// failed. The item keeps its status and retry count; only the missing
// broker job is restored.
func (r *Reaper) requeue(ctx context.Context, task *domain.Task, item *domain.TaskItem) error {
	if task.Status == domain.TaskStatusCancelled {
		if err := r.store.FailItem(ctx, item.ID, domain.CancelledReason); err != nil {
			return err
		}
		if _, err := r.store.RecomputeProgress(ctx, task.ID); err != nil {
			return err
		}
		return nil
	}

	job := &queue.Job{
		TaskID:     task.ID,
		TaskItemID: item.ID,
		ItemID:     item.ItemID,
		ItemType:   item.ItemType,
		Kind:       task.Kind,
		Queue:      task.QueueName,
		Attempt:    item.RetryCount,
	}

	handle, err := r.queue.Enqueue(ctx, job)
	if err != nil {
		return err
	}
	if err := r.store.SetItemJobHandle(ctx, item.ID, handle); err != nil {
		return err
	}

	r.logger.Info("requeued unqueued item",
		"task_id", task.ID,
		"task_item_id", item.ID,
		"attempt", item.RetryCount)
	return nil
}
