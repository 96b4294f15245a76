package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hoardline/taskcore/internal/events"
	"github.com/hoardline/taskcore/internal/store"
)

// ProgressAggregator reacts to item transitions by recomputing the
// parent task's aggregate counters and, when the last item finishes,
// its terminal status. It is the only writer of the aggregate fields;
// the executor never touches them directly.
type ProgressAggregator struct {
	store  store.TaskStore
	logger *slog.Logger
}

// NewProgressAggregator creates a ProgressAggregator.
func NewProgressAggregator(taskStore store.TaskStore, logger *slog.Logger) *ProgressAggregator {
	return &ProgressAggregator{
		store:  taskStore,
		logger: logger.With("component", "progress_aggregator"),
	}
}

// HandleEvent implements events.EventHandler.
func (a *ProgressAggregator) HandleEvent(ctx context.Context, event *events.ItemTransitionEvent) error {
	task, err := a.store.RecomputeProgress(ctx, event.TaskID)
	if err != nil {
		return fmt.Errorf("recomputing progress for task %s: %w", event.TaskID, err)
	}

	a.logger.Debug("progress recomputed",
		"task_id", task.ID,
		"transition", event.Transition,
		"progress", task.Progress,
		"completed_items", task.CompletedItems,
		"failed_items", task.FailedItems)

	if task.IsTerminal() {
		a.logger.Info("task finished",
			"task_id", task.ID,
			"status", task.Status,
			"completed_items", task.CompletedItems,
			"failed_items", task.FailedItems,
			"total_items", task.TotalItems)
	}

	return nil
}

var _ events.EventHandler = (*ProgressAggregator)(nil)
