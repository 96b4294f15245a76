package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/platform/logger"
	"github.com/hoardline/taskcore/internal/store"
)

// TaskStore implements the store.TaskStore interface using PostgreSQL.
// Multi-statement operations run in a transaction; when the store is bound
// to an external transaction via WithTx, the caller owns atomicity.
type TaskStore struct {
	db *sql.DB // nil when bound to an external transaction
	q  store.DBTX
}

// NewTaskStore creates a new TaskStore on the given database handle.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db, q: db}
}

// WithTx returns a TaskStore bound to the provided transaction.
func (s *TaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &TaskStore{q: tx}
}

// inTransaction runs fn atomically: inside the externally owned
// transaction when one is bound, otherwise in a fresh transaction.
func (s *TaskStore) inTransaction(ctx context.Context, fn func(q store.DBTX) error) error {
	if s.db == nil {
		return fn(s.q)
	}
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(tx)
	})
}

// storedRetryPolicy is the JSONB representation of a retry policy.
type storedRetryPolicy struct {
	MaxRetries int     `json:"max_retries"`
	DelaysMS   []int64 `json:"delays_ms"`
}

func encodeRetryPolicy(p domain.RetryPolicy) ([]byte, error) {
	stored := storedRetryPolicy{MaxRetries: p.MaxRetries}
	for _, d := range p.Delays {
		stored.DelaysMS = append(stored.DelaysMS, d.Milliseconds())
	}
	return json.Marshal(stored)
}

func decodeRetryPolicy(raw []byte) (domain.RetryPolicy, error) {
	var stored storedRetryPolicy
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.RetryPolicy{}, fmt.Errorf("failed to decode retry policy: %w", err)
	}
	policy := domain.RetryPolicy{MaxRetries: stored.MaxRetries}
	for _, ms := range stored.DelaysMS {
		policy.Delays = append(policy.Delays, time.Duration(ms)*time.Millisecond)
	}
	return policy, nil
}

// CreateTaskWithItems persists a task and its items in one transaction.
func (s *TaskStore) CreateTaskWithItems(ctx context.Context, task *domain.Task, items []*domain.TaskItem) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return err
	}

	configJSON, err := domain.EncodeConfig(task.Config)
	if err != nil {
		return err
	}
	policyJSON, err := encodeRetryPolicy(task.RetryPolicy)
	if err != nil {
		return err
	}

	return s.inTransaction(ctx, func(q store.DBTX) error {
		taskQuery := `
			INSERT INTO tasks (id, kind, queue_name, status, total_items, completed_items,
			                   failed_items, progress, config, retry_policy, created_at)
			VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, $7, $8)
		`
		if _, err := q.ExecContext(ctx, taskQuery,
			task.ID,
			task.Kind,
			task.QueueName,
			task.Status,
			task.TotalItems,
			configJSON,
			policyJSON,
			task.CreatedAt,
		); err != nil {
			log.Error("failed to save task",
				"task_id", task.ID,
				"task_kind", task.Kind,
				"error", err)
			return fmt.Errorf("failed to save task: %w", MapError(err))
		}

		itemQuery := `
			INSERT INTO task_items (id, task_id, item_id, item_type, status, retry_count)
			VALUES ($1, $2, $3, $4, $5, 0)
		`
		for _, item := range items {
			if err := item.Validate(); err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx, itemQuery,
				item.ID,
				item.TaskID,
				item.ItemID,
				item.ItemType,
				item.Status,
			); err != nil {
				log.Error("failed to save task item",
					"task_id", task.ID,
					"item_id", item.ItemID,
					"error", err)
				return fmt.Errorf("failed to save task item: %w", MapError(err))
			}
		}

		return nil
	})
}

const taskColumns = `id, kind, queue_name, status, total_items, completed_items,
	failed_items, progress, config, retry_policy, created_at, started_at, completed_at`

// GetTask retrieves a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(s.q.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return task, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task       domain.Task
		configJSON []byte
		policyJSON []byte
	)
	if err := row.Scan(
		&task.ID,
		&task.Kind,
		&task.QueueName,
		&task.Status,
		&task.TotalItems,
		&task.CompletedItems,
		&task.FailedItems,
		&task.Progress,
		&configJSON,
		&policyJSON,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
	); err != nil {
		return nil, err
	}

	config, err := domain.ParseConfig(task.Kind, configJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task config: %w", err)
	}
	task.Config = config

	policy, err := decodeRetryPolicy(policyJSON)
	if err != nil {
		return nil, err
	}
	task.RetryPolicy = policy

	return &task, nil
}

const itemColumns = `id, task_id, item_id, item_type, status, job_handle,
	retry_count, error_message, result_data, started_at, completed_at`

func scanItem(row rowScanner) (*domain.TaskItem, error) {
	var (
		item      domain.TaskItem
		jobHandle sql.NullString
		errMsg    sql.NullString
	)
	if err := row.Scan(
		&item.ID,
		&item.TaskID,
		&item.ItemID,
		&item.ItemType,
		&item.Status,
		&jobHandle,
		&item.RetryCount,
		&errMsg,
		&item.ResultData,
		&item.StartedAt,
		&item.CompletedAt,
	); err != nil {
		return nil, err
	}
	item.JobHandle = jobHandle.String
	item.ErrorMessage = errMsg.String
	return &item, nil
}

func (s *TaskStore) queryItems(ctx context.Context, query string, args ...any) ([]*domain.TaskItem, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task items: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var items []*domain.TaskItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task item rows: %w", err)
	}
	return items, nil
}

// GetTaskItems retrieves all items of a task, oldest first.
func (s *TaskStore) GetTaskItems(ctx context.Context, taskID uuid.UUID) ([]*domain.TaskItem, error) {
	query := `SELECT ` + itemColumns + ` FROM task_items WHERE task_id = $1 ORDER BY created_at ASC, item_id ASC`
	return s.queryItems(ctx, query, taskID)
}

// GetTaskItem retrieves a single item by ID.
func (s *TaskStore) GetTaskItem(ctx context.Context, itemID uuid.UUID) (*domain.TaskItem, error) {
	query := `SELECT ` + itemColumns + ` FROM task_items WHERE id = $1`
	item, err := scanItem(s.q.QueryRowContext(ctx, query, itemID))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrTaskItemNotFound
		}
		return nil, fmt.Errorf("failed to get task item: %w", MapError(err))
	}
	return item, nil
}

// UpdateTaskStatus moves a task to the given status, enforcing the task
// state machine against the task's current database state.
func (s *TaskStore) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status domain.TaskStatus) error {
	return s.inTransaction(ctx, func(q store.DBTX) error {
		var current domain.TaskStatus
		err := q.QueryRowContext(ctx,
			`SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, taskID,
		).Scan(&current)
		if err != nil {
			if store.IsNotFoundError(MapError(err)) {
				return store.ErrTaskNotFound
			}
			return fmt.Errorf("failed to lock task: %w", MapError(err))
		}

		if current == status {
			return nil
		}
		if !domain.CanTransitionTask(current, status) {
			return fmt.Errorf("%w: task %s from %s to %s",
				domain.ErrInvalidTransition, taskID, current, status)
		}

		query := `
			UPDATE tasks
			SET status = $1,
			    started_at = CASE WHEN $1 = 'running' THEN COALESCE(started_at, NOW()) ELSE started_at END,
			    completed_at = CASE WHEN $1 IN ('completed', 'failed', 'cancelled') THEN COALESCE(completed_at, NOW()) ELSE completed_at END
			WHERE id = $2
		`
		if _, err := q.ExecContext(ctx, query, status, taskID); err != nil {
			return fmt.Errorf("failed to update task status: %w", MapError(err))
		}
		return nil
	})
}

// SetItemJobHandle records the queue system's job identifier for an item.
func (s *TaskStore) SetItemJobHandle(ctx context.Context, itemID uuid.UUID, handle string) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE task_items SET job_handle = $1 WHERE id = $2`, handle, itemID)
	if err != nil {
		return fmt.Errorf("failed to set job handle: %w", MapError(err))
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return store.ErrTaskItemNotFound
	}
	return nil
}

// ClaimItem transitions an item from pending to running, marking the parent
// task running on the first claim. The conditional update is what makes a
// re-delivered job for an already-claimed or completed item a no-op.
func (s *TaskStore) ClaimItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	log := logger.FromContext(ctx)

	var claimed bool
	err := s.inTransaction(ctx, func(q store.DBTX) error {
		result, err := q.ExecContext(ctx, `
			UPDATE task_items
			SET status = 'running', started_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, itemID)
		if err != nil {
			return fmt.Errorf("failed to claim task item: %w", MapError(err))
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			log.Debug("task item not claimable", "task_item_id", itemID)
			return nil
		}
		claimed = true

		_, err = q.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'running', started_at = COALESCE(started_at, NOW())
			WHERE id = (SELECT task_id FROM task_items WHERE id = $1)
			  AND status = 'queued'
		`, itemID)
		if err != nil {
			return fmt.Errorf("failed to mark task running: %w", MapError(err))
		}
		return nil
	})
	return claimed, err
}

// CompleteItem finalizes a running item as completed with its result
// payload. A completed item is never written again.
func (s *TaskStore) CompleteItem(ctx context.Context, itemID uuid.UUID, result json.RawMessage) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE task_items
		SET status = 'completed', result_data = $1, error_message = NULL, completed_at = NOW()
		WHERE id = $2 AND status = 'running'
	`, []byte(result), itemID)
	if err != nil {
		return fmt.Errorf("failed to complete task item: %w", MapError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: item %s is not running", store.ErrUpdateFailed, itemID)
	}
	return nil
}

// FailItem finalizes a pending or running item as failed. Completed items
// are untouched.
func (s *TaskStore) FailItem(ctx context.Context, itemID uuid.UUID, errorMessage string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE task_items
		SET status = 'failed', error_message = $1, completed_at = NOW()
		WHERE id = $2 AND status IN ('pending', 'running')
	`, errorMessage, itemID)
	if err != nil {
		return fmt.Errorf("failed to fail task item: %w", MapError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: item %s is not pending or running", store.ErrUpdateFailed, itemID)
	}
	return nil
}

// ResetItemForRetry moves a running or failed item back to pending and
// increments its retry count. The previous error message is kept for
// operator visibility; the stale job handle is cleared so an item whose
// re-enqueue fails is visible to the recovery sweep.
func (s *TaskStore) ResetItemForRetry(ctx context.Context, itemID uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE task_items
		SET status = 'pending', retry_count = retry_count + 1,
		    job_handle = NULL, started_at = NULL, completed_at = NULL
		WHERE id = $1 AND status IN ('running', 'failed')
	`, itemID)
	if err != nil {
		return fmt.Errorf("failed to reset task item for retry: %w", MapError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: item %s is not running or failed", store.ErrUpdateFailed, itemID)
	}
	return nil
}

// ListItemsByStatus returns a task's items currently in the given status.
func (s *TaskStore) ListItemsByStatus(ctx context.Context, taskID uuid.UUID, status domain.ItemStatus) ([]*domain.TaskItem, error) {
	query := `SELECT ` + itemColumns + ` FROM task_items WHERE task_id = $1 AND status = $2 ORDER BY created_at ASC, item_id ASC`
	return s.queryItems(ctx, query, taskID, status)
}

// ListStuckItems returns items running longer than the given age.
func (s *TaskStore) ListStuckItems(ctx context.Context, olderThan time.Duration) ([]*domain.TaskItem, error) {
	query := `SELECT ` + itemColumns + ` FROM task_items WHERE status = 'running' AND started_at < $1 ORDER BY started_at ASC`
	return s.queryItems(ctx, query, time.Now().UTC().Add(-olderThan))
}

// ListUnqueuedItems returns pending items older than the given age whose
// enqueue never succeeded, identified by the missing job handle.
func (s *TaskStore) ListUnqueuedItems(ctx context.Context, olderThan time.Duration) ([]*domain.TaskItem, error) {
	query := `SELECT ` + itemColumns + ` FROM task_items WHERE status = 'pending' AND (job_handle IS NULL OR job_handle = '') AND created_at < $1 ORDER BY created_at ASC`
	return s.queryItems(ctx, query, time.Now().UTC().Add(-olderThan))
}

// resolveAggregate derives the task's progress percentage and next
// status from a fresh count of its terminal items.
//
// Terminal policy: when every item has finished, the task is completed
// as long as at least one item succeeded; it is failed only when every
// item failed. A cancelled task's status is never altered. A terminal
// task with newly non-terminal items (operator retry) is reopened to
// running.
func resolveAggregate(current domain.TaskStatus, completed, failed, total int) (int, domain.TaskStatus) {
	progress := domain.ComputeProgress(completed, failed, total)

	if current == domain.TaskStatusCancelled {
		return progress, current
	}

	switch {
	case completed+failed == total:
		if completed > 0 {
			return progress, domain.TaskStatusCompleted
		}
		return progress, domain.TaskStatusFailed
	case domain.IsTerminalTaskStatus(current):
		return progress, domain.TaskStatusRunning
	}
	return progress, current
}

// RecomputeProgress recounts terminal items under a row lock on the task
// and applies the counters, percentage, and status that resolveAggregate
// derives from them.
func (s *TaskStore) RecomputeProgress(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	var task *domain.Task
	err := s.inTransaction(ctx, func(q store.DBTX) error {
		locked, err := scanTask(q.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, taskID))
		if err != nil {
			if store.IsNotFoundError(MapError(err)) {
				return store.ErrTaskNotFound
			}
			return fmt.Errorf("failed to lock task: %w", MapError(err))
		}

		var completed, failed int
		err = q.QueryRowContext(ctx, `
			SELECT
				COUNT(*) FILTER (WHERE status = 'completed'),
				COUNT(*) FILTER (WHERE status = 'failed')
			FROM task_items WHERE task_id = $1
		`, taskID).Scan(&completed, &failed)
		if err != nil {
			return fmt.Errorf("failed to count task items: %w", MapError(err))
		}

		progress, status := resolveAggregate(locked.Status, completed, failed, locked.TotalItems)

		query := `
			UPDATE tasks
			SET completed_items = $1, failed_items = $2, progress = $3, status = $4,
			    completed_at = CASE
			        WHEN $4 IN ('completed', 'failed') THEN COALESCE(completed_at, NOW())
			        WHEN $4 = 'cancelled' THEN completed_at
			        ELSE NULL
			    END
			WHERE id = $5
		`
		if _, err := q.ExecContext(ctx, query, completed, failed, progress, status, taskID); err != nil {
			return fmt.Errorf("failed to update task progress: %w", MapError(err))
		}

		locked.CompletedItems = completed
		locked.FailedItems = failed
		locked.Progress = progress
		locked.Status = status
		task = locked

		log.Debug("recomputed task progress",
			"task_id", taskID,
			"completed_items", completed,
			"failed_items", failed,
			"progress", progress,
			"status", status)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CancelTask sets the task to cancelled unless already terminal and fails
// all still-pending items with the cancelled reason. Completed items keep
// their results; running items are finished by the executor's
// end-of-run cancellation check.
func (s *TaskStore) CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	var task *domain.Task
	err := s.inTransaction(ctx, func(q store.DBTX) error {
		locked, err := scanTask(q.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, taskID))
		if err != nil {
			if store.IsNotFoundError(MapError(err)) {
				return store.ErrTaskNotFound
			}
			return fmt.Errorf("failed to lock task: %w", MapError(err))
		}

		if locked.IsTerminal() {
			task = locked
			return nil
		}

		if _, err := q.ExecContext(ctx, `
			UPDATE tasks SET status = 'cancelled', completed_at = NOW() WHERE id = $1
		`, taskID); err != nil {
			return fmt.Errorf("failed to cancel task: %w", MapError(err))
		}

		result, err := q.ExecContext(ctx, `
			UPDATE task_items
			SET status = 'failed', error_message = $1, completed_at = NOW()
			WHERE task_id = $2 AND status = 'pending'
		`, domain.CancelledReason, taskID)
		if err != nil {
			return fmt.Errorf("failed to fail pending items: %w", MapError(err))
		}
		cancelled, _ := result.RowsAffected()

		var completed, failed int
		err = q.QueryRowContext(ctx, `
			SELECT
				COUNT(*) FILTER (WHERE status = 'completed'),
				COUNT(*) FILTER (WHERE status = 'failed')
			FROM task_items WHERE task_id = $1
		`, taskID).Scan(&completed, &failed)
		if err != nil {
			return fmt.Errorf("failed to count task items: %w", MapError(err))
		}

		progress := domain.ComputeProgress(completed, failed, locked.TotalItems)
		if _, err := q.ExecContext(ctx, `
			UPDATE tasks SET completed_items = $1, failed_items = $2, progress = $3 WHERE id = $4
		`, completed, failed, progress, taskID); err != nil {
			return fmt.Errorf("failed to update task counters: %w", MapError(err))
		}

		now := time.Now().UTC()
		locked.Status = domain.TaskStatusCancelled
		locked.CompletedItems = completed
		locked.FailedItems = failed
		locked.Progress = progress
		if locked.CompletedAt == nil {
			locked.CompletedAt = &now
		}
		task = locked

		log.Info("task cancelled",
			"task_id", taskID,
			"pending_items_failed", cancelled)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CountItemsForQueue returns per-status item counts across all tasks bound
// to the given queue. Failed counts cover terminal tasks too, since
// permanently failed items stay visible to operators.
func (s *TaskStore) CountItemsForQueue(ctx context.Context, queueName string) (store.ItemCounts, error) {
	var counts store.ItemCounts
	err := s.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE ti.status = 'pending'),
			COUNT(*) FILTER (WHERE ti.status = 'running'),
			COUNT(*) FILTER (WHERE ti.status = 'failed')
		FROM task_items ti
		JOIN tasks t ON t.id = ti.task_id
		WHERE t.queue_name = $1
	`, queueName).Scan(&counts.Pending, &counts.Running, &counts.Failed)
	if err != nil {
		return store.ItemCounts{}, fmt.Errorf("failed to count queue items: %w", MapError(err))
	}
	return counts, nil
}

// DeleteTask removes a task; items go with it via ON DELETE CASCADE.
func (s *TaskStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", MapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}
