package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ItemStatus represents the lifecycle state of a single task item.
type ItemStatus string

// Possible task item status values
const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusRunning   ItemStatus = "running"
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusFailed    ItemStatus = "failed"
)

// CancelledReason is the error message recorded on items that are failed
// because their parent task was cancelled before they ran.
const CancelledReason = "cancelled"

// TaskItem is one unit of work within a Task, bound to one domain-service
// call. Its status is monotonic except for failed → pending on retry, and
// a completed item is never mutated again.
type TaskItem struct {
	ID           uuid.UUID       `json:"id"`
	TaskID       uuid.UUID       `json:"task_id"`
	ItemID       string          `json:"item_id"`
	ItemType     string          `json:"item_type"`
	Status       ItemStatus      `json:"status"`
	JobHandle    string          `json:"job_handle,omitempty"`
	RetryCount   int             `json:"retry_count"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ResultData   json.RawMessage `json:"result_data,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NewTaskItem creates a pending TaskItem for the given parent task and
// domain object.
func NewTaskItem(taskID uuid.UUID, itemID, itemType string) (*TaskItem, error) {
	item := &TaskItem{
		ID:       uuid.New(),
		TaskID:   taskID,
		ItemID:   itemID,
		ItemType: itemType,
		Status:   ItemStatusPending,
	}

	if err := item.Validate(); err != nil {
		return nil, err
	}

	return item, nil
}

// Validate checks that the TaskItem has valid data.
func (i *TaskItem) Validate() error {
	if i.ID == uuid.Nil || i.TaskID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if i.ItemID == "" {
		return ErrEmptyItemID
	}
	if !isValidItemStatus(i.Status) {
		return ErrInvalidItemStatus
	}
	return nil
}

// IsTerminal reports whether the item has reached a final state.
func (i *TaskItem) IsTerminal() bool {
	return i.Status == ItemStatusCompleted || i.Status == ItemStatusFailed
}

// CanTransitionItem reports whether an item may move from one status to
// another. Completed is final; failed may return to pending on retry, and
// running may return to pending when crash recovery re-enqueues a stuck
// item.
func CanTransitionItem(from, to ItemStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case ItemStatusPending:
		return to == ItemStatusRunning || to == ItemStatusFailed
	case ItemStatusRunning:
		return to == ItemStatusCompleted || to == ItemStatusFailed || to == ItemStatusPending
	case ItemStatusFailed:
		return to == ItemStatusPending
	default:
		return false
	}
}

func isValidItemStatus(status ItemStatus) bool {
	switch status {
	case ItemStatusPending, ItemStatusRunning, ItemStatusCompleted, ItemStatusFailed:
		return true
	default:
		return false
	}
}
