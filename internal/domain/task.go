package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task batch.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskKind identifies the family of work a task performs and selects the
// handler its items are dispatched to.
type TaskKind string

// Registered task kinds
const (
	TaskKindParsing TaskKind = "parsing"
	TaskKindAI      TaskKind = "ai"
	TaskKindExport  TaskKind = "export"
)

// RetryPolicy bounds how often a failed item is retried and how long each
// attempt waits before re-enqueueing.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts per item.
	MaxRetries int `json:"max_retries"`

	// Delays is the backoff schedule indexed by retry count. Retry counts
	// beyond the table length use the last entry.
	Delays []time.Duration `json:"delays"`
}

// DefaultRetryPolicy returns the standard policy: three retries, the first
// immediate, then 30 seconds, then five minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Delays:     []time.Duration{0, 30 * time.Second, 300 * time.Second},
	}
}

// DelayFor returns the backoff delay for the given retry count, clamped to
// the last configured entry.
func (p RetryPolicy) DelayFor(retryCount int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[retryCount]
}

// Task represents a submitted batch of homogeneous work items sharing one
// kind, one queue, and one progress counter. Aggregate counters are derived
// from item states and only written by the progress recompute.
type Task struct {
	ID             uuid.UUID   `json:"id"`
	Kind           TaskKind    `json:"kind"`
	QueueName      string      `json:"queue_name"`
	Status         TaskStatus  `json:"status"`
	TotalItems     int         `json:"total_items"`
	CompletedItems int         `json:"completed_items"`
	FailedItems    int         `json:"failed_items"`
	Progress       int         `json:"progress"`
	Config         TaskConfig  `json:"config"`
	RetryPolicy    RetryPolicy `json:"retry_policy"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// NewTask creates a pending Task for the given kind and queue with the
// provided number of items. The config is validated before the task is
// returned so malformed batches are rejected before anything is enqueued.
func NewTask(kind TaskKind, queueName string, config TaskConfig, totalItems int, policy RetryPolicy) (*Task, error) {
	task := &Task{
		ID:          uuid.New(),
		Kind:        kind,
		QueueName:   queueName,
		Status:      TaskStatusPending,
		TotalItems:  totalItems,
		Config:      config,
		RetryPolicy: policy,
		CreatedAt:   time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks that the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if !IsValidTaskKind(t.Kind) {
		return ErrInvalidTaskKind
	}
	if t.QueueName == "" {
		return ErrEmptyQueueName
	}
	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}
	if t.TotalItems <= 0 {
		return ErrNoItems
	}
	if t.Config != nil {
		if err := t.Config.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return IsTerminalTaskStatus(t.Status)
}

// TransitionTo moves the task to the given status, enforcing the task state
// machine. Cancellation is allowed from any non-terminal state; terminal
// states are never left.
func (t *Task) TransitionTo(status TaskStatus) error {
	if !isValidTaskStatus(status) {
		return ErrInvalidTaskStatus
	}
	if !CanTransitionTask(t.Status, status) {
		return ErrInvalidTransition
	}
	t.Status = status
	now := time.Now().UTC()
	switch status {
	case TaskStatusRunning:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
	}
	return nil
}

// CanTransitionTask reports whether a task may move from one status to
// another.
func CanTransitionTask(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	if IsTerminalTaskStatus(from) {
		return false
	}
	if to == TaskStatusCancelled {
		return true
	}
	switch from {
	case TaskStatusPending:
		return to == TaskStatusQueued
	case TaskStatusQueued:
		return to == TaskStatusRunning || to == TaskStatusCompleted || to == TaskStatusFailed
	case TaskStatusRunning:
		return to == TaskStatusCompleted || to == TaskStatusFailed
	default:
		return false
	}
}

// IsTerminalTaskStatus reports whether the status is final.
func IsTerminalTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidTaskKind reports whether the kind is one of the registered kinds.
func IsValidTaskKind(kind TaskKind) bool {
	switch kind {
	case TaskKindParsing, TaskKindAI, TaskKindExport:
		return true
	default:
		return false
	}
}

func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusQueued, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// ComputeProgress returns the integer completion percentage for the given
// counters: floor(100 * (completed+failed) / total). A zero total yields 0.
func ComputeProgress(completed, failed, total int) int {
	if total <= 0 {
		return 0
	}
	return 100 * (completed + failed) / total
}
