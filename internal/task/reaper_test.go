package task

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/queue"
)

func TestSweepRequeuesStuckItems(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	defer func() { _ = q.Close() }()

	task := newRunningTask(t)
	stuck := &domain.TaskItem{
		ID:         uuid.New(),
		TaskID:     task.ID,
		ItemID:     "link-1",
		ItemType:   "link",
		Status:     domain.ItemStatusRunning,
		RetryCount: 1,
	}

	var resetID uuid.UUID
	var requestedAge time.Duration
	mockStore := &MockTaskStore{
		ListStuckItemsFn: func(_ context.Context, olderThan time.Duration) ([]*domain.TaskItem, error) {
			requestedAge = olderThan
			return []*domain.TaskItem{stuck}, nil
		},
		GetTaskFn: func(_ context.Context, _ uuid.UUID) (*domain.Task, error) {
			return task, nil
		},
		ResetItemForRetryFn: func(_ context.Context, itemID uuid.UUID) error {
			resetID = itemID
			return nil
		},
	}

	reaper := NewReaper(mockStore, q, ReaperConfig{StuckAge: 30 * time.Minute}, testLogger())
	require.NoError(t, reaper.Sweep(context.Background()))

	assert.Equal(t, 30*time.Minute, requestedAge)
	assert.Equal(t, stuck.ID, resetID)

	job, err := q.Dequeue(context.Background(), "parsing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, stuck.ID, job.TaskItemID)
	assert.Equal(t, 2, job.Attempt)
}

func TestSweepFailsItemsOfCancelledTask(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	defer func() { _ = q.Close() }()

	task := newRunningTask(t)
	task.Status = domain.TaskStatusCancelled
	stuck := &domain.TaskItem{
		ID:       uuid.New(),
		TaskID:   task.ID,
		ItemID:   "link-1",
		ItemType: "link",
		Status:   domain.ItemStatusRunning,
	}

	var failMessage string
	recomputed := false
	mockStore := &MockTaskStore{
		ListStuckItemsFn: func(_ context.Context, _ time.Duration) ([]*domain.TaskItem, error) {
			return []*domain.TaskItem{stuck}, nil
		},
		GetTaskFn: func(_ context.Context, _ uuid.UUID) (*domain.Task, error) {
			return task, nil
		},
		FailItemFn: func(_ context.Context, _ uuid.UUID, message string) error {
			failMessage = message
			return nil
		},
		RecomputeProgressFn: func(_ context.Context, id uuid.UUID) (*domain.Task, error) {
			recomputed = true
			return &domain.Task{ID: id, Status: domain.TaskStatusCancelled}, nil
		},
	}

	reaper := NewReaper(mockStore, q, DefaultReaperConfig(), testLogger())
	require.NoError(t, reaper.Sweep(context.Background()))

	assert.Equal(t, domain.CancelledReason, failMessage)
	assert.True(t, recomputed)

	depth, err := q.Depth(context.Background(), "parsing")
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestSweepRequeuesUnqueuedItems(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	defer func() { _ = q.Close() }()

	task := newRunningTask(t)
	task.Status = domain.TaskStatusPending

	// A batch created while the broker was down: the item is pending with
	// no job handle.
	unqueued := &domain.TaskItem{
		ID:       uuid.New(),
		TaskID:   task.ID,
		ItemID:   "link-1",
		ItemType: "link",
		Status:   domain.ItemStatusPending,
	}

	var recordedHandle string
	resetCalled := false
	mockStore := &MockTaskStore{
		ListUnqueuedItemsFn: func(_ context.Context, _ time.Duration) ([]*domain.TaskItem, error) {
			return []*domain.TaskItem{unqueued}, nil
		},
		GetTaskFn: func(_ context.Context, _ uuid.UUID) (*domain.Task, error) {
			return task, nil
		},
		SetItemJobHandleFn: func(_ context.Context, _ uuid.UUID, handle string) error {
			recordedHandle = handle
			return nil
		},
		ResetItemForRetryFn: func(_ context.Context, _ uuid.UUID) error {
			resetCalled = true
			return nil
		},
	}

	reaper := NewReaper(mockStore, q, DefaultReaperConfig(), testLogger())
	require.NoError(t, reaper.Sweep(context.Background()))

	// The item is republished as-is: no reset, no retry count bump.
	assert.False(t, resetCalled)

	job, err := q.Dequeue(context.Background(), "parsing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, unqueued.ID, job.TaskItemID)
	assert.Zero(t, job.Attempt)
	assert.Equal(t, job.ID, recordedHandle)
}

func TestSweepNothingStuck(t *testing.T) {
	t.Parallel()

	reaper := NewReaper(&MockTaskStore{}, queue.NewMemoryQueue(), DefaultReaperConfig(), testLogger())
	assert.NoError(t, reaper.Sweep(context.Background()))
}

func TestReaperStartStop(t *testing.T) {
	t.Parallel()

	listed := make(chan struct{}, 1)
	mockStore := &MockTaskStore{
		ListStuckItemsFn: func(_ context.Context, _ time.Duration) ([]*domain.TaskItem, error) {
			select {
			case listed <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}

	reaper := NewReaper(mockStore, queue.NewMemoryQueue(), ReaperConfig{
		StuckAge:      time.Minute,
		CheckInterval: time.Hour,
	}, testLogger())

	reaper.Start()

	// The startup sweep runs immediately.
	select {
	case <-listed:
	case <-time.After(2 * time.Second):
		t.Fatal("startup sweep did not run")
	}

	reaper.Stop()
}
