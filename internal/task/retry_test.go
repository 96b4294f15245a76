package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/jobs"
	"github.com/hoardline/taskcore/internal/queue"
)

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	engine := NewRetryEngine(&MockTaskStore{}, queue.NewMemoryQueue(), testLogger())
	policy := domain.DefaultRetryPolicy()

	tests := []struct {
		name       string
		retryCount int
		err        error
		want       bool
	}{
		{name: "transient with budget", retryCount: 0, err: jobs.NewRetryable(jobs.ErrorKindTimeout, "", nil), want: true},
		{name: "transient at last attempt", retryCount: 2, err: jobs.NewRetryable(jobs.ErrorKindTimeout, "", nil), want: true},
		{name: "transient over budget", retryCount: 3, err: jobs.NewRetryable(jobs.ErrorKindTimeout, "", nil), want: false},
		{name: "permanent with budget", retryCount: 0, err: jobs.NewPermanent(jobs.ErrorKindAuth, "", nil), want: false},
		{name: "unclassified with budget", retryCount: 1, err: errors.New("boom"), want: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, engine.ShouldRetry(policy, tc.retryCount, tc.err))
		})
	}
}

func TestScheduleUsesBackoffTable(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	defer func() { _ = q.Close() }()

	task := newRunningTask(t)
	item := &domain.TaskItem{
		ID:         uuid.New(),
		TaskID:     task.ID,
		ItemID:     "link-1",
		ItemType:   "link",
		Status:     domain.ItemStatusRunning,
		RetryCount: 0,
	}

	var handle string
	mockStore := &MockTaskStore{
		SetItemJobHandleFn: func(_ context.Context, _ uuid.UUID, h string) error {
			handle = h
			return nil
		},
	}

	engine := NewRetryEngine(mockStore, q, testLogger())
	require.NoError(t, engine.Schedule(context.Background(), task, item))

	// Retry count 0 maps to the immediate first delay, so the job must be
	// ready right away.
	job, err := q.Dequeue(context.Background(), "parsing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, item.ID, job.TaskItemID)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, handle, job.ID)
}

func TestScheduleDelaysLaterAttempts(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	defer func() { _ = q.Close() }()

	task := newRunningTask(t)
	task.RetryPolicy = domain.RetryPolicy{
		MaxRetries: 3,
		Delays:     []time.Duration{0, 50 * time.Millisecond},
	}
	item := &domain.TaskItem{
		ID:         uuid.New(),
		TaskID:     task.ID,
		ItemID:     "link-1",
		ItemType:   "link",
		Status:     domain.ItemStatusRunning,
		RetryCount: 1,
	}

	engine := NewRetryEngine(&MockTaskStore{}, q, testLogger())
	require.NoError(t, engine.Schedule(context.Background(), task, item))

	// Scheduled, not ready yet.
	_, err := q.Dequeue(context.Background(), "parsing", 5*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrNoJob)

	job, err := q.Dequeue(context.Background(), "parsing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempt)
}

func TestScheduleResetFailurePropagates(t *testing.T) {
	t.Parallel()

	resetErr := errors.New("row vanished")
	mockStore := &MockTaskStore{
		ResetItemForRetryFn: func(_ context.Context, _ uuid.UUID) error {
			return resetErr
		},
	}

	q := queue.NewMemoryQueue()
	engine := NewRetryEngine(mockStore, q, testLogger())

	task := newRunningTask(t)
	item := &domain.TaskItem{ID: uuid.New(), TaskID: task.ID, ItemID: "link-1"}

	err := engine.Schedule(context.Background(), task, item)
	assert.ErrorIs(t, err, resetErr)

	depth, depthErr := q.Depth(context.Background(), "parsing")
	require.NoError(t, depthErr)
	assert.Zero(t, depth)
}
