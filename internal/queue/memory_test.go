package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hoardline/taskcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(queueName string) *Job {
	return &Job{
		TaskID:     uuid.New(),
		TaskItemID: uuid.New(),
		ItemID:     "link-1",
		ItemType:   "link",
		Kind:       domain.TaskKindParsing,
		Queue:      queueName,
	}
}

func TestMemoryQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	job := newTestJob("parsing")
	handle, err := q.Enqueue(context.Background(), job)
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	got, err := q.Dequeue(context.Background(), "parsing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.TaskItemID, got.TaskItemID)
	assert.Equal(t, handle, got.ID)
	assert.False(t, got.EnqueuedAt.IsZero())
}

func TestMemoryQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	first := newTestJob("parsing")
	second := newTestJob("parsing")
	_, err := q.Enqueue(context.Background(), first)
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), second)
	require.NoError(t, err)

	got, err := q.Dequeue(context.Background(), "parsing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.TaskItemID, got.TaskItemID)

	got, err = q.Dequeue(context.Background(), "parsing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, second.TaskItemID, got.TaskItemID)
}

func TestMemoryQueueDequeueTimeout(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	start := time.Now()
	_, err := q.Dequeue(context.Background(), "empty", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoJob)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryQueueDequeueContextCancelled(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx, "empty", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueueDelayedDelivery(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	job := newTestJob("parsing")
	_, err := q.EnqueueIn(context.Background(), job, 50*time.Millisecond)
	require.NoError(t, err)

	// Not visible before the delay elapses.
	_, err = q.Dequeue(context.Background(), "parsing", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoJob)

	// Scheduled jobs count toward depth.
	depth, err := q.Depth(context.Background(), "parsing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	got, err := q.Dequeue(context.Background(), "parsing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.TaskItemID, got.TaskItemID)
}

func TestMemoryQueueDelayedZeroDelayIsImmediate(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	_, err := q.EnqueueIn(context.Background(), newTestJob("parsing"), 0)
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background(), "parsing", time.Second)
	assert.NoError(t, err)
}

func TestMemoryQueueIsolatesQueues(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	_, err := q.Enqueue(context.Background(), newTestJob("parsing"))
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background(), "ai", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoJob)

	depth, err := q.Depth(context.Background(), "parsing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestMemoryQueueFull(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	for i := 0; i < memoryQueueBuffer; i++ {
		_, err := q.Enqueue(context.Background(), newTestJob("parsing"))
		require.NoError(t, err)
	}

	_, err := q.Enqueue(context.Background(), newTestJob("parsing"))
	assert.ErrorIs(t, err, ErrQueueFull)

	// A full queue is not a closed one.
	assert.NoError(t, q.Ping(context.Background()))
}

func TestMemoryQueuePrunesFiredTimers(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer func() { _ = q.Close() }()

	_, err := q.EnqueueIn(context.Background(), newTestJob("parsing"), time.Millisecond)
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background(), "parsing", time.Second)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.timers) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryQueueClose(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	require.NoError(t, q.Ping(context.Background()))
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Ping(context.Background()), ErrQueueClosed)

	_, err := q.Enqueue(context.Background(), newTestJob("parsing"))
	assert.ErrorIs(t, err, ErrQueueClosed)

	_, err = q.Dequeue(context.Background(), "parsing", time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Closing twice is a no-op.
	assert.NoError(t, q.Close())
}
