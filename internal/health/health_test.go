package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardline/taskcore/internal/queue"
	"github.com/hoardline/taskcore/internal/store"
	"github.com/hoardline/taskcore/internal/task"
	"github.com/hoardline/taskcore/internal/worker"
)

type stubPinger struct {
	err error
}

func (s *stubPinger) PingContext(_ context.Context) error {
	return s.err
}

type noopProcessor struct{}

func (noopProcessor) Process(_ context.Context, _ *queue.Job) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestReporter(t *testing.T, taskStore store.TaskStore, db DatabasePinger, config ReporterConfig) (*Reporter, queue.Queue, *worker.Manager) {
	t.Helper()

	q := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })

	manager := worker.NewManager(q, noopProcessor{}, testLogger())
	t.Cleanup(manager.StopAll)
	require.NoError(t, manager.StartPool(worker.PoolConfig{
		QueueName:      "parsing",
		WorkerCount:    1,
		DequeueTimeout: 20 * time.Millisecond,
	}))

	return NewReporter(q, taskStore, db, manager, config, testLogger()), q, manager
}

func TestCheckHealthy(t *testing.T) {
	t.Parallel()

	mockStore := &task.MockTaskStore{
		CountItemsForQueueFn: func(_ context.Context, queueName string) (store.ItemCounts, error) {
			assert.Equal(t, "parsing", queueName)
			return store.ItemCounts{Pending: 3, Running: 1, Failed: 2}, nil
		},
	}

	reporter, _, _ := newTestReporter(t, mockStore, &stubPinger{}, ReporterConfig{})

	report := reporter.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.Broker)
	assert.True(t, report.Database)

	require.Len(t, report.Queues, 1)
	assert.Equal(t, "parsing", report.Queues[0].Name)
	assert.Equal(t, 3, report.Queues[0].PendingItems)
	assert.Equal(t, 1, report.Queues[0].RunningItems)
	assert.Equal(t, 2, report.Queues[0].FailedItems)

	require.Len(t, report.Workers, 1)
	assert.Equal(t, "parsing", report.Workers[0].Queue)
}

func TestCheckUnhealthyDatabase(t *testing.T) {
	t.Parallel()

	reporter, _, _ := newTestReporter(t, &task.MockTaskStore{}, &stubPinger{err: errors.New("refused")}, ReporterConfig{})

	report := reporter.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.False(t, report.Database)
	assert.True(t, report.Broker)
}

func TestCheckDegradedWhenSuspended(t *testing.T) {
	t.Parallel()

	reporter, _, manager := newTestReporter(t, &task.MockTaskStore{}, &stubPinger{}, ReporterConfig{})
	require.NoError(t, manager.Suspend("parsing"))

	report := reporter.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	require.Len(t, report.Queues, 1)
	assert.True(t, report.Queues[0].Suspended)
}

func TestCheckDegradedWhenNoLiveWorkers(t *testing.T) {
	t.Parallel()

	reporter, _, manager := newTestReporter(t, &task.MockTaskStore{}, &stubPinger{}, ReporterConfig{})
	require.NoError(t, manager.Stop("parsing"))

	report := reporter.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	require.Len(t, report.Queues, 1)
	assert.Zero(t, report.Queues[0].LiveWorkers)
}

func TestCheckDegradedWhenBacklogged(t *testing.T) {
	t.Parallel()

	reporter, q, manager := newTestReporter(t, &task.MockTaskStore{}, &stubPinger{}, ReporterConfig{
		DepthThresholds: map[string]int64{"parsing": 1},
	})

	// Park the pool so enqueued jobs pile up instead of being consumed.
	require.NoError(t, manager.Suspend("parsing"))
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(context.Background(), &queue.Job{
			TaskID:     uuid.New(),
			TaskItemID: uuid.New(),
			ItemID:     "link",
			Queue:      "parsing",
		})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		report := reporter.Check(context.Background())
		return report.Status == StatusDegraded && report.Queues[0].Depth > 1
	}, 2*time.Second, 20*time.Millisecond)
}
