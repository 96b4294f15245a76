package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardline/taskcore/internal/health"
	"github.com/hoardline/taskcore/internal/queue"
	"github.com/hoardline/taskcore/internal/store"
	"github.com/hoardline/taskcore/internal/task"
	"github.com/hoardline/taskcore/internal/worker"
)

// newOpsServer wires the router with a live worker pool on the parsing
// queue.
func newOpsServer(t *testing.T, mockStore *task.MockTaskStore, db health.DatabasePinger) (*httptest.Server, *worker.Manager) {
	t.Helper()

	q := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })

	orchestrator := task.NewOrchestrator(mockStore, q, testLogger())

	manager := worker.NewManager(q, noopProcessor{}, testLogger())
	t.Cleanup(manager.StopAll)
	require.NoError(t, manager.StartPool(worker.PoolConfig{
		QueueName:      "parsing",
		WorkerCount:    2,
		DequeueTimeout: 20 * time.Millisecond,
	}))

	reporter := health.NewReporter(q, mockStore, db, manager, health.ReporterConfig{}, testLogger())

	router := NewRouter(
		NewTaskHandler(orchestrator, testQueueForKind, testRetryPolicies),
		NewOpsHandler(reporter, manager),
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, manager
}

func TestListWorkers(t *testing.T) {
	t.Parallel()

	server, _ := newOpsServer(t, &task.MockTaskStore{}, pingOK{})

	resp, err := http.Get(server.URL + "/workers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	workers := decodeBody[[]worker.WorkerInfo](t, resp)
	require.Len(t, workers, 2)
	assert.Equal(t, "parsing", workers[0].Queue)
}

func TestListQueues(t *testing.T) {
	t.Parallel()

	mockStore := &task.MockTaskStore{
		CountItemsForQueueFn: func(_ context.Context, _ string) (store.ItemCounts, error) {
			return store.ItemCounts{Pending: 5, Failed: 1}, nil
		},
	}
	server, _ := newOpsServer(t, mockStore, pingOK{})

	resp, err := http.Get(server.URL + "/queues")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	queues := decodeBody[[]health.QueueStats](t, resp)
	require.Len(t, queues, 1)
	assert.Equal(t, "parsing", queues[0].Name)
	assert.Equal(t, 5, queues[0].PendingItems)
	assert.Equal(t, 1, queues[0].FailedItems)
}

func TestSuspendAndResumeQueue(t *testing.T) {
	t.Parallel()

	server, manager := newOpsServer(t, &task.MockTaskStore{}, pingOK{})

	resp := postJSON(t, server.URL+"/queues/parsing/suspend", "")
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	suspended, err := manager.Suspended("parsing")
	require.NoError(t, err)
	assert.True(t, suspended)

	resp = postJSON(t, server.URL+"/queues/parsing/resume", "")
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	suspended, err = manager.Suspended("parsing")
	require.NoError(t, err)
	assert.False(t, suspended)
}

func TestSuspendUnknownQueue(t *testing.T) {
	t.Parallel()

	server, _ := newOpsServer(t, &task.MockTaskStore{}, pingOK{})

	resp := postJSON(t, server.URL+"/queues/unknown/suspend", "")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type pingFail struct{}

func (pingFail) PingContext(_ context.Context) error { return assert.AnError }

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	server, _ := newOpsServer(t, &task.MockTaskStore{}, pingOK{})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := decodeBody[health.Report](t, resp)
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.True(t, report.Broker)
	assert.True(t, report.Database)
}

func TestHealthCheckUnhealthy(t *testing.T) {
	t.Parallel()

	server, _ := newOpsServer(t, &task.MockTaskStore{}, pingFail{})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	report := decodeBody[health.Report](t, resp)
	assert.Equal(t, health.StatusUnhealthy, report.Status)
	assert.False(t, report.Database)
}
