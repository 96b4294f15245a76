package worker

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hoardline/taskcore/internal/queue"
)

// Manager owns one Pool per queue and exposes collective lifecycle and
// introspection operations.
type Manager struct {
	queue     queue.Queue
	processor Processor
	logger    *slog.Logger

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewManager creates an empty pool manager.
func NewManager(q queue.Queue, processor Processor, logger *slog.Logger) *Manager {
	return &Manager{
		queue:     q,
		processor: processor,
		logger:    logger.With("component", "worker_manager"),
		pools:     make(map[string]*Pool),
	}
}

// StartPool creates and starts a pool for the given queue. A stopped
// pool may be replaced; starting over a live pool is an error.
func (m *Manager) StartPool(config PoolConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.pools[config.QueueName]; exists && !existing.Stopped() {
		return fmt.Errorf("pool for queue %q already exists", config.QueueName)
	}

	pool := NewPool(config, m.queue, m.processor, m.logger)
	if err := pool.Start(); err != nil {
		return err
	}
	m.pools[config.QueueName] = pool
	return nil
}

// pool looks up the pool for a queue.
func (m *Manager) pool(queueName string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[queueName]
	if !ok {
		return nil, fmt.Errorf("no pool for queue %q", queueName)
	}
	return pool, nil
}

// Stop shuts down the pool consuming the given queue and waits for its
// in-flight jobs to finish. The queue stays registered so its lack of
// workers is visible to health checks; StartPool brings it back.
func (m *Manager) Stop(queueName string) error {
	pool, err := m.pool(queueName)
	if err != nil {
		return err
	}
	pool.Stop()
	return nil
}

// Suspend parks the pool consuming the given queue.
func (m *Manager) Suspend(queueName string) error {
	pool, err := m.pool(queueName)
	if err != nil {
		return err
	}
	pool.Suspend()
	return nil
}

// Resume wakes the pool consuming the given queue.
func (m *Manager) Resume(queueName string) error {
	pool, err := m.pool(queueName)
	if err != nil {
		return err
	}
	pool.Resume()
	return nil
}

// Suspended reports whether the given queue's pool is parked.
func (m *Manager) Suspended(queueName string) (bool, error) {
	pool, err := m.pool(queueName)
	if err != nil {
		return false, err
	}
	return pool.Suspended(), nil
}

// QueueNames returns the queues that have pools, sorted.
func (m *Manager) QueueNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListWorkers returns a snapshot of every worker across all pools,
// grouped by queue in sorted order.
func (m *Manager) ListWorkers() []WorkerInfo {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pools = append(pools, m.pools[name])
	}
	m.mu.Unlock()

	var infos []WorkerInfo
	for _, pool := range pools {
		infos = append(infos, pool.Workers()...)
	}
	return infos
}

// StopAll stops every pool and waits for in-flight jobs to finish.
func (m *Manager) StopAll() {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, pool := range m.pools {
		pools = append(pools, pool)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, pool := range pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			p.Stop()
		}(pool)
	}
	wg.Wait()

	m.logger.Info("all worker pools stopped", "pool_count", len(pools))
}
