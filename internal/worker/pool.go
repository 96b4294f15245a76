// Package worker runs pools of goroutines that dequeue jobs from named
// queues and hand them to the executor. Each queue gets its own pool
// with an independent worker count and lifecycle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hoardline/taskcore/internal/queue"
)

// WorkerState describes what a worker goroutine is currently doing.
type WorkerState string

// Possible worker states.
const (
	WorkerStateIdle      WorkerState = "idle"
	WorkerStateBusy      WorkerState = "busy"
	WorkerStateSuspended WorkerState = "suspended"
	WorkerStateStopped   WorkerState = "stopped"
)

// WorkerInfo is a point-in-time snapshot of one worker.
type WorkerInfo struct {
	ID        string      `json:"id"`
	Queue     string      `json:"queue"`
	State     WorkerState `json:"state"`
	Processed uint64      `json:"processed"`
	Failed    uint64      `json:"failed"`
	StartedAt time.Time   `json:"started_at"`
	LastJobAt *time.Time  `json:"last_job_at,omitempty"`
}

// Processor executes one dequeued job. Satisfied by the task executor.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// PoolConfig holds configuration for one queue's worker pool.
type PoolConfig struct {
	// QueueName is the queue this pool consumes.
	QueueName string

	// WorkerCount determines how many concurrent workers dequeue from the
	// queue. If zero or negative, defaults to 1.
	WorkerCount int

	// DequeueTimeout bounds each blocking dequeue so workers notice
	// shutdown and suspension promptly. If zero, defaults to 2 seconds.
	DequeueTimeout time.Duration
}

// Pool manages the worker goroutines for a single queue. Workers run
// until Stop; Suspend parks them between jobs without losing queue
// positions, and Resume wakes them.
type Pool struct {
	config    PoolConfig
	queue     queue.Queue
	processor Processor
	logger    *slog.Logger

	// ctx gates dequeueing and the suspend wait; jobCtx is handed to the
	// processor and survives Stop so an in-flight job is never
	// interrupted, only drained via wg.
	ctx    context.Context
	jobCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	workers   []*workerSlot
	suspended bool
	resumeCh  chan struct{}
	started   bool
	stopped   bool
}

// workerSlot tracks one worker goroutine's observable state.
type workerSlot struct {
	mu        sync.Mutex
	id        string
	state     WorkerState
	processed uint64
	failed    uint64
	startedAt time.Time
	lastJobAt *time.Time
}

func (w *workerSlot) setState(state WorkerState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
}

func (w *workerSlot) recordJob(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now().UTC()
	w.lastJobAt = &now
	if failed {
		w.failed++
	} else {
		w.processed++
	}
}

func (w *workerSlot) snapshot(queueName string) WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerInfo{
		ID:        w.id,
		Queue:     queueName,
		State:     w.state,
		Processed: w.processed,
		Failed:    w.failed,
		StartedAt: w.startedAt,
		LastJobAt: w.lastJobAt,
	}
}

// NewPool creates a worker pool for one queue.
func NewPool(config PoolConfig, q queue.Queue, processor Processor, logger *slog.Logger) *Pool {
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"queue", config.QueueName,
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.DequeueTimeout <= 0 {
		config.DequeueTimeout = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:    config,
		queue:     q,
		processor: processor,
		logger:    logger.With("component", "worker_pool", "queue", config.QueueName),
		ctx:       ctx,
		jobCtx:    context.WithoutCancel(ctx),
		cancel:    cancel,
	}
}

// Start launches the worker goroutines. Starting an already-started pool
// is an error.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pool for queue %q already started", p.config.QueueName)
	}
	p.started = true

	for i := 0; i < p.config.WorkerCount; i++ {
		slot := &workerSlot{
			id:        fmt.Sprintf("%s-%d", p.config.QueueName, i),
			state:     WorkerStateIdle,
			startedAt: time.Now().UTC(),
		}
		p.workers = append(p.workers, slot)

		p.wg.Add(1)
		go p.run(slot)
	}

	p.logger.Info("worker pool started", "worker_count", p.config.WorkerCount)
	return nil
}

// Stop shuts the pool down and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.stopped = true
	for _, slot := range p.workers {
		slot.setState(WorkerStateStopped)
	}
	p.mu.Unlock()

	p.logger.Info("worker pool stopped")
}

// Stopped reports whether the pool has been shut down.
func (p *Pool) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Suspend parks all workers after their current job. Jobs stay in the
// queue until Resume.
func (p *Pool) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.suspended {
		return
	}
	p.suspended = true
	p.resumeCh = make(chan struct{})
	p.logger.Info("worker pool suspended")
}

// Resume wakes suspended workers.
func (p *Pool) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.suspended {
		return
	}
	p.suspended = false
	close(p.resumeCh)
	p.resumeCh = nil
	p.logger.Info("worker pool resumed")
}

// Suspended reports whether the pool is currently parked.
func (p *Pool) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}

// Workers returns a snapshot of every worker in the pool.
func (p *Pool) Workers() []WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]WorkerInfo, 0, len(p.workers))
	for _, slot := range p.workers {
		infos = append(infos, slot.snapshot(p.config.QueueName))
	}
	return infos
}

// suspendGate returns the channel workers wait on while suspended, or
// nil when the pool is running.
func (p *Pool) suspendGate() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.suspended {
		return nil
	}
	return p.resumeCh
}

// run is one worker's dequeue loop.
func (p *Pool) run(slot *workerSlot) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", slot.id)
	logger.Debug("starting worker")

	for {
		if gate := p.suspendGate(); gate != nil {
			slot.setState(WorkerStateSuspended)
			select {
			case <-p.ctx.Done():
				logger.Debug("stopping worker")
				return
			case <-gate:
			}
			slot.setState(WorkerStateIdle)
		}

		job, err := p.queue.Dequeue(p.ctx, p.config.QueueName, p.config.DequeueTimeout)
		if err != nil {
			switch {
			case p.ctx.Err() != nil:
				logger.Debug("stopping worker")
				return
			case errors.Is(err, queue.ErrNoJob):
				continue
			case errors.Is(err, queue.ErrQueueClosed):
				logger.Debug("queue closed, stopping worker")
				return
			default:
				logger.Error("dequeue failed", "error", err)
				// Brief pause so a broker outage does not spin the loop.
				select {
				case <-p.ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
		}

		slot.setState(WorkerStateBusy)
		if err := p.processor.Process(p.jobCtx, job); err != nil {
			logger.Error("job processing failed",
				"job_id", job.ID,
				"task_id", job.TaskID,
				"task_item_id", job.TaskItemID,
				"error", err)
			slot.recordJob(true)
		} else {
			slot.recordJob(false)
		}
		slot.setState(WorkerStateIdle)
	}
}
