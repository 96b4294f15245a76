package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryQueueBuffer is the per-queue channel capacity of the in-memory
// implementation.
const memoryQueueBuffer = 1024

// MemoryQueue is a process-local Queue implementation. It backs tests and
// single-process deployments; durability is limited to the process
// lifetime.
type MemoryQueue struct {
	mu        sync.Mutex
	queues    map[string]chan *Job
	scheduled map[string]int
	timers    map[*time.Timer]struct{}
	closed    bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues:    make(map[string]chan *Job),
		scheduled: make(map[string]int),
		timers:    make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) channel(name string) chan *Job {
	if ch, ok := q.queues[name]; ok {
		return ch
	}
	ch := make(chan *Job, memoryQueueBuffer)
	q.queues[name] = ch
	return ch
}

// Enqueue makes the job immediately available on its queue.
func (q *MemoryQueue) Enqueue(_ context.Context, job *Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	return q.push(job)
}

// push appends the job to its ready channel. Caller holds the lock.
func (q *MemoryQueue) push(job *Job) (string, error) {
	if job.ID == "" {
		job.ID = "mem:" + uuid.NewString()
	}
	job.EnqueuedAt = time.Now().UTC()
	select {
	case q.channel(job.Queue) <- job:
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// EnqueueIn makes the job available after the given delay.
func (q *MemoryQueue) EnqueueIn(ctx context.Context, job *Job, delay time.Duration) (string, error) {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	if job.ID == "" {
		job.ID = "mem:" + uuid.NewString()
	}
	q.scheduled[job.Queue]++

	// The fired timer unregisters itself so the set only tracks timers
	// that still need stopping on Close.
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		q.scheduled[job.Queue]--
		if q.closed {
			return
		}
		_, _ = q.push(job)
	})
	q.timers[timer] = struct{}{}

	return job.ID, nil
}

// Dequeue blocks up to timeout for the next job on the named queue.
func (q *MemoryQueue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	ch := q.channel(queueName)
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-ch:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrNoJob
	}
}

// Depth returns ready plus scheduled jobs on the queue.
func (q *MemoryQueue) Depth(_ context.Context, queueName string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := int64(q.scheduled[queueName])
	if ch, ok := q.queues[queueName]; ok {
		depth += int64(len(ch))
	}
	return depth, nil
}

// Ping reports broker reachability; the in-memory broker is reachable
// until closed.
func (q *MemoryQueue) Ping(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// Close shuts the queue down. Scheduled timers are stopped; undelivered
// jobs are dropped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
	return nil
}
