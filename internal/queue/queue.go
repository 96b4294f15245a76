// Package queue defines the durable work-queue abstraction the worker
// pool dequeues jobs from, and an in-memory implementation. The Redis
// implementation lives in platform/redisqueue.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hoardline/taskcore/internal/domain"
)

// Common errors returned by queue implementations.
var (
	// ErrNoJob is returned by Dequeue when the blocking timeout elapses
	// with nothing to deliver.
	ErrNoJob = errors.New("no job available")

	// ErrQueueClosed is returned when the queue has been shut down.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueFull is returned by Enqueue when the queue cannot accept
	// another job.
	ErrQueueFull = errors.New("queue is full")
)

// Job is the queued representation of "execute this task item".
type Job struct {
	// ID is the queue system's job identifier, assigned at enqueue and
	// recorded on the item as its job handle.
	ID string `json:"id"`

	// TaskID identifies the parent task.
	TaskID uuid.UUID `json:"task_id"`

	// TaskItemID identifies the task item row this job executes.
	TaskItemID uuid.UUID `json:"task_item_id"`

	// ItemID is the domain object the handler operates on.
	ItemID string `json:"item_id"`

	// ItemType is the domain object's type.
	ItemType string `json:"item_type"`

	// Kind selects the handler the job is dispatched to.
	Kind domain.TaskKind `json:"kind"`

	// Queue names the queue the job was enqueued on.
	Queue string `json:"queue"`

	// Attempt is the delivery attempt, starting at 0 and incremented on
	// each retry enqueue.
	Attempt int `json:"attempt"`

	// EnqueuedAt is when the job was (re-)enqueued.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a named, durable FIFO work queue with delayed-delivery support.
// A dequeued job is delivered to exactly one worker; at-least-once
// delivery across crashes is the broker's responsibility.
type Queue interface {
	// Enqueue makes the job immediately available on its queue and
	// returns the assigned job handle.
	Enqueue(ctx context.Context, job *Job) (string, error)

	// EnqueueIn makes the job available after the given delay. A zero or
	// negative delay behaves like Enqueue.
	EnqueueIn(ctx context.Context, job *Job, delay time.Duration) (string, error)

	// Dequeue blocks up to timeout for the next job on the named queue.
	// Returns ErrNoJob when the timeout elapses, or the context's error
	// when it is cancelled.
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error)

	// Depth returns the number of jobs ready or scheduled on the queue.
	Depth(ctx context.Context, queueName string) (int64, error)

	// Ping verifies the broker is reachable.
	Ping(ctx context.Context) error

	// Close releases broker resources. Pending jobs stay with the broker.
	Close() error
}
