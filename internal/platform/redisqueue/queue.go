// Package redisqueue implements the queue.Queue interface on Redis.
// Each named queue is a ready list consumed with BRPOP plus a scheduled
// sorted set scored by delivery time; a promoter goroutine moves due
// scheduled jobs onto the ready list.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hoardline/taskcore/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Config holds Redis broker settings.
type Config struct {
	// Addr is the Redis host:port.
	Addr string

	// Password authenticates against the broker; empty for none.
	Password string

	// DB selects the Redis logical database.
	DB int

	// KeyPrefix namespaces all queue keys. Defaults to "taskcore".
	KeyPrefix string

	// PromoteInterval is how often due scheduled jobs are promoted onto
	// the ready list. Defaults to one second.
	PromoteInterval time.Duration
}

// promoteScript atomically moves due members from the scheduled set onto
// the ready list. KEYS[1] = ready list, KEYS[2] = scheduled set,
// ARGV[1] = now (unix milli).
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 100)
for i, v in ipairs(due) do
	redis.call('LPUSH', KEYS[1], v)
	redis.call('ZREM', KEYS[2], v)
end
return #due
`)

// Queue is a Redis-backed implementation of queue.Queue.
type Queue struct {
	client     *redis.Client
	keyPrefix  string
	logger     *slog.Logger
	queueNames []string

	cancelPromoter context.CancelFunc
	wg             sync.WaitGroup
	closeOnce      sync.Once
}

// New connects to Redis and starts the scheduled-job promoter for the
// given queue names.
func New(cfg Config, queueNames []string, logger *slog.Logger) (*Queue, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "taskcore"
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	promoterCtx, cancelPromoter := context.WithCancel(context.Background())
	q := &Queue{
		client:         client,
		keyPrefix:      cfg.KeyPrefix,
		logger:         logger.With("component", "redis_queue"),
		queueNames:     queueNames,
		cancelPromoter: cancelPromoter,
	}

	q.wg.Add(1)
	go q.promoter(promoterCtx, cfg.PromoteInterval)

	return q, nil
}

func (q *Queue) readyKey(queueName string) string {
	return q.keyPrefix + ":queue:" + queueName
}

func (q *Queue) scheduledKey(queueName string) string {
	return q.keyPrefix + ":queue:" + queueName + ":scheduled"
}

// Enqueue pushes the job onto the ready list. Transient broker errors are
// retried with fibonacci backoff before the error is surfaced.
func (q *Queue) Enqueue(ctx context.Context, job *queue.Job) (string, error) {
	payload, err := q.marshalJob(job)
	if err != nil {
		return "", err
	}

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := q.client.LPush(ctx, q.readyKey(job.Queue), payload).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Debug("job enqueued",
		"job_id", job.ID,
		"queue", job.Queue,
		"task_id", job.TaskID,
		"attempt", job.Attempt)
	return job.ID, nil
}

// EnqueueIn schedules the job for delivery after the given delay.
func (q *Queue) EnqueueIn(ctx context.Context, job *queue.Job, delay time.Duration) (string, error) {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}

	payload, err := q.marshalJob(job)
	if err != nil {
		return "", err
	}

	deliverAt := time.Now().Add(delay)
	member := redis.Z{
		Score:  float64(deliverAt.UnixMilli()),
		Member: payload,
	}

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := q.client.ZAdd(ctx, q.scheduledKey(job.Queue), member).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to schedule job: %w", err)
	}

	q.logger.Debug("job scheduled",
		"job_id", job.ID,
		"queue", job.Queue,
		"deliver_at", deliverAt,
		"attempt", job.Attempt)
	return job.ID, nil
}

// marshalJob assigns a job handle and stamps the enqueue time before
// serializing.
func (q *Queue) marshalJob(job *queue.Job) ([]byte, error) {
	if job.ID == "" {
		job.ID = "redis:" + uuid.NewString()
	}
	job.EnqueuedAt = time.Now().UTC()

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return payload, nil
}

// Dequeue blocks up to timeout for the next job on the named queue.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error) {
	result, err := q.client.BRPop(ctx, timeout, q.readyKey(queueName)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, queue.ErrNoJob
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	// BRPOP returns [key, value].
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(result))
	}

	var job queue.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Depth returns ready plus scheduled jobs on the queue.
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	ready, err := q.client.LLen(ctx, q.readyKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	scheduled, err := q.client.ZCard(ctx, q.scheduledKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read scheduled depth: %w", err)
	}
	return ready + scheduled, nil
}

// Ping verifies the broker is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close stops the promoter and releases the client. Queued jobs stay in
// Redis.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.cancelPromoter()
		q.wg.Wait()
		err = q.client.Close()
	})
	return err
}

// promoter periodically moves due scheduled jobs onto their ready lists.
func (q *Queue) promoter(ctx context.Context, interval time.Duration) {
	defer q.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			for _, name := range q.queueNames {
				promoted, err := promoteScript.Run(ctx, q.client,
					[]string{q.readyKey(name), q.scheduledKey(name)}, now).Int()
				if err != nil && !errors.Is(err, context.Canceled) {
					q.logger.Error("failed to promote scheduled jobs",
						"queue", name,
						"error", err)
					continue
				}
				if promoted > 0 {
					q.logger.Debug("promoted scheduled jobs",
						"queue", name,
						"count", promoted)
				}
			}
		}
	}
}
