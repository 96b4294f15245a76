// Package health aggregates broker, database, queue, and worker state
// into a single report for the management API.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoardline/taskcore/internal/queue"
	"github.com/hoardline/taskcore/internal/store"
	"github.com/hoardline/taskcore/internal/worker"
)

// Status is the overall verdict of a health check.
type Status string

// Possible health statuses.
const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DatabasePinger reports database reachability. Satisfied by *sql.DB.
type DatabasePinger interface {
	PingContext(ctx context.Context) error
}

// QueueStats describes one queue's backlog and worker coverage.
type QueueStats struct {
	Name           string `json:"name"`
	Depth          int64  `json:"depth"`
	PendingItems   int    `json:"pending_items"`
	RunningItems   int    `json:"running_items"`
	FailedItems    int    `json:"failed_items"`
	LiveWorkers    int    `json:"live_workers"`
	Suspended      bool   `json:"suspended"`
	DepthThreshold int64  `json:"depth_threshold,omitempty"`
}

// Report is a point-in-time snapshot of the whole subsystem.
type Report struct {
	Status    Status              `json:"status"`
	CheckedAt time.Time           `json:"checked_at"`
	Broker    bool                `json:"broker_reachable"`
	Database  bool                `json:"database_reachable"`
	Queues    []QueueStats        `json:"queues"`
	Workers   []worker.WorkerInfo `json:"workers"`
}

// ReporterConfig holds per-queue alerting thresholds.
type ReporterConfig struct {
	// DepthThresholds marks a queue degraded when its depth exceeds the
	// threshold. Queues without an entry have no threshold.
	DepthThresholds map[string]int64
}

// Reporter builds health reports from the live components.
type Reporter struct {
	queue   queue.Queue
	store   store.TaskStore
	db      DatabasePinger
	manager *worker.Manager
	config  ReporterConfig
	logger  *slog.Logger
}

// NewReporter creates a Reporter.
func NewReporter(
	q queue.Queue,
	taskStore store.TaskStore,
	db DatabasePinger,
	manager *worker.Manager,
	config ReporterConfig,
	logger *slog.Logger,
) *Reporter {
	return &Reporter{
		queue:   q,
		store:   taskStore,
		db:      db,
		manager: manager,
		config:  config,
		logger:  logger.With("component", "health_reporter"),
	}
}

// Check produces a full report. An unreachable broker or database makes
// the subsystem unhealthy; a backlog over threshold, a suspended pool,
// or a queue with no live workers only degrades it.
func (r *Reporter) Check(ctx context.Context) Report {
	report := Report{
		Status:    StatusHealthy,
		CheckedAt: time.Now().UTC(),
		Broker:    true,
		Database:  true,
	}

	if err := r.queue.Ping(ctx); err != nil {
		r.logger.Error("broker unreachable", "error", err)
		report.Broker = false
		report.Status = StatusUnhealthy
	}

	if err := r.db.PingContext(ctx); err != nil {
		r.logger.Error("database unreachable", "error", err)
		report.Database = false
		report.Status = StatusUnhealthy
	}

	report.Workers = r.manager.ListWorkers()
	liveWorkers := make(map[string]int)
	for _, info := range report.Workers {
		if info.State != worker.WorkerStateStopped {
			liveWorkers[info.Queue]++
		}
	}

	degraded := false
	for _, name := range r.manager.QueueNames() {
		stats := QueueStats{
			Name:           name,
			LiveWorkers:    liveWorkers[name],
			DepthThreshold: r.config.DepthThresholds[name],
		}

		if report.Broker {
			depth, err := r.queue.Depth(ctx, name)
			if err != nil {
				r.logger.Error("failed to read queue depth", "queue", name, "error", err)
			} else {
				stats.Depth = depth
			}
		}

		if report.Database {
			counts, err := r.store.CountItemsForQueue(ctx, name)
			if err != nil {
				r.logger.Error("failed to count queue items", "queue", name, "error", err)
			} else {
				stats.PendingItems = counts.Pending
				stats.RunningItems = counts.Running
				stats.FailedItems = counts.Failed
			}
		}

		if suspended, err := r.manager.Suspended(name); err == nil && suspended {
			stats.Suspended = true
			degraded = true
		}
		if stats.DepthThreshold > 0 && stats.Depth > stats.DepthThreshold {
			degraded = true
		}
		if stats.LiveWorkers == 0 {
			degraded = true
		}

		report.Queues = append(report.Queues, stats)
	}

	if degraded && report.Status == StatusHealthy {
		report.Status = StatusDegraded
	}

	return report
}
