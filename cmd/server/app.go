package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hoardline/taskcore/internal/api"
	"github.com/hoardline/taskcore/internal/config"
	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/events"
	"github.com/hoardline/taskcore/internal/health"
	"github.com/hoardline/taskcore/internal/jobs"
	"github.com/hoardline/taskcore/internal/platform/postgres"
	"github.com/hoardline/taskcore/internal/platform/redisqueue"
	"github.com/hoardline/taskcore/internal/queue"
	"github.com/hoardline/taskcore/internal/store"
	"github.com/hoardline/taskcore/internal/task"
	"github.com/hoardline/taskcore/internal/worker"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config

	db    *sql.DB
	queue queue.Queue
	store store.TaskStore

	orchestrator *task.Orchestrator
	manager      *worker.Manager
	reaper       *task.Reaper

	server *http.Server
}

// newApplication wires every component together: database, broker,
// stores, handlers, worker pools, and the HTTP surface.
func newApplication(cfg *config.Config) (*application, error) {
	logger := slog.Default()

	db, err := openDatabase(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	queueNames := make([]string, 0, len(cfg.Queues))
	queueForKind := make(map[domain.TaskKind]string, len(cfg.Queues))
	for kindName, queueCfg := range cfg.Queues {
		kind := domain.TaskKind(kindName)
		if !domain.IsValidTaskKind(kind) {
			logger.Warn("ignoring queue config for unknown kind", "kind", kindName)
			continue
		}
		queueNames = append(queueNames, queueCfg.QueueName)
		queueForKind[kind] = queueCfg.QueueName
	}

	broker, err := redisqueue.New(redisqueue.Config{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	}, queueNames, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to queue broker: %w", err)
	}

	taskStore := postgres.NewTaskStore(db)

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(task.NewProgressAggregator(taskStore, logger))

	registry := task.NewRegistry()
	registry.Register(domain.TaskKindParsing, jobs.NewParsingHandler(newHTTPFetcher()))
	registry.Register(domain.TaskKindAI, jobs.NewAIHandler(tokenEnricher{}))
	registry.Register(domain.TaskKindExport, jobs.NewExportHandler(newWebhookExporter()))

	jobTimeouts := make(map[domain.TaskKind]time.Duration, len(queueForKind))
	depthThresholds := make(map[string]int64, len(queueForKind))
	retryPolicies := make(map[domain.TaskKind]domain.RetryPolicy, len(queueForKind))
	for kindName, queueCfg := range cfg.Queues {
		kind := domain.TaskKind(kindName)
		if !domain.IsValidTaskKind(kind) {
			continue
		}
		jobTimeouts[kind] = queueCfg.JobTimeout()
		depthThresholds[queueCfg.QueueName] = queueCfg.DepthThreshold
		retryPolicies[kind] = queueCfg.RetryPolicy()
	}

	retryEngine := task.NewRetryEngine(taskStore, broker, logger)
	executor := task.NewExecutor(taskStore, registry, retryEngine, emitter, task.ExecutorConfig{
		JobTimeouts: jobTimeouts,
	}, logger)

	orchestrator := task.NewOrchestrator(taskStore, broker, logger)
	manager := worker.NewManager(broker, executor, logger)
	reaper := task.NewReaper(taskStore, broker, task.ReaperConfig{
		StuckAge:      cfg.Reaper.StuckAge(),
		CheckInterval: cfg.Reaper.CheckInterval(),
	}, logger)

	reporter := health.NewReporter(broker, taskStore, db, manager, health.ReporterConfig{
		DepthThresholds: depthThresholds,
	}, logger)

	router := api.NewRouter(
		api.NewTaskHandler(orchestrator, queueForKind, retryPolicies),
		api.NewOpsHandler(reporter, manager),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &application{
		config:       cfg,
		db:           db,
		queue:        broker,
		store:        taskStore,
		orchestrator: orchestrator,
		manager:      manager,
		reaper:       reaper,
		server:       server,
	}, nil
}

// openDatabase connects to Postgres and verifies the connection.
func openDatabase(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// Run starts the worker pools, the recovery sweep, and the HTTP server,
// then blocks until the context is cancelled and shuts everything down
// in reverse order.
func (app *application) Run(ctx context.Context) error {
	for kindName, queueCfg := range app.config.Queues {
		if !domain.IsValidTaskKind(domain.TaskKind(kindName)) {
			continue
		}
		if err := app.manager.StartPool(worker.PoolConfig{
			QueueName:   queueCfg.QueueName,
			WorkerCount: queueCfg.WorkerCount,
		}); err != nil {
			return fmt.Errorf("starting pool for queue %q: %w", queueCfg.QueueName, err)
		}
	}

	app.reaper.Start()

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", app.server.Addr)
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		app.shutdown()
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		app.shutdown()
		return nil
	}
}

// shutdown stops accepting requests, drains the worker pools, and
// releases external resources.
func (app *application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	app.manager.StopAll()
	app.reaper.Stop()

	if err := app.queue.Close(); err != nil {
		slog.Error("closing queue broker failed", "error", err)
	}
	if err := app.db.Close(); err != nil {
		slog.Error("closing database failed", "error", err)
	}

	slog.Info("shutdown complete")
}
