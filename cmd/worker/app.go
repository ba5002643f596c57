package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/dispatch"
	"github.com/plumehq/plume-jobs/internal/enrich"
	"github.com/plumehq/plume-jobs/internal/events"
	"github.com/plumehq/plume-jobs/internal/health"
	"github.com/plumehq/plume-jobs/internal/lifecycle"
	"github.com/plumehq/plume-jobs/internal/platform/gemini"
	"github.com/plumehq/plume-jobs/internal/platform/memory"
	"github.com/plumehq/plume-jobs/internal/platform/postgres"
	"github.com/plumehq/plume-jobs/internal/platform/redis"
	"github.com/plumehq/plume-jobs/internal/store"
	"github.com/plumehq/plume-jobs/internal/task"
	"github.com/plumehq/plume-jobs/internal/worker"
)

// eventBufferSize matches the server's broker buffer; in the worker the
// broker only absorbs events when no Redis transport is configured.
const eventBufferSize = 64

// workerApp holds the assembled worker runtime.
type workerApp struct {
	config  *config.Config
	logger  *slog.Logger
	pool    *worker.Pool
	cadence *health.Cadence // nil unless the sweep cadence is enabled

	// cleanups run in reverse order during shutdown.
	cleanups []func()
}

// newWorkerApp wires the worker dependency graph: store, event transport,
// lifecycle manager, dispatcher, the handler registry, and the pool.
func newWorkerApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*workerApp, error) {
	app := &workerApp{config: cfg, logger: logger}

	jobs, logs, err := app.setupStores(cfg, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	publisher, err := app.setupPublisher(ctx, cfg, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	manager := lifecycle.NewManager(jobs, logs, publisher, logger)
	dispatcher := dispatch.NewDispatcher(jobs, manager, cfg.Engine.ClaimBatchSize, logger)

	registry, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	app.pool = worker.NewPool(dispatcher, manager, jobs, registry, cfg.Worker, logger)

	if cfg.Worker.SweepsEnabled {
		monitor := health.NewMonitor(jobs, manager, nil, cfg.Engine, logger)
		app.cadence = health.NewCadence(monitor, cfg.Worker, logger)
	}
	return app, nil
}

// setupStores selects the job store backend from the configured driver.
func (app *workerApp) setupStores(cfg *config.Config, logger *slog.Logger) (store.JobStore, store.JobLogStore, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.Open(cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		app.onCleanup(func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close database", slog.String("error", err.Error()))
			}
		})
		return postgres.NewJobStore(db, logger), postgres.NewJobLogStore(db, logger), nil
	case "memory":
		// Process-local queue: only jobs created inside this process are
		// visible, so this driver is for development and tests.
		logger.Warn("Using the in-memory job store; this worker sees no external jobs")
		st := memory.NewStore(logger)
		return st, st, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// setupPublisher picks where lifecycle transitions publish. With Redis
// enabled the API instances' subscribers relay these events to their SSE
// streams; without it the events have no cross-process consumers and a
// subscriber-less broker absorbs them.
func (app *workerApp) setupPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if !cfg.Redis.Enabled {
		return events.NewBroker(eventBufferSize, logger), nil
	}

	client := redis.NewClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	app.onCleanup(func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close redis client", slog.String("error", err.Error()))
		}
	})

	logger.Info("Redis event transport enabled", slog.String("addr", cfg.Redis.Addr))
	return redis.NewPublisher(client, logger), nil
}

// buildRegistry registers the handlers this deployment runs. The content
// enrichment handler is only registered when an API key is configured.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*task.Registry, error) {
	registry := task.NewRegistry()
	registry.MustRegister(task.EchoHandler{})

	if cfg.LLM.GeminiAPIKey != "" {
		enricher, err := gemini.NewEnricher(ctx, logger, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to build content enricher: %w", err)
		}
		registry.MustRegister(enrich.NewHandler(enricher, logger))
	}
	return registry, nil
}

// Run starts the pool (and the sweep cadence when enabled) and blocks
// until a shutdown signal arrives or the context is cancelled.
func (app *workerApp) Run(ctx context.Context) error {
	if err := app.pool.Start(); err != nil {
		app.cleanup()
		return err
	}
	if app.cadence != nil {
		if err := app.cadence.Start(); err != nil {
			app.pool.Stop()
			app.cleanup()
			return err
		}
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	select {
	case <-shutdownCh:
		app.logger.Info("Shutting down worker...")
	case <-ctx.Done():
		app.logger.Info("Worker context canceled, shutting down...")
	}

	// Cadence first so no sweep requeues work while the pool drains.
	if app.cadence != nil {
		app.cadence.Stop()
	}
	app.pool.Stop()
	app.cleanup()

	app.logger.Info("Worker shutdown completed")
	return nil
}

func (app *workerApp) onCleanup(fn func()) {
	app.cleanups = append(app.cleanups, fn)
}

// cleanup releases resources in reverse acquisition order.
func (app *workerApp) cleanup() {
	for i := len(app.cleanups) - 1; i >= 0; i-- {
		app.cleanups[i]()
	}
	app.cleanups = nil
}
