package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/plumehq/plume-jobs/internal/api"
	"github.com/plumehq/plume-jobs/internal/auth"
	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/dispatch"
	"github.com/plumehq/plume-jobs/internal/enrich"
	"github.com/plumehq/plume-jobs/internal/events"
	"github.com/plumehq/plume-jobs/internal/health"
	"github.com/plumehq/plume-jobs/internal/lifecycle"
	"github.com/plumehq/plume-jobs/internal/platform/memory"
	"github.com/plumehq/plume-jobs/internal/platform/postgres"
	"github.com/plumehq/plume-jobs/internal/platform/redis"
	"github.com/plumehq/plume-jobs/internal/ratelimit"
	"github.com/plumehq/plume-jobs/internal/service"
	"github.com/plumehq/plume-jobs/internal/store"
	"github.com/plumehq/plume-jobs/internal/task"
)

// eventBufferSize is the per-subscriber buffer on the in-process broker.
// Slow SSE consumers lose the oldest events past this and reconcile by
// re-reading the job.
const eventBufferSize = 64

// rateLimitStateTTL is how long idle token bucket state survives in Redis.
const rateLimitStateTTL = time.Hour

// application holds the assembled server dependencies. Construction is
// all-or-nothing: any failure tears down what was already started.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB // nil when the memory driver is selected
	router http.Handler

	// cleanups run in reverse order during shutdown.
	cleanups []func()
}

// newApplication wires the full dependency graph from configuration:
// stores, event transport, lifecycle manager, dispatcher, sweeps, the job
// service, and the HTTP router.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	jobs, logs, err := app.setupStores(cfg, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	broker := events.NewBroker(eventBufferSize, logger)
	publisher, redisClient, err := app.setupEventTransport(ctx, cfg, broker, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	manager := lifecycle.NewManager(jobs, logs, publisher, logger)
	dispatcher := dispatch.NewDispatcher(jobs, manager, cfg.Engine.ClaimBatchSize, logger)
	monitor := health.NewMonitor(jobs, manager, nil, cfg.Engine, logger)

	// The server validates submissions for every type the deployment's
	// workers can run; handlers themselves live in the worker binary.
	accepted := task.NewTypeSet(task.TypeEcho, enrich.TypeContentEnrich)

	jobService, err := service.NewJobService(jobs, logs, manager, accepted, cfg.Engine, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to build job service: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to build token service: %w", err)
	}

	app.router = api.NewRouter(api.RouterConfig{
		JobService: jobService,
		Source:     dispatcher,
		Lifecycle:  manager,
		Sweeps:     monitor,
		Broker:     broker,
		Tokens:     tokens,
		Limiter:    app.selectLimiter(cfg, redisClient),
		Logger:     logger,
	})
	return app, nil
}

// setupStores selects the job store backend from the configured driver.
func (app *application) setupStores(cfg *config.Config, logger *slog.Logger) (store.JobStore, store.JobLogStore, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.Open(cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		app.db = db
		app.onCleanup(func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close database", slog.String("error", err.Error()))
			}
		})
		return postgres.NewJobStore(db, logger), postgres.NewJobLogStore(db, logger), nil
	case "memory":
		logger.Warn("Using the in-memory job store; jobs do not survive a restart")
		st := memory.NewStore(logger)
		return st, st, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// setupEventTransport picks where lifecycle transitions publish. With Redis
// enabled the subscriber republishes every Redis event into the local
// broker, so transitions publish to Redis alone; publishing to both would
// deliver each event twice.
func (app *application) setupEventTransport(
	ctx context.Context,
	cfg *config.Config,
	broker *events.Broker,
	logger *slog.Logger,
) (events.Publisher, *goredis.Client, error) {
	if !cfg.Redis.Enabled {
		return broker, nil, nil
	}

	client := redis.NewClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	app.onCleanup(func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close redis client", slog.String("error", err.Error()))
		}
	})

	subscriber := redis.NewSubscriber(client, broker, logger)
	stop, err := subscriber.Start(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start redis event subscriber: %w", err)
	}
	app.onCleanup(stop)

	logger.Info("Redis event transport enabled", slog.String("addr", cfg.Redis.Addr))
	return redis.NewPublisher(client, logger), client, nil
}

// selectLimiter returns the producer rate limiter, or nil when throttling
// is disabled. Redis-backed buckets are shared across instances; the local
// fallback throttles each instance independently.
func (app *application) selectLimiter(cfg *config.Config, redisClient *goredis.Client) ratelimit.Limiter {
	if cfg.Server.RateLimitCapacity <= 0 {
		return nil
	}
	if redisClient != nil {
		return ratelimit.NewTokenBucket(
			redisClient,
			cfg.Server.RateLimitCapacity,
			cfg.Server.RateLimitRefillPerSec,
			rateLimitStateTTL,
		)
	}
	return ratelimit.NewLocalLimiter(cfg.Server.RateLimitCapacity, cfg.Server.RateLimitRefillPerSec)
}

// Run starts the HTTP server and blocks until shutdown completes.
func (app *application) Run(ctx context.Context) error {
	return app.startHTTPServer(ctx, app.router)
}

func (app *application) onCleanup(fn func()) {
	app.cleanups = append(app.cleanups, fn)
}

// cleanup releases resources in reverse acquisition order.
func (app *application) cleanup() {
	for i := len(app.cleanups) - 1; i >= 0; i-- {
		app.cleanups[i]()
	}
	app.cleanups = nil
}
