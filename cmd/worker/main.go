// Package main implements the Plume jobs worker binary. A pool of workers
// polls the shared job store for claimable work, executes the registered
// task handlers, and reports outcomes through the lifecycle manager.
// Deployments without an external scheduler can also let the worker drive
// the maintenance sweeps on a fixed cadence.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
)

func main() {
	cfg, appLogger, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize worker: %v", err)
	}

	ctx := context.Background()
	app, err := newWorkerApp(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to build worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		appLogger.Error("Worker exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("Worker configuration loaded",
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Bool("redis_enabled", cfg.Redis.Enabled),
		slog.Int("worker_count", cfg.Worker.Count),
		slog.Bool("sweeps_enabled", cfg.Worker.SweepsEnabled))

	return cfg, appLogger, nil
}
