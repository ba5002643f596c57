package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/platform/postgres"
	"github.com/plumehq/plume-jobs/internal/platform/postgres/migrations"
)

// slogGooseLogger adapts the goose logger interface to slog.
type slogGooseLogger struct{}

func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...))
}

// Fatalf logs at error level without exiting; the error surfaces through
// the goose call's return value so main handles the exit.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	slog.Error(fmt.Sprintf(format, v...))
}

// runMigrations executes a goose command against the embedded migrations.
// Supported commands: up, down, status, version.
func runMigrations(cfg *config.Config, logger *slog.Logger, command string) error {
	switch command {
	case "up", "down", "status", "version":
	default:
		return fmt.Errorf("unknown migration command %q (supported: up, down, status, version)", command)
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrations require the postgres driver, configured driver is %q", cfg.Database.Driver)
	}

	migrationLogger := logger.With(
		slog.String("component", "migrations"),
		slog.String("command", command))

	goose.SetLogger(&slogGooseLogger{})
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db, err := postgres.Open(cfg.Database, migrationLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			migrationLogger.Warn("Failed to close database", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	migrationLogger.Info("Starting migration operation")

	switch command {
	case "up":
		err = goose.Up(db, migrations.Dir)
	case "down":
		err = goose.Down(db, migrations.Dir)
	case "status":
		err = goose.Status(db, migrations.Dir)
	case "version":
		err = goose.Version(db, migrations.Dir)
	}
	if err != nil {
		return fmt.Errorf("goose %s failed: %w", command, err)
	}

	migrationLogger.Info("Migration operation completed",
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
