// Package testdb bootstraps a postgres database for integration tests.
// Tests skip when DATABASE_URL is unset; otherwise the embedded schema
// migrations are applied once per process before a connection is handed
// out.
package testdb

import (
	"database/sql"
	"os"
	"sync"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/plumehq/plume-jobs/internal/platform/postgres/migrations"
)

var (
	migrateOnce sync.Once
	migrateErr  error
)

// Available reports whether a database is configured for integration tests.
func Available() bool {
	return os.Getenv("DATABASE_URL") != ""
}

// Open returns a migrated connection to the integration test database,
// skipping the test when DATABASE_URL is unset. The connection closes
// when the test finishes.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test - DATABASE_URL environment variable required")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err, "Failed to open database connection")
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Error closing database connection: %v", err)
		}
	})

	migrateOnce.Do(func() {
		goose.SetBaseFS(migrations.FS)
		if migrateErr = goose.SetDialect("postgres"); migrateErr != nil {
			return
		}
		migrateErr = goose.Up(db, migrations.Dir)
	})
	require.NoError(t, migrateErr, "Failed to migrate test database")

	return db
}

// WithTx runs fn inside a transaction that is rolled back afterwards, so
// tests never leave rows behind.
func WithTx(t *testing.T, fn func(tx *sql.Tx)) {
	t.Helper()

	db := Open(t)
	tx, err := db.Begin()
	require.NoError(t, err, "Failed to begin transaction")
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			t.Logf("Error rolling back transaction: %v", err)
		}
	}()

	fn(tx)
}
