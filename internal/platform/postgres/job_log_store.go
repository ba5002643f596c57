package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
	"github.com/plumehq/plume-jobs/internal/store"
)

// JobLogStore implements the store.JobLogStore interface
// using a PostgreSQL database as the storage backend.
type JobLogStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewJobLogStore creates a new PostgreSQL implementation of the JobLogStore
// interface. If logger is nil, a default logger will be used.
func NewJobLogStore(db store.DBTX, logger *slog.Logger) *JobLogStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &JobLogStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_log_store")),
	}
}

// Ensure JobLogStore implements store.JobLogStore interface
var _ store.JobLogStore = (*JobLogStore)(nil)

// Append implements store.JobLogStore.Append
// Returns store.ErrJobNotFound if the referenced job does not exist.
func (s *JobLogStore) Append(ctx context.Context, entry *domain.JobLogEntry) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := entry.Validate(); err != nil {
		log.Warn("log entry validation failed during append",
			slog.String("error", err.Error()),
			slog.String("job_id", entry.JobID.String()))
		return err
	}

	query := `
		INSERT INTO job_logs (id, job_id, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var metadata []byte
	if entry.Metadata != nil {
		metadata = []byte(entry.Metadata)
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.JobID,
		string(entry.Level),
		entry.Message,
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			log.Warn("log entry references missing job",
				slog.String("job_id", entry.JobID.String()))
			return fmt.Errorf("%w: %v", store.ErrJobNotFound, err)
		}
		log.Error("failed to append job log entry",
			slog.String("error", err.Error()),
			slog.String("job_id", entry.JobID.String()))
		return MapError(err)
	}

	return nil
}

// ListByJob implements store.JobLogStore.ListByJob
// Entries are returned in creation order alongside the total count so
// callers can paginate.
func (s *JobLogStore) ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]*domain.JobLogEntry, int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	if limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	countQuery := `SELECT COUNT(*) FROM job_logs WHERE job_id = $1`
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, jobID).Scan(&total); err != nil {
		log.Error("failed to count job log entries",
			slog.String("error", err.Error()),
			slog.String("job_id", jobID.String()))
		return nil, 0, MapError(err)
	}

	query := `
		SELECT id, job_id, level, message, metadata, created_at
		FROM job_logs
		WHERE job_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, jobID, limit, offset)
	if err != nil {
		log.Error("failed to list job log entries",
			slog.String("error", err.Error()),
			slog.String("job_id", jobID.String()))
		return nil, 0, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	entries := []*domain.JobLogEntry{}
	for rows.Next() {
		var entry domain.JobLogEntry
		var level string
		var metadata []byte

		err := rows.Scan(
			&entry.ID,
			&entry.JobID,
			&level,
			&entry.Message,
			&metadata,
			&entry.CreatedAt,
		)
		if err != nil {
			log.Error("failed to scan job log row",
				slog.String("error", err.Error()),
				slog.String("job_id", jobID.String()))
			return nil, 0, fmt.Errorf("failed to scan job log row: %w", err)
		}

		entry.Level = domain.LogLevel(level)
		if metadata != nil {
			entry.Metadata = json.RawMessage(metadata)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating job log rows",
			slog.String("error", err.Error()),
			slog.String("job_id", jobID.String()))
		return nil, 0, fmt.Errorf("error iterating job log rows: %w", err)
	}

	return entries, total, nil
}
