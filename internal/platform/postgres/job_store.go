package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
	"github.com/plumehq/plume-jobs/internal/store"
)

// jobColumns is the canonical column list for scanJob. Keep the order in
// sync with the Scan call.
const jobColumns = `id, owner_id, job_type, priority, params, status,
	progress_percent, progress_message, result, error_code, error_message,
	retry_count, max_retries, worker_id, created_at, scheduled_for,
	started_at, completed_at, expires_at, updated_at`

// activeStatuses is the SQL predicate for jobs that count against the
// per-owner ceiling and participate in dedup matching.
const activeStatuses = `('pending', 'processing')`

// terminalStatuses is the SQL predicate for jobs eligible for retention
// purging.
const terminalStatuses = `('completed', 'failed', 'cancelled')`

// JobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type JobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewJobStore creates a new PostgreSQL implementation of the JobStore
// interface. It accepts a database connection or transaction that should be
// initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewJobStore(db store.DBTX, logger *slog.Logger) *JobStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &JobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure JobStore implements store.JobStore interface
var _ store.JobStore = (*JobStore)(nil)

// rowScanner abstracts *sql.Row and *sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob maps a row in jobColumns order onto a domain.Job.
func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	var params, result []byte
	var workerID sql.NullString
	var startedAt, completedAt, expiresAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.JobType,
		&job.Priority,
		&params,
		&status,
		&job.ProgressPercent,
		&job.ProgressMessage,
		&result,
		&job.ErrorCode,
		&job.ErrorMessage,
		&job.RetryCount,
		&job.MaxRetries,
		&workerID,
		&job.CreatedAt,
		&job.ScheduledFor,
		&startedAt,
		&completedAt,
		&expiresAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.Params = json.RawMessage(params)
	if result != nil {
		job.Result = json.RawMessage(result)
	}
	if workerID.Valid {
		job.WorkerID = &workerID.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		job.ExpiresAt = &t
	}
	return &job, nil
}

// insertArgs returns the job's fields in jobColumns order for INSERT
// statements.
func insertArgs(job *domain.Job) []interface{} {
	var result []byte
	if job.Result != nil {
		result = []byte(job.Result)
	}
	return []interface{}{
		job.ID,
		job.OwnerID,
		job.JobType,
		job.Priority,
		[]byte(job.Params),
		string(job.Status),
		job.ProgressPercent,
		job.ProgressMessage,
		result,
		job.ErrorCode,
		job.ErrorMessage,
		job.RetryCount,
		job.MaxRetries,
		job.WorkerID,
		job.CreatedAt,
		job.ScheduledFor,
		job.StartedAt,
		job.CompletedAt,
		job.ExpiresAt,
		job.UpdatedAt,
	}
}

// Create implements store.JobStore.Create
// It saves a new job to the database, handling domain validation.
// Returns validation errors from the domain Job if data is invalid.
// Returns store.ErrDuplicate if a job with the same ID already exists.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := s.db.ExecContext(ctx, query, insertArgs(job)...)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("duplicate job ID during create",
				slog.String("job_id", job.ID.String()))
			return fmt.Errorf("%w: job with ID %s already exists",
				store.ErrDuplicate, job.ID)
		}

		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()),
			slog.String("owner_id", job.OwnerID.String()))
		return MapError(err)
	}

	log.Info("job created",
		slog.String("job_id", job.ID.String()),
		slog.String("owner_id", job.OwnerID.String()),
		slog.String("job_type", job.JobType))
	return nil
}

// CreateWithLimit implements store.JobStore.CreateWithLimit
// The active-job count and the insert run as a single statement so the
// ceiling cannot be overshot by interleaved creates.
func (s *JobStore) CreateWithLimit(ctx context.Context, job *domain.Job, ceiling int) error {
	if ceiling <= 0 {
		return s.Create(ctx, job)
	}

	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		WHERE (
			SELECT COUNT(*) FROM jobs
			WHERE owner_id = $2 AND status IN ` + activeStatuses + `
		) < $21
	`
	args := append(insertArgs(job), ceiling)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: job with ID %s already exists",
				store.ErrDuplicate, job.ID)
		}
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()),
			slog.String("owner_id", job.OwnerID.String()))
		return MapError(err)
	}

	applied, err := rowsApplied(result)
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return err
	}
	if !applied {
		log.Warn("owner active job ceiling reached",
			slog.String("owner_id", job.OwnerID.String()),
			slog.Int("ceiling", ceiling))
		return fmt.Errorf("%w: owner %s has %d or more active jobs",
			store.ErrOwnerJobLimit, job.OwnerID, ceiling)
	}

	log.Info("job created",
		slog.String("job_id", job.ID.String()),
		slog.String("owner_id", job.OwnerID.String()),
		slog.String("job_type", job.JobType))
	return nil
}

// FindOrCreate implements store.JobStore.FindOrCreate
// JSONB equality gives structural params matching, so key order and
// whitespace differences still deduplicate.
func (s *JobStore) FindOrCreate(
	ctx context.Context,
	job *domain.Job,
	window time.Duration,
	ceiling int,
) (*domain.Job, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during find-or-create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return nil, false, err
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1
		  AND job_type = $2
		  AND params = $3::jsonb
		  AND status IN ` + activeStatuses + `
		  AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1
	`
	windowStart := job.CreatedAt.Add(-window)

	existing, err := scanJob(s.db.QueryRowContext(
		ctx, query, job.OwnerID, job.JobType, []byte(job.Params), windowStart,
	))
	if err == nil {
		log.Debug("deduplicated job creation",
			slog.String("job_id", existing.ID.String()),
			slog.String("owner_id", job.OwnerID.String()),
			slog.String("job_type", job.JobType))
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Error("failed to query for duplicate job",
			slog.String("error", err.Error()),
			slog.String("owner_id", job.OwnerID.String()))
		return nil, false, MapError(err)
	}

	if err := s.CreateWithLimit(ctx, job, ceiling); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// GetByID implements store.JobStore.GetByID
// Returns store.ErrJobNotFound if the job does not exist.
func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE id = $1
	`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("job not found", slog.String("job_id", id.String()))
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to get job by ID",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return nil, MapError(err)
	}

	return job, nil
}

// List implements store.JobStore.List
// Returns an empty slice if no jobs match the criteria.
func (s *JobStore) List(ctx context.Context, ownerID uuid.UUID, filter store.JobFilter) ([]*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	conditions := []string{"owner_id = $1"}
	args := []interface{}{ownerID}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.JobType != "" {
		args = append(args, filter.JobType)
		conditions = append(conditions, fmt.Sprintf("job_type = $%d", len(args)))
	}

	var orderBy string
	switch filter.Sort {
	case store.SortCreatedAtAsc:
		orderBy = "created_at ASC, id ASC"
	case store.SortPriority:
		orderBy = "priority ASC, created_at ASC, id ASC"
	default:
		orderBy = "created_at DESC, id ASC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	if limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM jobs
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, jobColumns, strings.Join(conditions, " AND "), orderBy, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to list jobs",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	return collectJobs(rows)
}

// Count implements store.JobStore.Count
// It applies the filter's status and job type conditions but ignores
// pagination, so it pairs with List for paged totals.
func (s *JobStore) Count(ctx context.Context, ownerID uuid.UUID, filter store.JobFilter) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	conditions := []string{"owner_id = $1"}
	args := []interface{}{ownerID}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.JobType != "" {
		args = append(args, filter.JobType)
		conditions = append(conditions, fmt.Sprintf("job_type = $%d", len(args)))
	}

	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM jobs WHERE %s`,
		strings.Join(conditions, " AND "),
	)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		log.Error("failed to count jobs",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()))
		return 0, MapError(err)
	}
	return count, nil
}

// CountActiveByOwner implements store.JobStore.CountActiveByOwner
func (s *JobStore) CountActiveByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT COUNT(*)
		FROM jobs
		WHERE owner_id = $1 AND status IN ` + activeStatuses

	var count int
	if err := s.db.QueryRowContext(ctx, query, ownerID).Scan(&count); err != nil {
		log.Error("failed to count active jobs",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()))
		return 0, MapError(err)
	}
	return count, nil
}

// FindCompletedMatch implements store.JobStore.FindCompletedMatch
// Returns store.ErrJobNotFound when no completed job matches.
func (s *JobStore) FindCompletedMatch(
	ctx context.Context,
	ownerID uuid.UUID,
	jobType string,
	params json.RawMessage,
	since time.Time,
) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1
		  AND job_type = $2
		  AND params = $3::jsonb
		  AND status = 'completed'
		  AND completed_at >= $4
		ORDER BY completed_at DESC
		LIMIT 1
	`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, ownerID, jobType, []byte(params), since))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to find completed match",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()),
			slog.String("job_type", jobType))
		return nil, MapError(err)
	}
	return job, nil
}

// FindClaimable implements store.JobStore.FindClaimable
func (s *JobStore) FindClaimable(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending'
		  AND scheduled_for <= $1
		  AND (expires_at IS NULL OR expires_at > $1)
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT $2
	`
	return s.findJobs(ctx, "find claimable jobs", query, now, limit)
}

// FindRetryCandidates implements store.JobStore.FindRetryCandidates
func (s *JobStore) FindRetryCandidates(ctx context.Context, failedBefore time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'failed'
		  AND retry_count < max_retries
		  AND error_code <> $1
		  AND completed_at <= $2
		ORDER BY completed_at ASC, id ASC
		LIMIT $3
	`
	return s.findJobs(ctx, "find retry candidates", query,
		domain.ErrorCodeExpired, failedBefore, limit)
}

// FindExpiredPending implements store.JobStore.FindExpiredPending
func (s *JobStore) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	return s.findJobs(ctx, "find expired pending jobs", query, now, limit)
}

// FindStalled implements store.JobStore.FindStalled
func (s *JobStore) FindStalled(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'processing'
		  AND updated_at <= $1
		ORDER BY updated_at ASC, id ASC
		LIMIT $2
	`
	return s.findJobs(ctx, "find stalled jobs", query, cutoff, limit)
}

// findJobs runs a multi-row job query and collects the results.
func (s *JobStore) findJobs(ctx context.Context, operation, query string, args ...interface{}) ([]*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to "+operation, slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	return collectJobs(rows)
}

// collectJobs scans all rows into domain jobs, returning an empty slice
// rather than nil when there are no rows.
func collectJobs(rows *sql.Rows) ([]*domain.Job, error) {
	jobs := []*domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

// Claim implements store.JobStore.Claim
// The status guard in the WHERE clause makes the claim atomic: of any number
// of concurrent claimers, exactly one update matches the pending row.
func (s *JobStore) Claim(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'processing',
		    worker_id = $2,
		    started_at = $3,
		    progress_percent = 0,
		    progress_message = '',
		    updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`
	return s.transition(ctx, "claim job", query, id, workerID, now)
}

// UpdateProgress implements store.JobStore.UpdateProgress
// GREATEST keeps the stored percent monotonic under out-of-order reports.
func (s *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, percent int, message string, now time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET progress_percent = GREATEST(progress_percent, $2),
		    progress_message = $3,
		    updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`
	return s.transition(ctx, "update job progress", query, id, percent, message, now)
}

// Complete implements store.JobStore.Complete
func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage, now time.Time) (bool, error) {
	var resultArg []byte
	if result != nil {
		resultArg = []byte(result)
	}
	query := `
		UPDATE jobs
		SET status = 'completed',
		    result = $2,
		    progress_percent = 100,
		    worker_id = NULL,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`
	return s.transition(ctx, "complete job", query, id, resultArg, now)
}

// Fail implements store.JobStore.Fail
func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, errorCode, errorMessage string, now time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'failed',
		    error_code = $2,
		    error_message = $3,
		    worker_id = NULL,
		    completed_at = $4,
		    updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`
	return s.transition(ctx, "fail job", query, id, errorCode, errorMessage, now)
}

// Cancel implements store.JobStore.Cancel
func (s *JobStore) Cancel(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'cancelled',
		    worker_id = NULL,
		    completed_at = $2,
		    updated_at = $2
		WHERE id = $1 AND status IN ` + activeStatuses
	return s.transition(ctx, "cancel job", query, id, now)
}

// Expire implements store.JobStore.Expire
func (s *JobStore) Expire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'failed',
		    error_code = $2,
		    error_message = 'job expired before it was picked up',
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1
		  AND status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at <= $3
	`
	return s.transition(ctx, "expire job", query, id, domain.ErrorCodeExpired, now)
}

// RequeueForRetry implements store.JobStore.RequeueForRetry
func (s *JobStore) RequeueForRetry(ctx context.Context, id uuid.UUID, scheduledFor, now time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'pending',
		    retry_count = retry_count + 1,
		    error_code = '',
		    error_message = '',
		    worker_id = NULL,
		    started_at = NULL,
		    completed_at = NULL,
		    progress_percent = 0,
		    progress_message = '',
		    scheduled_for = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = 'failed'
		  AND retry_count < max_retries
		  AND error_code <> $4
	`
	return s.transition(ctx, "requeue job for retry", query,
		id, scheduledFor, now, domain.ErrorCodeExpired)
}

// RequeueStalled implements store.JobStore.RequeueStalled
func (s *JobStore) RequeueStalled(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'pending',
		    retry_count = retry_count + 1,
		    worker_id = NULL,
		    started_at = NULL,
		    progress_percent = 0,
		    progress_message = '',
		    scheduled_for = $2,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'processing'
		  AND retry_count < max_retries
	`
	return s.transition(ctx, "requeue stalled job", query, id, now)
}

// transition runs a guarded single-statement update and reports whether it
// matched a row.
func (s *JobStore) transition(ctx context.Context, operation, query string, id uuid.UUID, args ...interface{}) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	allArgs := append([]interface{}{id}, args...)
	result, err := s.db.ExecContext(ctx, query, allArgs...)
	if err != nil {
		log.Error("failed to "+operation,
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return false, MapError(err)
	}

	applied, err := rowsApplied(result)
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return false, err
	}
	if !applied {
		log.Debug("transition did not apply",
			slog.String("operation", operation),
			slog.String("job_id", id.String()))
	}
	return applied, nil
}

// PurgeTerminalBefore implements store.JobStore.PurgeTerminalBefore
// Log entries are removed by the ON DELETE CASCADE constraint on job_logs.
func (s *JobStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		DELETE FROM jobs
		WHERE status IN ` + terminalStatuses + `
		  AND completed_at IS NOT NULL
		  AND completed_at <= $1
	`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		log.Error("failed to purge terminal jobs",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()))
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if purged > 0 {
		log.Debug("purged terminal jobs", slog.Int64("count", purged))
	}
	return purged, nil
}
