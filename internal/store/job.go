package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
)

// Sort orders accepted by JobStore.List.
const (
	SortCreatedAtDesc = "created_at_desc"
	SortCreatedAtAsc  = "created_at_asc"
	SortPriority      = "priority"
)

// List pagination bounds applied by all JobStore implementations.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// JobFilter narrows a List query. Zero values mean "no filter".
type JobFilter struct {
	// Status restricts results to a single lifecycle state when non-nil.
	Status *domain.JobStatus

	// JobType restricts results to a single job type when non-empty.
	JobType string

	// Limit caps the number of returned jobs. Implementations apply a
	// default when zero and an upper bound when excessive.
	Limit int

	// Offset skips that many jobs for pagination.
	Offset int

	// Sort is one of the Sort* constants. Empty means SortCreatedAtDesc.
	Sort string
}

// JobStore defines the interface for job persistence and the conditional
// state transitions of the job lifecycle.
//
// Transition methods apply a guarded single-statement update: they return
// (true, nil) when the guard matched and the update was applied, and
// (false, nil) when no row matched the guard, whether because the job does
// not exist or because it is no longer in the expected source state.
// Callers re-read the job to distinguish the two; a mismatched transition
// is never an error.
// Version: 1.0
type JobStore interface {
	// Create saves a new job to the store.
	// It handles domain validation internally.
	// Returns validation errors from the domain Job if data is invalid.
	Create(ctx context.Context, job *domain.Job) error

	// CreateWithLimit saves a new job only if the owner currently has fewer
	// than ceiling active (pending or processing) jobs. The count and the
	// insert happen atomically. Returns ErrOwnerJobLimit when at or above
	// the ceiling. A ceiling <= 0 disables the check.
	CreateWithLimit(ctx context.Context, job *domain.Job, ceiling int) error

	// FindOrCreate deduplicates creation: if the owner already has a job of
	// the same type with structurally equal params that is pending or
	// processing and was created within the dedup window, that job is
	// returned with created=false and the candidate is discarded. Otherwise
	// the candidate is saved (subject to the same ceiling check as
	// CreateWithLimit) and returned with created=true.
	FindOrCreate(ctx context.Context, job *domain.Job, window time.Duration, ceiling int) (*domain.Job, bool, error)

	// GetByID retrieves a job by its unique ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// List retrieves the owner's jobs matching the filter.
	// Returns an empty slice if no jobs match the criteria.
	List(ctx context.Context, ownerID uuid.UUID, filter JobFilter) ([]*domain.Job, error)

	// Count returns how many of the owner's jobs match the filter's status
	// and job type, ignoring pagination. Pairs with List for paged totals.
	Count(ctx context.Context, ownerID uuid.UUID, filter JobFilter) (int, error)

	// CountActiveByOwner counts the owner's pending and processing jobs.
	CountActiveByOwner(ctx context.Context, ownerID uuid.UUID) (int, error)

	// FindCompletedMatch retrieves the most recently completed job of the
	// owner with the given type and structurally equal params whose
	// completion is at or after the since instant.
	// Returns ErrJobNotFound when there is no such job.
	FindCompletedMatch(ctx context.Context, ownerID uuid.UUID, jobType string, params json.RawMessage, since time.Time) (*domain.Job, error)

	// FindClaimable retrieves up to limit pending jobs that are due
	// (scheduled_for at or before now) and not past their expiry deadline,
	// ordered by priority, then creation time, then ID.
	FindClaimable(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	// FindRetryCandidates retrieves up to limit failed jobs with retries
	// remaining and a retriable error code whose failure happened at or
	// before the failedBefore cutoff. The caller applies the per-job
	// backoff interval before requeueing.
	FindRetryCandidates(ctx context.Context, failedBefore time.Time, limit int) ([]*domain.Job, error)

	// FindExpiredPending retrieves up to limit pending jobs whose expiry
	// deadline is at or before now.
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	// FindStalled retrieves up to limit processing jobs with no update
	// since the cutoff instant.
	FindStalled(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error)

	// Claim transitions a pending job to processing on behalf of workerID,
	// recording started_at and resetting progress. Exactly one concurrent
	// claimer wins; all others observe applied=false.
	Claim(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (bool, error)

	// UpdateProgress updates a processing job's progress. The stored
	// percent never regresses: the update keeps the maximum of the stored
	// and reported values. The progress message is always replaced.
	UpdateProgress(ctx context.Context, id uuid.UUID, percent int, message string, now time.Time) (bool, error)

	// Complete transitions a processing job to completed with its result,
	// setting progress to 100 and recording completed_at.
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage, now time.Time) (bool, error)

	// Fail transitions a processing job to failed with the given error
	// code and message, clearing the worker and recording completed_at.
	Fail(ctx context.Context, id uuid.UUID, errorCode, errorMessage string, now time.Time) (bool, error)

	// Cancel transitions a pending or processing job to cancelled,
	// clearing the worker and recording completed_at.
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// Expire transitions a pending job past its expiry deadline to failed
	// with the EXPIRED error code.
	Expire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// RequeueForRetry transitions a failed job with retries remaining and a
	// retriable error code back to pending: retry_count is incremented,
	// error and completion are cleared, and the job is scheduled for
	// scheduledFor.
	RequeueForRetry(ctx context.Context, id uuid.UUID, scheduledFor, now time.Time) (bool, error)

	// RequeueStalled transitions a processing job with retries remaining
	// back to pending, incrementing retry_count and clearing the worker.
	// Used by the stuck sweep after appending its log entry.
	RequeueStalled(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// PurgeTerminalBefore deletes terminal jobs whose completion is at or
	// before the cutoff, together with their log entries. Returns the
	// number of jobs deleted.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
