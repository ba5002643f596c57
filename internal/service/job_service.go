package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
	"github.com/plumehq/plume-jobs/internal/store"
	"github.com/plumehq/plume-jobs/internal/telemetry"
)

// JobRepository defines the slice of the job store the producer-facing
// service reads and writes. Transitions are not here: they belong to the
// lifecycle manager.
type JobRepository interface {
	// CreateWithLimit saves a new job unless the owner is at the active ceiling
	CreateWithLimit(ctx context.Context, job *domain.Job, ceiling int) error

	// FindOrCreate deduplicates creation against in-flight duplicates
	FindOrCreate(ctx context.Context, job *domain.Job, window time.Duration, ceiling int) (*domain.Job, bool, error)

	// GetByID retrieves a job by its unique ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// List retrieves the owner's jobs matching the filter
	List(ctx context.Context, ownerID uuid.UUID, filter store.JobFilter) ([]*domain.Job, error)

	// Count returns the filter's total match count for pagination
	Count(ctx context.Context, ownerID uuid.UUID, filter store.JobFilter) (int, error)

	// FindCompletedMatch retrieves the freshest matching completed job
	FindCompletedMatch(ctx context.Context, ownerID uuid.UUID, jobType string, params json.RawMessage, since time.Time) (*domain.Job, error)
}

// JobLogRepository defines the log-store slice the service reads.
type JobLogRepository interface {
	// ListByJob retrieves a page of a job's log entries with the total count
	ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]*domain.JobLogEntry, int, error)
}

// JobCanceller applies the cancel transition. Satisfied by
// lifecycle.Manager so cancellations publish events like every other
// transition.
type JobCanceller interface {
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error)
}

// TypeRegistry reports whether a job type has a registered handler.
// Unknown types are rejected at creation, never discovered at dispatch.
type TypeRegistry interface {
	Has(jobType string) bool
}

// CreateJobRequest carries the caller-supplied fields for a new job.
// Nil optional fields take the engine defaults.
type CreateJobRequest struct {
	// JobType selects the registered handler that will run the job
	JobType string

	// Params is the handler's opaque JSON input; nil means an empty object
	Params json.RawMessage

	// Priority orders dispatch; lower values run first
	Priority *int

	// MaxRetries bounds requeues after failures
	MaxRetries *int

	// ScheduledFor delays the job's first pickup
	ScheduledFor *time.Time

	// ExpiresIn overrides how long the job may wait before expiring
	ExpiresIn *time.Duration
}

// JobService provides the producer-facing job operations.
type JobService interface {
	// CreateJob creates a new pending job for the owner
	CreateJob(ctx context.Context, ownerID uuid.UUID, req CreateJobRequest) (*domain.Job, error)

	// FindOrCreateJob creates a job unless an in-flight duplicate exists,
	// in which case the duplicate is returned with created=false
	FindOrCreateJob(ctx context.Context, ownerID uuid.UUID, req CreateJobRequest) (*domain.Job, bool, error)

	// GetCachedResult returns the freshest completed job with the same type
	// and params, or ErrNoCachedResult when none completed within maxAge
	GetCachedResult(ctx context.Context, ownerID uuid.UUID, jobType string, params json.RawMessage, maxAge time.Duration) (*domain.Job, error)

	// GetJob retrieves one of the owner's jobs by ID
	GetJob(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, error)

	// ListJobs retrieves a page of the owner's jobs plus the total count
	ListJobs(ctx context.Context, ownerID uuid.UUID, filter store.JobFilter) ([]*domain.Job, int, error)

	// CancelJob cancels one of the owner's pending or processing jobs.
	// cancelled=false means the job had already finished.
	CancelJob(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, bool, error)

	// GetJobLogs retrieves a page of a job's execution log plus the total count
	GetJobLogs(ctx context.Context, ownerID, jobID uuid.UUID, limit, offset int) ([]*domain.JobLogEntry, int, error)
}

// Common sentinel errors for JobService
var (
	// ErrJobNotFound indicates the job does not exist or belongs to another
	// owner. The two cases are deliberately indistinguishable.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownJobType indicates the job type has no registered handler.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrRateLimited indicates the owner is at its active job ceiling.
	ErrRateLimited = errors.New("owner has reached its active job limit")

	// ErrNoCachedResult indicates no matching job completed recently enough.
	ErrNoCachedResult = errors.New("no cached result available")

	// ErrInvalidExpiry indicates a non-positive expires_in was supplied.
	ErrInvalidExpiry = errors.New("job expiry must be positive")
)

// JobServiceError is a structured error for job service operations.
type JobServiceError struct {
	// Operation is the operation that failed (e.g., "create_job", "cancel_job")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for JobServiceError.
func (e *JobServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("job service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *JobServiceError) Unwrap() error {
	return e.Err
}

// NewJobServiceError creates a new JobServiceError.
// It returns known sentinel errors directly without wrapping and maps
// store-level sentinels to their service-level counterparts.
func NewJobServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	// Service-defined sentinels pass through untouched
	for _, sentinel := range []error{
		ErrJobNotFound, ErrUnknownJobType, ErrRateLimited, ErrNoCachedResult, ErrInvalidExpiry,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	// Store-level sentinels map to service-level ones
	if errors.Is(err, store.ErrJobNotFound) {
		return ErrJobNotFound
	}
	if errors.Is(err, store.ErrOwnerJobLimit) {
		return ErrRateLimited
	}

	return &JobServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// jobServiceImpl implements the JobService interface
type jobServiceImpl struct {
	jobRepo   JobRepository
	logRepo   JobLogRepository
	canceller JobCanceller
	registry  TypeRegistry
	cfg       config.EngineConfig
	logger    *slog.Logger
}

// NewJobService creates a new JobService.
// It returns an error if any of the required dependencies are nil.
func NewJobService(
	jobRepo JobRepository,
	logRepo JobLogRepository,
	canceller JobCanceller,
	registry TypeRegistry,
	cfg config.EngineConfig,
	logger *slog.Logger,
) (JobService, error) {
	// Validate dependencies
	if jobRepo == nil {
		return nil, &JobServiceError{
			Operation: "create_service",
			Message:   "jobRepo cannot be nil",
		}
	}
	if logRepo == nil {
		return nil, &JobServiceError{
			Operation: "create_service",
			Message:   "logRepo cannot be nil",
		}
	}
	if canceller == nil {
		return nil, &JobServiceError{
			Operation: "create_service",
			Message:   "canceller cannot be nil",
		}
	}
	if registry == nil {
		return nil, &JobServiceError{
			Operation: "create_service",
			Message:   "registry cannot be nil",
		}
	}

	// Use provided logger or create default
	if logger == nil {
		logger = slog.Default()
	}

	return &jobServiceImpl{
		jobRepo:   jobRepo,
		logRepo:   logRepo,
		canceller: canceller,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.With("component", "job_service"),
	}, nil
}

// CreateJob creates a new pending job for the owner, applying engine
// defaults for every field the request leaves unset.
func (s *jobServiceImpl) CreateJob(
	ctx context.Context,
	ownerID uuid.UUID,
	req CreateJobRequest,
) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	job, err := s.buildJob(ownerID, req)
	if err != nil {
		log.Warn("rejected job creation",
			slog.String("owner_id", ownerID.String()),
			slog.String("job_type", req.JobType),
			slog.String("error", err.Error()))
		return nil, NewJobServiceError("create_job", "invalid job request", err)
	}

	if err := s.jobRepo.CreateWithLimit(ctx, job, s.cfg.OwnerActiveCeiling); err != nil {
		if errors.Is(err, store.ErrOwnerJobLimit) {
			log.Warn("owner at active job ceiling",
				slog.String("owner_id", ownerID.String()),
				slog.Int("ceiling", s.cfg.OwnerActiveCeiling))
			return nil, ErrRateLimited
		}
		log.Error("failed to save job",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()))
		return nil, NewJobServiceError("create_job", "failed to save job", err)
	}

	telemetry.JobsCreated.WithLabelValues(job.JobType).Inc()
	log.Info("job created",
		slog.String("job_id", job.ID.String()),
		slog.String("owner_id", ownerID.String()),
		slog.String("job_type", job.JobType))
	return job, nil
}

// FindOrCreateJob coalesces the request onto an in-flight duplicate when one
// exists inside the dedup window; otherwise it creates a new job.
func (s *jobServiceImpl) FindOrCreateJob(
	ctx context.Context,
	ownerID uuid.UUID,
	req CreateJobRequest,
) (*domain.Job, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	job, err := s.buildJob(ownerID, req)
	if err != nil {
		log.Warn("rejected job creation",
			slog.String("owner_id", ownerID.String()),
			slog.String("job_type", req.JobType),
			slog.String("error", err.Error()))
		return nil, false, NewJobServiceError("find_or_create_job", "invalid job request", err)
	}

	found, created, err := s.jobRepo.FindOrCreate(ctx, job, s.cfg.DedupWindow, s.cfg.OwnerActiveCeiling)
	if err != nil {
		if errors.Is(err, store.ErrOwnerJobLimit) {
			log.Warn("owner at active job ceiling",
				slog.String("owner_id", ownerID.String()),
				slog.Int("ceiling", s.cfg.OwnerActiveCeiling))
			return nil, false, ErrRateLimited
		}
		log.Error("failed to find or create job",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()))
		return nil, false, NewJobServiceError("find_or_create_job", "failed to find or create job", err)
	}

	if created {
		telemetry.JobsCreated.WithLabelValues(found.JobType).Inc()
		log.Info("job created",
			slog.String("job_id", found.ID.String()),
			slog.String("owner_id", ownerID.String()),
			slog.String("job_type", found.JobType))
	} else {
		telemetry.JobsDeduplicated.WithLabelValues(found.JobType).Inc()
		log.Debug("job creation deduplicated",
			slog.String("job_id", found.ID.String()),
			slog.String("owner_id", ownerID.String()),
			slog.String("job_type", found.JobType))
	}
	return found, created, nil
}

// GetCachedResult serves a prior result when a structurally identical job
// completed within maxAge. Zero maxAge selects the configured cache TTL.
// Failed, cancelled, and stale completions never match.
func (s *jobServiceImpl) GetCachedResult(
	ctx context.Context,
	ownerID uuid.UUID,
	jobType string,
	params json.RawMessage,
	maxAge time.Duration,
) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if maxAge <= 0 {
		maxAge = s.cfg.ResultCacheTTL
	}
	// Creation normalizes nil params to an empty object; match that here so
	// the lookup sees the same bytes creation stored.
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	since := time.Now().UTC().Add(-maxAge)

	job, err := s.jobRepo.FindCompletedMatch(ctx, ownerID, jobType, params, since)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil, ErrNoCachedResult
		}
		log.Error("failed to look up cached result",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()),
			slog.String("job_type", jobType))
		return nil, NewJobServiceError("get_cached_result", "failed to look up cached result", err)
	}

	telemetry.CacheHits.WithLabelValues(jobType).Inc()
	log.Debug("cached result served",
		slog.String("job_id", job.ID.String()),
		slog.String("owner_id", ownerID.String()),
		slog.String("job_type", jobType))
	return job, nil
}

// GetJob retrieves one of the owner's jobs by ID. A job belonging to a
// different owner is reported exactly like a missing one.
func (s *jobServiceImpl) GetJob(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	job, err := s.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			log.Error("failed to retrieve job",
				slog.String("error", err.Error()),
				slog.String("job_id", jobID.String()))
		}
		return nil, err
	}
	return job, nil
}

// ListJobs retrieves a page of the owner's jobs with the total match count.
func (s *jobServiceImpl) ListJobs(
	ctx context.Context,
	ownerID uuid.UUID,
	filter store.JobFilter,
) ([]*domain.Job, int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	jobs, err := s.jobRepo.List(ctx, ownerID, filter)
	if err != nil {
		log.Error("failed to list jobs",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()))
		return nil, 0, NewJobServiceError("list_jobs", "failed to list jobs", err)
	}

	total, err := s.jobRepo.Count(ctx, ownerID, filter)
	if err != nil {
		log.Error("failed to count jobs",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()))
		return nil, 0, NewJobServiceError("list_jobs", "failed to count jobs", err)
	}

	return jobs, total, nil
}

// CancelJob cancels one of the owner's jobs. cancelled=false with a nil
// error means the job had already reached a terminal state.
func (s *jobServiceImpl) CancelJob(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if _, err := s.ownedJob(ctx, ownerID, jobID); err != nil {
		return nil, false, err
	}

	job, cancelled, err := s.canceller.Cancel(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil, false, ErrJobNotFound
		}
		log.Error("failed to cancel job",
			slog.String("error", err.Error()),
			slog.String("job_id", jobID.String()))
		return nil, false, NewJobServiceError("cancel_job", "failed to cancel job", err)
	}

	if cancelled {
		log.Info("job cancelled",
			slog.String("job_id", jobID.String()),
			slog.String("owner_id", ownerID.String()))
	} else {
		log.Debug("cancel was a no-op",
			slog.String("job_id", jobID.String()),
			slog.String("status", string(job.Status)))
	}
	return job, cancelled, nil
}

// GetJobLogs retrieves a page of a job's execution log with the total count.
func (s *jobServiceImpl) GetJobLogs(
	ctx context.Context,
	ownerID, jobID uuid.UUID,
	limit, offset int,
) ([]*domain.JobLogEntry, int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if _, err := s.ownedJob(ctx, ownerID, jobID); err != nil {
		return nil, 0, err
	}

	entries, total, err := s.logRepo.ListByJob(ctx, jobID, limit, offset)
	if err != nil {
		log.Error("failed to list job logs",
			slog.String("error", err.Error()),
			slog.String("job_id", jobID.String()))
		return nil, 0, NewJobServiceError("get_job_logs", "failed to list job logs", err)
	}
	return entries, total, nil
}

// buildJob turns a request into a validated pending job with engine defaults.
func (s *jobServiceImpl) buildJob(ownerID uuid.UUID, req CreateJobRequest) (*domain.Job, error) {
	if !s.registry.Has(req.JobType) {
		return nil, ErrUnknownJobType
	}

	job, err := domain.NewJob(ownerID, req.JobType, req.Params)
	if err != nil {
		return nil, err
	}

	job.Priority = s.cfg.DefaultPriority
	if req.Priority != nil {
		job.Priority = *req.Priority
	}
	job.MaxRetries = s.cfg.DefaultMaxRetries
	if req.MaxRetries != nil {
		job.MaxRetries = *req.MaxRetries
	}
	if req.ScheduledFor != nil {
		job.ScheduledFor = req.ScheduledFor.UTC()
	}

	ttl := s.cfg.PendingTTL
	if req.ExpiresIn != nil {
		if *req.ExpiresIn <= 0 {
			return nil, ErrInvalidExpiry
		}
		ttl = *req.ExpiresIn
	}
	expires := job.CreatedAt.Add(ttl)
	job.ExpiresAt = &expires

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// ownedJob loads a job and enforces ownership, collapsing "missing" and
// "someone else's" into the same ErrJobNotFound.
func (s *jobServiceImpl) ownedJob(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, NewJobServiceError("get_job", "failed to retrieve job", err)
	}
	if job.OwnerID != ownerID {
		return nil, ErrJobNotFound
	}
	return job, nil
}
