package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Error codes the engine itself records on failed jobs. Task handlers supply
// their own codes for handler-level failures.
const (
	// ErrorCodeExpired marks a job that aged out while still pending.
	// It is terminal: the retry sweep never requeues an expired job.
	ErrorCodeExpired = "EXPIRED"

	// ErrorCodeStuck marks a job reclaimed from a stalled worker after its
	// retries were exhausted.
	ErrorCodeStuck = "STUCK"
)

// Defaults applied at creation when the caller does not specify a value.
const (
	// DefaultPriority is the scheduling priority assigned to new jobs.
	// Lower values are dispatched first.
	DefaultPriority = 100

	// DefaultMaxRetries bounds how many times a failed job is requeued.
	// A job therefore runs at most DefaultMaxRetries+1 times.
	DefaultMaxRetries = 3
)

// Job-specific validation errors. All of them wrap ErrValidation so
// callers can match the whole family with a single errors.Is check.
var (
	// ErrJobIDEmpty is returned when a job ID is empty or nil.
	ErrJobIDEmpty = fmt.Errorf("%w: job ID cannot be empty", ErrValidation)

	// ErrJobOwnerIDEmpty is returned when a job's owner ID is empty or nil.
	ErrJobOwnerIDEmpty = fmt.Errorf("%w: job owner ID cannot be empty", ErrValidation)

	// ErrJobTypeEmpty is returned when a job's type is empty.
	ErrJobTypeEmpty = fmt.Errorf("%w: job type cannot be empty", ErrValidation)

	// ErrJobParamsInvalid is returned when a job's params are not valid JSON.
	ErrJobParamsInvalid = fmt.Errorf("%w: job params must be valid JSON", ErrValidation)

	// ErrInvalidJobStatus is returned when a job status is not valid.
	ErrInvalidJobStatus = fmt.Errorf("%w: invalid job status", ErrValidation)

	// ErrInvalidProgress is returned when progress is outside 0-100.
	ErrInvalidProgress = fmt.Errorf("%w: job progress must be between 0 and 100", ErrValidation)

	// ErrNegativeMaxRetries is returned when max retries is negative.
	ErrNegativeMaxRetries = fmt.Errorf("%w: job max retries cannot be negative", ErrValidation)

	// ErrRetryCountExceedsMax is returned when retry count exceeds max retries.
	ErrRetryCountExceedsMax = fmt.Errorf("%w: job retry count cannot exceed max retries", ErrValidation)
)

// Job represents a single unit of asynchronous work submitted by an owner.
// Params and Result are stored as JSONB structures so each job type can
// carry its own shape; the engine never interprets them.
type Job struct {
	ID              uuid.UUID       `json:"id"`
	OwnerID         uuid.UUID       `json:"owner_id"`
	JobType         string          `json:"job_type"`
	Priority        int             `json:"priority"`
	Params          json.RawMessage `json:"params"`
	Status          JobStatus       `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	WorkerID        *string         `json:"worker_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ScheduledFor    time.Time       `json:"scheduled_for"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewJob creates a new pending Job for the given owner, type, and params.
// It generates a new UUID, applies default priority and retry bounds, and
// schedules the job for immediate pickup. Callers may adjust Priority,
// MaxRetries, ScheduledFor, and ExpiresAt before persisting, re-validating
// afterwards. Nil params are normalized to an empty JSON object.
// Returns an error if validation fails.
func NewJob(ownerID uuid.UUID, jobType string, params json.RawMessage) (*Job, error) {
	now := time.Now().UTC()
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	job := &Job{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		JobType:      jobType,
		Priority:     DefaultPriority,
		Params:       params,
		Status:       JobStatusPending,
		MaxRetries:   DefaultMaxRetries,
		CreatedAt:    now,
		ScheduledFor: now,
		UpdatedAt:    now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
// Returns an error if any field fails validation.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrJobIDEmpty
	}

	if j.OwnerID == uuid.Nil {
		return ErrJobOwnerIDEmpty
	}

	if j.JobType == "" {
		return ErrJobTypeEmpty
	}

	if !IsValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}

	if j.ProgressPercent < 0 || j.ProgressPercent > 100 {
		return ErrInvalidProgress
	}

	if j.MaxRetries < 0 {
		return ErrNegativeMaxRetries
	}

	if j.RetryCount > j.MaxRetries {
		return ErrRetryCountExceedsMax
	}

	// Params must always be a valid JSON document
	var js json.RawMessage
	if err := json.Unmarshal(j.Params, &js); err != nil {
		return ErrJobParamsInvalid
	}

	return nil
}

// IsTerminal reports whether the job's status is one of the terminal-shaped
// states. A failed job with retries remaining is still terminal-shaped until
// the retry sweep requeues it; use WillRetry to distinguish the two.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// WillRetry reports whether a failed job is still eligible for the retry
// sweep. Expired jobs never retry regardless of their retry count.
func (j *Job) WillRetry() bool {
	return j.Status == JobStatusFailed &&
		j.RetryCount < j.MaxRetries &&
		j.ErrorCode != ErrorCodeExpired
}

// HasExpired reports whether the job's expiry deadline has passed at the
// given instant. Jobs without a deadline never expire.
func (j *Job) HasExpired(now time.Time) bool {
	return j.ExpiresAt != nil && !j.ExpiresAt.After(now)
}

// IsValidJobStatus checks if the given status is a valid JobStatus.
func IsValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts a string into a JobStatus.
// Returns ErrInvalidJobStatus if the string is not a known status.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !IsValidJobStatus(status) {
		return "", ErrInvalidJobStatus
	}
	return status, nil
}
