package api

import (
	"encoding/json"
	"time"

	"github.com/plumehq/plume-jobs/internal/domain"
)

// CreateJobRequest is the request body for creating a job. Optional fields
// left unset take the engine defaults. Durations arrive in whole seconds so
// clients never deal with Go duration syntax.
type CreateJobRequest struct {
	JobType          string          `json:"job_type"                     validate:"required,max=100"`
	Params           json.RawMessage `json:"params,omitempty"`
	Priority         *int            `json:"priority,omitempty"`
	MaxRetries       *int            `json:"max_retries,omitempty"        validate:"omitempty,min=0"`
	ScheduledFor     *time.Time      `json:"scheduled_for,omitempty"`
	ExpiresInSeconds *int64          `json:"expires_in_seconds,omitempty" validate:"omitempty,min=1"`
}

// CachedResultRequest is the request body for a pure result-cache lookup.
// A zero max_age selects the configured cache TTL.
type CachedResultRequest struct {
	JobType       string          `json:"job_type"                  validate:"required,max=100"`
	Params        json.RawMessage `json:"params,omitempty"`
	MaxAgeSeconds int64           `json:"max_age_seconds,omitempty" validate:"omitempty,min=1"`
}

// ClaimRequest is the request body for claiming the next dispatchable job.
type ClaimRequest struct {
	WorkerID string `json:"worker_id" validate:"required,max=200"`
}

// ReportProgressRequest is the request body for a worker progress report.
type ReportProgressRequest struct {
	Percent int    `json:"percent"           validate:"min=0,max=100"`
	Message string `json:"message,omitempty" validate:"max=1000"`
}

// AppendLogRequest is the request body for appending a job log entry.
type AppendLogRequest struct {
	Level    string          `json:"level"              validate:"required,oneof=debug info warning error"`
	Message  string          `json:"message"            validate:"required,max=10000"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// CompleteJobRequest is the request body for recording a successful attempt.
type CompleteJobRequest struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// FailJobRequest is the request body for recording a failed attempt.
type FailJobRequest struct {
	ErrorCode    string `json:"error_code"    validate:"required,max=100"`
	ErrorMessage string `json:"error_message" validate:"required,max=10000"`
}

// JobResponse is the wire representation of a job.
type JobResponse struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	JobType         string          `json:"job_type"`
	Priority        int             `json:"priority"`
	Params          json.RawMessage `json:"params"`
	Status          string          `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	WillRetry       bool            `json:"will_retry"`
	WorkerID        *string         `json:"worker_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ScheduledFor    time.Time       `json:"scheduled_for"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// FindOrCreateJobResponse reports whether the request created a new job or
// coalesced onto an in-flight duplicate.
type FindOrCreateJobResponse struct {
	Created bool        `json:"created"`
	Job     JobResponse `json:"job"`
}

// ListJobsResponse is one page of the owner's jobs with the total match count.
type ListJobsResponse struct {
	Jobs       []JobResponse `json:"jobs"`
	TotalCount int           `json:"total_count"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
}

// TransitionResponse reports the outcome of a lifecycle transition request.
// Applied=false means the job was no longer in the expected state; the body
// carries its current state so the caller can see what happened instead.
type TransitionResponse struct {
	Applied bool        `json:"applied"`
	Job     JobResponse `json:"job"`
}

// JobLogEntryResponse is the wire representation of one job log entry.
type JobLogEntryResponse struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobLogsResponse is one page of a job's execution log with the total count.
type JobLogsResponse struct {
	Entries    []JobLogEntryResponse `json:"entries"`
	TotalCount int                   `json:"total_count"`
	Limit      int                   `json:"limit"`
	Offset     int                   `json:"offset"`
}

// SweepResponse reports how many jobs a sweep pass processed.
type SweepResponse struct {
	Count int `json:"count"`
}

// jobToResponse converts a domain.Job to a JobResponse.
func jobToResponse(job *domain.Job) JobResponse {
	return JobResponse{
		ID:              job.ID.String(),
		OwnerID:         job.OwnerID.String(),
		JobType:         job.JobType,
		Priority:        job.Priority,
		Params:          job.Params,
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		ProgressMessage: job.ProgressMessage,
		Result:          job.Result,
		ErrorCode:       job.ErrorCode,
		ErrorMessage:    job.ErrorMessage,
		RetryCount:      job.RetryCount,
		MaxRetries:      job.MaxRetries,
		WillRetry:       job.WillRetry(),
		WorkerID:        job.WorkerID,
		CreatedAt:       job.CreatedAt,
		ScheduledFor:    job.ScheduledFor,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		ExpiresAt:       job.ExpiresAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

// logEntryToResponse converts a domain.JobLogEntry to its wire form.
func logEntryToResponse(entry *domain.JobLogEntry) JobLogEntryResponse {
	return JobLogEntryResponse{
		ID:        entry.ID.String(),
		JobID:     entry.JobID.String(),
		Level:     string(entry.Level),
		Message:   entry.Message,
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt,
	}
}

// jobsToResponses converts a job slice, returning an empty slice rather than
// nil so list responses always serialize jobs as a JSON array.
func jobsToResponses(jobs []*domain.Job) []JobResponse {
	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobToResponse(job))
	}
	return responses
}

// logEntriesToResponses converts a log entry slice, never returning nil.
func logEntriesToResponses(entries []*domain.JobLogEntry) []JobLogEntryResponse {
	responses := make([]JobLogEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, logEntryToResponse(entry))
	}
	return responses
}
