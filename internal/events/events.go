package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
)

// TopicPrefix is the namespace for per-owner event topics. The full topic
// for an owner is TopicPrefix + the owner's UUID string.
const TopicPrefix = "jobs:events:"

// Topic returns the event topic for an owner.
func Topic(ownerID uuid.UUID) string {
	return TopicPrefix + ownerID.String()
}

// JobEvent is a snapshot of a job published after an applied transition.
// It carries enough state for consumers to render progress without a
// follow-up read; authoritative state always comes from the job itself.
type JobEvent struct {
	// JobID is the job the event describes
	JobID uuid.UUID `json:"job_id"`

	// OwnerID identifies the owner whose topic carries the event
	OwnerID uuid.UUID `json:"owner_id"`

	// JobType is the job's registered type
	JobType string `json:"job_type"`

	// Status is the job's lifecycle state after the transition
	Status domain.JobStatus `json:"status"`

	// ProgressPercent is the job's progress after the transition
	ProgressPercent int `json:"progress_percent"`

	// ProgressMessage is the job's human-readable progress text
	ProgressMessage string `json:"progress_message,omitempty"`

	// ErrorMessage carries the failure description for failed jobs
	ErrorMessage string `json:"error_message,omitempty"`

	// WillRetry reports whether a failed job will be retried
	WillRetry bool `json:"will_retry"`

	// UpdatedAt is the job's modification timestamp after the transition
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobEvent builds an event from a job's post-transition state.
func NewJobEvent(job *domain.Job) JobEvent {
	return JobEvent{
		JobID:           job.ID,
		OwnerID:         job.OwnerID,
		JobType:         job.JobType,
		Status:          job.Status,
		ProgressPercent: job.ProgressPercent,
		ProgressMessage: job.ProgressMessage,
		ErrorMessage:    job.ErrorMessage,
		WillRetry:       job.WillRetry(),
		UpdatedAt:       job.UpdatedAt,
	}
}

// Publisher defines an interface for components that deliver job events.
// Implementations must treat delivery as best-effort: callers log and drop
// publish errors rather than failing the transition that produced the event.
type Publisher interface {
	// Publish delivers the event to the owner's topic.
	Publish(ctx context.Context, event JobEvent) error
}

// MultiPublisher fans a publish out to several transports. All transports
// are attempted; the first error encountered is returned.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ctx context.Context, event JobEvent) error {
	var firstErr error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
