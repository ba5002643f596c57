package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
)

// JobLogStore defines the interface for append-only job log persistence.
// Version: 1.0
type JobLogStore interface {
	// Append saves a new log entry for a job. Entries are immutable once
	// written. Returns ErrJobNotFound if the parent job does not exist.
	Append(ctx context.Context, entry *domain.JobLogEntry) error

	// ListByJob retrieves a page of a job's log entries in creation order
	// together with the total number of entries for the job.
	// Returns an empty slice and zero if the job has no entries.
	ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]*domain.JobLogEntry, int, error)
}
