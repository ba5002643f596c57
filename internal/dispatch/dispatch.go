// Package dispatch hands due pending jobs to workers. It pairs a claimable
// query with the atomic claim transition so that concurrent workers polling
// the same queue never receive the same job.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
	"github.com/plumehq/plume-jobs/internal/store"
)

// DefaultBatchSize is how many claim candidates one NextJob call fetches.
// A small batch keeps the lost-race retry cheap without starving other
// workers polling the same queue.
const DefaultBatchSize = 10

// Claimer claims a pending job on behalf of a worker. Satisfied by
// lifecycle.Manager so every dispatch goes through the single writer.
type Claimer interface {
	Claim(ctx context.Context, id uuid.UUID, workerID string) (*domain.Job, bool, error)
}

// Dispatcher selects the next due job for a polling worker.
type Dispatcher struct {
	jobs    store.JobStore
	claimer Claimer
	batch   int
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher over the given store and claimer.
// A batchSize of zero or less selects DefaultBatchSize.
// Panics if the store or claimer is nil.
func NewDispatcher(jobs store.JobStore, claimer Claimer, batchSize int, logger *slog.Logger) *Dispatcher {
	if jobs == nil {
		panic("jobs store cannot be nil")
	}
	if claimer == nil {
		panic("claimer cannot be nil")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	// Use provided logger or create default
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		jobs:    jobs,
		claimer: claimer,
		batch:   batchSize,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

// NextJob returns the next job claimed for workerID, or nil when nothing is
// due. Candidates are ordered by priority, then age, then ID; the claim on
// each is atomic, so a candidate lost to a faster worker just moves the scan
// to the next one.
func (d *Dispatcher) NextJob(ctx context.Context, workerID string) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, d.logger)
	now := time.Now().UTC()

	candidates, err := d.jobs.FindClaimable(ctx, now, d.batch)
	if err != nil {
		return nil, fmt.Errorf("failed to find claimable jobs: %w", err)
	}

	for _, candidate := range candidates {
		job, applied, err := d.claimer.Claim(ctx, candidate.ID, workerID)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				// Purged between the query and the claim.
				continue
			}
			return nil, fmt.Errorf("failed to claim job %s: %w", candidate.ID, err)
		}
		if !applied {
			// Another worker won the claim; move on.
			continue
		}

		log.Debug("job dispatched",
			slog.String("job_id", job.ID.String()),
			slog.String("job_type", job.JobType),
			slog.String("worker_id", workerID))
		return job, nil
	}

	return nil, nil
}
