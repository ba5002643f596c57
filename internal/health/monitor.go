// Package health contains the background sweeps that keep the queue moving:
// requeueing retriable failures once their backoff has elapsed, expiring
// pending jobs past their deadline, reclaiming jobs from stalled workers,
// and purging terminal jobs past the retention window.
//
// Each sweep is a single idempotent pass, safe to run concurrently with
// itself and with the workers, driven either by the operational endpoints or
// by the worker binary's cadence loop.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/backoff"
	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
	"github.com/plumehq/plume-jobs/internal/store"
	"github.com/plumehq/plume-jobs/internal/telemetry"
)

// DefaultSweepBatchSize caps a sweep pass when the configuration does not.
const DefaultSweepBatchSize = 100

// Sweep names used in logs and telemetry labels.
const (
	sweepRetry     = "retry"
	sweepExpiry    = "expiry"
	sweepStuck     = "stuck"
	sweepRetention = "retention"
)

// Transitioner is the slice of the lifecycle manager the sweeps drive.
type Transitioner interface {
	Expire(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error)
	Fail(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (*domain.Job, bool, error)
	RequeueForRetry(ctx context.Context, id uuid.UUID, scheduledFor time.Time) (*domain.Job, bool, error)
	RequeueStalled(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error)
}

// Monitor runs the four sweeps against one job store.
type Monitor struct {
	jobs     store.JobStore
	manager  Transitioner
	strategy backoff.Strategy
	cfg      config.EngineConfig
	logger   *slog.Logger
}

// NewMonitor creates a monitor. A nil strategy selects the exponential
// backoff described by the engine configuration, with jitter when enabled.
// Panics if the store or manager is nil.
func NewMonitor(
	jobs store.JobStore,
	manager Transitioner,
	strategy backoff.Strategy,
	cfg config.EngineConfig,
	logger *slog.Logger,
) *Monitor {
	if jobs == nil {
		panic("jobs store cannot be nil")
	}
	if manager == nil {
		panic("manager cannot be nil")
	}
	if strategy == nil {
		if cfg.RetryBackoffJitter {
			strategy = backoff.NewExponentialWithJitter(cfg.RetryBackoffBase, cfg.RetryBackoffCap)
		} else {
			strategy = backoff.NewExponential(cfg.RetryBackoffBase, cfg.RetryBackoffCap)
		}
	}

	// Use provided logger or create default
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		jobs:     jobs,
		manager:  manager,
		strategy: strategy,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "health_monitor")),
	}
}

// RetrySweep requeues failed jobs whose backoff interval has elapsed.
// Candidates come back oldest failure first, so a full batch spends its
// budget on the jobs most likely to be eligible. Returns how many jobs were
// requeued.
func (m *Monitor) RetrySweep(ctx context.Context) (int, error) {
	log := logger.FromContextOrDefault(ctx, m.logger)
	now := time.Now().UTC()

	candidates, err := m.jobs.FindRetryCandidates(ctx, now, m.batchSize())
	if err != nil {
		return 0, fmt.Errorf("failed to find retry candidates: %w", err)
	}

	requeued := 0
	for _, job := range candidates {
		if job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) < m.strategy.Delay(job.RetryCount) {
			continue
		}

		_, applied, err := m.manager.RequeueForRetry(ctx, job.ID, now)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				continue
			}
			return requeued, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
		if applied {
			requeued++
			log.Debug("requeued failed job",
				slog.String("job_id", job.ID.String()),
				slog.Int("retry_count", job.RetryCount+1),
				slog.String("error_code", job.ErrorCode))
		}
	}

	m.finishSweep(log, sweepRetry, requeued)
	return requeued, nil
}

// ExpirySweep fails pending jobs whose expiry deadline has passed with the
// terminal EXPIRED code. Returns how many jobs were expired.
func (m *Monitor) ExpirySweep(ctx context.Context) (int, error) {
	log := logger.FromContextOrDefault(ctx, m.logger)
	now := time.Now().UTC()

	candidates, err := m.jobs.FindExpiredPending(ctx, now, m.batchSize())
	if err != nil {
		return 0, fmt.Errorf("failed to find expired jobs: %w", err)
	}

	expired := 0
	for _, job := range candidates {
		_, applied, err := m.manager.Expire(ctx, job.ID)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				continue
			}
			return expired, fmt.Errorf("failed to expire job %s: %w", job.ID, err)
		}
		if applied {
			expired++
			log.Debug("expired pending job",
				slog.String("job_id", job.ID.String()),
				slog.String("job_type", job.JobType))
		}
	}

	m.finishSweep(log, sweepExpiry, expired)
	return expired, nil
}

// StuckSweep reclaims processing jobs whose worker has not reported within
// the stuck timeout: back to pending when retries remain, otherwise failed
// with the terminal STUCK code. Returns how many jobs were reclaimed.
func (m *Monitor) StuckSweep(ctx context.Context) (int, error) {
	log := logger.FromContextOrDefault(ctx, m.logger)
	now := time.Now().UTC()
	cutoff := now.Add(-m.cfg.StuckTimeout)

	candidates, err := m.jobs.FindStalled(ctx, cutoff, m.batchSize())
	if err != nil {
		return 0, fmt.Errorf("failed to find stalled jobs: %w", err)
	}

	reclaimed := 0
	for _, job := range candidates {
		var applied bool
		var err error
		if job.RetryCount < job.MaxRetries {
			_, applied, err = m.manager.RequeueStalled(ctx, job.ID)
		} else {
			_, applied, err = m.manager.Fail(ctx, job.ID, domain.ErrorCodeStuck,
				"no progress within the stuck timeout and no retries remaining")
		}
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				continue
			}
			return reclaimed, fmt.Errorf("failed to reclaim job %s: %w", job.ID, err)
		}
		if applied {
			reclaimed++
			log.Warn("reclaimed stalled job",
				slog.String("job_id", job.ID.String()),
				slog.String("job_type", job.JobType),
				slog.Int("retry_count", job.RetryCount),
				slog.Int("max_retries", job.MaxRetries))
		}
	}

	m.finishSweep(log, sweepStuck, reclaimed)
	return reclaimed, nil
}

// RetentionSweep deletes terminal jobs past the retention window together
// with their log entries. Returns how many jobs were purged.
func (m *Monitor) RetentionSweep(ctx context.Context) (int, error) {
	log := logger.FromContextOrDefault(ctx, m.logger)
	cutoff := time.Now().UTC().Add(-m.cfg.RetentionWindow)

	purged, err := m.jobs.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal jobs: %w", err)
	}

	m.finishSweep(log, sweepRetention, int(purged))
	return int(purged), nil
}

func (m *Monitor) batchSize() int {
	if m.cfg.SweepBatchSize > 0 {
		return m.cfg.SweepBatchSize
	}
	return DefaultSweepBatchSize
}

func (m *Monitor) finishSweep(log *slog.Logger, sweep string, count int) {
	if count == 0 {
		return
	}
	telemetry.SweepProcessed.WithLabelValues(sweep).Add(float64(count))
	log.Info("sweep processed jobs",
		slog.String("sweep", sweep),
		slog.Int("count", count))
}
