// Package lifecycle applies job state transitions. Every mutation of a job
// goes through the Manager, which delegates the guarded update to the store,
// appends the execution-log entries that belong to the transition, publishes
// a JobEvent when the transition applied, and records telemetry.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/events"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
	"github.com/plumehq/plume-jobs/internal/store"
	"github.com/plumehq/plume-jobs/internal/telemetry"
)

// Operation names used in logs, telemetry labels, and wrapped errors.
const (
	opClaim          = "claim"
	opReportProgress = "report_progress"
	opComplete       = "complete"
	opFail           = "fail"
	opCancel         = "cancel"
	opExpire         = "expire"
	opRequeueRetry   = "requeue_for_retry"
	opRequeueStalled = "requeue_stalled"
)

// Manager is the single writer for job lifecycle state.
//
// Each method attempts one conditional transition and returns the job's state
// after the attempt together with whether the transition applied.
// applied=false with a nil error means the guard did not match because the
// job had already moved to another state; store.ErrJobNotFound means the job
// does not exist. A mismatched guard is never an error: callers inspect the
// returned job to decide what happened.
type Manager struct {
	jobs      store.JobStore
	logs      store.JobLogStore
	publisher events.Publisher
	logger    *slog.Logger
}

// NewManager creates a lifecycle manager backed by the given stores.
// Events are delivered best-effort through the publisher; pass an
// events.Broker (possibly inside a MultiPublisher) for in-process delivery.
// Panics if any store or the publisher is nil.
func NewManager(
	jobs store.JobStore,
	logs store.JobLogStore,
	publisher events.Publisher,
	logger *slog.Logger,
) *Manager {
	if jobs == nil {
		panic("jobs store cannot be nil")
	}
	if logs == nil {
		panic("logs store cannot be nil")
	}
	if publisher == nil {
		panic("publisher cannot be nil")
	}

	// Use provided logger or create default
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		jobs:      jobs,
		logs:      logs,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "lifecycle_manager")),
	}
}

// Claim transitions a pending job to processing on behalf of workerID.
// Exactly one concurrent claimer observes applied=true; everyone else gets
// the job's current state with applied=false.
func (m *Manager) Claim(ctx context.Context, id uuid.UUID, workerID string) (*domain.Job, bool, error) {
	job, applied, err := m.apply(ctx, opClaim, id, func(ctx context.Context, now time.Time) (bool, error) {
		return m.jobs.Claim(ctx, id, workerID, now)
	})
	if applied {
		telemetry.JobsInFlight.Inc()
	}
	return job, applied, err
}

// ReportProgress updates a processing job's progress. The stored percent
// never regresses; the message is always replaced. Returns
// domain.ErrInvalidProgress when percent is outside 0-100.
func (m *Manager) ReportProgress(ctx context.Context, id uuid.UUID, percent int, message string) (*domain.Job, bool, error) {
	if percent < 0 || percent > 100 {
		return nil, false, domain.ErrInvalidProgress
	}

	return m.apply(ctx, opReportProgress, id, func(ctx context.Context, now time.Time) (bool, error) {
		return m.jobs.UpdateProgress(ctx, id, percent, message, now)
	})
}

// Complete transitions a processing job to completed with its result.
// Completing a job that already left processing, for example after a
// cancellation, is an idempotent no-op.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) (*domain.Job, bool, error) {
	job, applied, err := m.apply(ctx, opComplete, id, func(ctx context.Context, now time.Time) (bool, error) {
		return m.jobs.Complete(ctx, id, result, now)
	})
	if applied {
		telemetry.JobsInFlight.Dec()
	}
	return job, applied, err
}

// Fail transitions a processing job to failed with the handler's error code
// and message. The failure is appended to the execution log before the state
// moves so a failed job never lacks the reason in its log. Whether the job
// will be retried is decided later by the retry sweep, never here.
func (m *Manager) Fail(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (*domain.Job, bool, error) {
	log := logger.FromContextOrDefault(ctx, m.logger)

	message := errorMessage
	if message == "" {
		message = "job failed"
	}
	if err := m.appendLog(ctx, id, domain.LogLevelError, message, errorCodeMetadata(errorCode)); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil, false, err
		}
		// The state change matters more than the log entry.
		log.Warn("failed to append failure log entry",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()))
	}

	job, applied, err := m.apply(ctx, opFail, id, func(ctx context.Context, now time.Time) (bool, error) {
		return m.jobs.Fail(ctx, id, errorCode, errorMessage, now)
	})
	if applied {
		telemetry.JobsInFlight.Dec()
	}
	return job, applied, err
}

// Cancel transitions a pending or processing job to cancelled. The worker
// holding a cancelled job learns of it through its cancellation poll; its
// late Complete or Fail then lands as a no-op.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error) {
	job, applied, err := m.apply(ctx, opCancel, id, func(ctx context.Context, now time.Time) (bool, error) {
		return m.jobs.Cancel(ctx, id, now)
	})
	// StartedAt survives cancellation, so it tells us whether the job was
	// claimed when the cancel landed.
	if applied && job != nil && job.StartedAt != nil {
		telemetry.JobsInFlight.Dec()
	}
	return job, applied, err
}

// Expire transitions a pending job past its expiry deadline to failed with
// the terminal EXPIRED error code and records the expiry in the job's log.
func (m *Manager) Expire(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error) {
	log := logger.FromContextOrDefault(ctx, m.logger)

	job, applied, err := m.apply(ctx, opExpire, id, func(ctx context.Context, now time.Time) (bool, error) {
		return m.jobs.Expire(ctx, id, now)
	})
	if applied {
		if appendErr := m.appendLog(ctx, id, domain.LogLevelWarning,
			"job expired before it was picked up",
			errorCodeMetadata(domain.ErrorCodeExpired)); appendErr != nil {
			log.Warn("failed to append expiry log entry",
				slog.String("job_id", id.String()),
				slog.String("error", appendErr.Error()))
		}
	}
	return job, applied, err
}

// RequeueForRetry transitions a failed job with retries remaining back to
// pending, scheduled for the given instant. The retry sweep computes the
// backoff and calls this once the wait has elapsed.
func (m *Manager) RequeueForRetry(ctx context.Context, id uuid.UUID, scheduledFor time.Time) (*domain.Job, bool, error) {
	return m.apply(ctx, opRequeueRetry, id, func(ctx context.Context, now time.Time) (bool, error) {
		return m.jobs.RequeueForRetry(ctx, id, scheduledFor, now)
	})
}

// RequeueStalled reclaims a processing job whose worker stopped reporting,
// consuming a retry and returning the job to pending for immediate pickup.
// The reclaim is recorded in the job's log before the state moves. Callers
// that find the job out of retries use Fail with ErrorCodeStuck instead.
func (m *Manager) RequeueStalled(ctx context.Context, id uuid.UUID) (*domain.Job, bool, error) {
	log := logger.FromContextOrDefault(ctx, m.logger)

	if err := m.appendLog(ctx, id, domain.LogLevelWarning,
		"no recent progress; reclaiming job from its worker",
		errorCodeMetadata(domain.ErrorCodeStuck)); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil, false, err
		}
		log.Warn("failed to append stall log entry",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()))
	}

	job, applied, err := m.apply(ctx, opRequeueStalled, id, func(ctx context.Context, now time.Time) (bool, error) {
		return m.jobs.RequeueStalled(ctx, id, now)
	})
	if applied {
		telemetry.JobsInFlight.Dec()
	}
	return job, applied, err
}

// AppendLog appends a handler-supplied entry to a job's execution log.
// Returns store.ErrJobNotFound when the job does not exist. Entries owned by
// transitions (failures, expiry, reclaims) are appended by the transition
// methods themselves.
func (m *Manager) AppendLog(ctx context.Context, jobID uuid.UUID, level domain.LogLevel, message string, metadata json.RawMessage) error {
	return m.appendLog(ctx, jobID, level, message, metadata)
}

// apply runs one guarded store update, re-reads the job to capture its
// post-attempt state, and handles the shared event, log, and telemetry work.
func (m *Manager) apply(
	ctx context.Context,
	operation string,
	id uuid.UUID,
	update func(ctx context.Context, now time.Time) (bool, error),
) (*domain.Job, bool, error) {
	log := logger.FromContextOrDefault(ctx, m.logger)
	now := time.Now().UTC()

	applied, err := update(ctx, now)
	if err != nil {
		log.Error("job transition failed",
			slog.String("operation", operation),
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()))
		return nil, false, fmt.Errorf("failed to apply %s transition: %w", operation, err)
	}

	job, err := m.jobs.GetByID(ctx, id)
	if err != nil {
		if !applied && errors.Is(err, store.ErrJobNotFound) {
			return nil, false, err
		}
		// Either the read itself failed, or the transition applied and
		// retention purged the job before the re-read. The applied flag
		// still reports whether the state change landed.
		log.Error("failed to load job after transition",
			slog.String("operation", operation),
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()))
		return nil, applied, fmt.Errorf("failed to load job after %s transition: %w", operation, err)
	}

	if !applied {
		telemetry.TransitionNoops.WithLabelValues(operation).Inc()
		log.Debug("job transition did not apply",
			slog.String("operation", operation),
			slog.String("job_id", id.String()),
			slog.String("status", string(job.Status)))
		return job, false, nil
	}

	telemetry.Transitions.WithLabelValues(operation).Inc()
	log.Debug("job transition applied",
		slog.String("operation", operation),
		slog.String("job_id", id.String()),
		slog.String("status", string(job.Status)))

	m.notify(ctx, log, job)
	return job, true, nil
}

// notify publishes the post-transition snapshot. Delivery is best-effort:
// errors are logged and dropped, never surfaced to the transition's caller.
// Consumers that miss an event reconcile by reading the job.
func (m *Manager) notify(ctx context.Context, log *slog.Logger, job *domain.Job) {
	if err := m.publisher.Publish(ctx, events.NewJobEvent(job)); err != nil {
		log.Warn("failed to publish job event",
			slog.String("job_id", job.ID.String()),
			slog.String("status", string(job.Status)),
			slog.String("error", err.Error()))
	}
}

// appendLog validates and appends one execution-log entry.
func (m *Manager) appendLog(ctx context.Context, jobID uuid.UUID, level domain.LogLevel, message string, metadata json.RawMessage) error {
	entry, err := domain.NewJobLogEntry(jobID, level, message, metadata)
	if err != nil {
		return err
	}
	return m.logs.Append(ctx, entry)
}

// errorCodeMetadata renders the metadata attached to engine-written log
// entries. An empty code yields no metadata.
func errorCodeMetadata(code string) json.RawMessage {
	if code == "" {
		return nil
	}
	metadata, err := json.Marshal(struct {
		ErrorCode string `json:"error_code"`
	}{ErrorCode: code})
	if err != nil {
		return nil
	}
	return metadata
}
