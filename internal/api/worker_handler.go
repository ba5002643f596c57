package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/api/shared"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
	"github.com/plumehq/plume-jobs/internal/redact"
)

// JobSource supplies the next dispatchable job for a polling worker.
// Satisfied by dispatch.Dispatcher.
type JobSource interface {
	NextJob(ctx context.Context, workerID string) (*domain.Job, error)
}

// LifecycleDriver is the slice of the lifecycle manager the worker endpoints
// drive. Transitions return the job's post-attempt state with applied=false
// when the job had already moved on; that is an answer, not an error.
type LifecycleDriver interface {
	ReportProgress(ctx context.Context, id uuid.UUID, percent int, message string) (*domain.Job, bool, error)
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) (*domain.Job, bool, error)
	Fail(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (*domain.Job, bool, error)
	AppendLog(ctx context.Context, jobID uuid.UUID, level domain.LogLevel, message string, metadata json.RawMessage) error
}

// WorkerHandler handles the worker-facing claim and attempt endpoints,
// serving worker fleets that run outside this process.
type WorkerHandler struct {
	source    JobSource
	lifecycle LifecycleDriver
	logger    *slog.Logger
}

// NewWorkerHandler creates a new WorkerHandler.
// Panics if any dependency is nil.
func NewWorkerHandler(source JobSource, lifecycle LifecycleDriver, log *slog.Logger) *WorkerHandler {
	if source == nil {
		panic("job source cannot be nil for WorkerHandler")
	}
	if lifecycle == nil {
		panic("lifecycle driver cannot be nil for WorkerHandler")
	}
	if log == nil {
		panic("logger cannot be nil for WorkerHandler")
	}

	return &WorkerHandler{
		source:    source,
		lifecycle: lifecycle,
		logger:    log.With(slog.String("component", "worker_handler")),
	}
}

// ClaimNextJob handles POST /api/worker/claim requests.
// It atomically claims the next due pending job for the calling worker;
// 204 means nothing is currently dispatchable.
func (h *WorkerHandler) ClaimNextJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req ClaimRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format", slog.String("error", redact.Error(err)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format",
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err,
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	job, err := h.source.NextJob(r.Context(), req.WorkerID)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	// Special case: an empty queue is an empty response, not an error
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log.Debug("job claimed",
		slog.String("job_id", job.ID.String()),
		slog.String("worker_id", req.WorkerID))
	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// ReportProgress handles POST /api/worker/jobs/{id}/progress requests.
func (h *WorkerHandler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	var req ReportProgressRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format",
			slog.String("error", redact.Error(err)),
			slog.String("job_id", jobID.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format",
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err,
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	job, applied, err := h.lifecycle.ReportProgress(r.Context(), jobID, req.Percent, req.Message)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TransitionResponse{
		Applied: applied,
		Job:     jobToResponse(job),
	})
}

// AppendLog handles POST /api/worker/jobs/{id}/logs requests.
func (h *WorkerHandler) AppendLog(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	var req AppendLogRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format",
			slog.String("error", redact.Error(err)),
			slog.String("job_id", jobID.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format",
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err,
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	err := h.lifecycle.AppendLog(r.Context(), jobID, domain.LogLevel(req.Level), req.Message, req.Metadata)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CompleteJob handles POST /api/worker/jobs/{id}/complete requests.
// Completing a job that is no longer processing (cancelled mid-attempt,
// reclaimed by the stuck sweep) is a no-op reported as applied=false.
func (h *WorkerHandler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	var req CompleteJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format",
			slog.String("error", redact.Error(err)),
			slog.String("job_id", jobID.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format",
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	job, applied, err := h.lifecycle.Complete(r.Context(), jobID, req.Result)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	if !applied {
		log.Debug("complete was a no-op",
			slog.String("job_id", jobID.String()),
			slog.String("status", string(job.Status)))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TransitionResponse{
		Applied: applied,
		Job:     jobToResponse(job),
	})
}

// FailJob handles POST /api/worker/jobs/{id}/fail requests.
// The failure is recorded on the job's execution log before the transition.
func (h *WorkerHandler) FailJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	var req FailJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format",
			slog.String("error", redact.Error(err)),
			slog.String("job_id", jobID.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format",
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err,
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	job, applied, err := h.lifecycle.Fail(r.Context(), jobID, req.ErrorCode, req.ErrorMessage)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	if !applied {
		log.Debug("fail was a no-op",
			slog.String("job_id", jobID.String()),
			slog.String("status", string(job.Status)))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TransitionResponse{
		Applied: applied,
		Job:     jobToResponse(job),
	})
}
