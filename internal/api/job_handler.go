// Package api provides the HTTP surface of the job engine: producer
// endpoints for submitting and tracking jobs, worker endpoints for claiming
// jobs and reporting attempt outcomes, and operational endpoints that drive
// the background sweeps.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/api/shared"
	"github.com/plumehq/plume-jobs/internal/auth"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
	"github.com/plumehq/plume-jobs/internal/redact"
	"github.com/plumehq/plume-jobs/internal/service"
	"github.com/plumehq/plume-jobs/internal/store"
)

// JobHandler handles the producer-facing job endpoints.
type JobHandler struct {
	jobService service.JobService
	logger     *slog.Logger
}

// NewJobHandler creates a new JobHandler.
// Panics if the job service or logger is nil.
func NewJobHandler(jobService service.JobService, log *slog.Logger) *JobHandler {
	if jobService == nil {
		panic("job service cannot be nil for JobHandler")
	}
	if log == nil {
		panic("logger cannot be nil for JobHandler")
	}

	return &JobHandler{
		jobService: jobService,
		logger:     log.With(slog.String("component", "job_handler")),
	}
}

// CreateJob handles POST /api/jobs requests.
// It creates a new pending job for the authenticated owner.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, ok := ownerFromRequest(r)
	if !ok {
		log.Warn("owner claims not found in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required",
			shared.WithErrorCode(shared.ErrorCodeUnauthorized))
		return
	}

	var req CreateJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format",
			slog.String("error", redact.Error(err)),
			slog.String("owner_id", ownerID.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format",
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err,
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	job, err := h.jobService.CreateJob(r.Context(), ownerID, toServiceRequest(req))
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	log.Debug("job created",
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", job.JobType))
	shared.RespondWithJSON(w, r, http.StatusCreated, jobToResponse(job))
}

// FindOrCreateJob handles POST /api/jobs/find-or-create requests.
// It coalesces the request onto an in-flight duplicate when one exists
// inside the dedup window, otherwise creates a new job.
func (h *JobHandler) FindOrCreateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, ok := ownerFromRequest(r)
	if !ok {
		log.Warn("owner claims not found in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required",
			shared.WithErrorCode(shared.ErrorCodeUnauthorized))
		return
	}

	var req CreateJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format",
			slog.String("error", redact.Error(err)),
			slog.String("owner_id", ownerID.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format",
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err,
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	job, created, err := h.jobService.FindOrCreateJob(r.Context(), ownerID, toServiceRequest(req))
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	shared.RespondWithJSON(w, r, status, FindOrCreateJobResponse{
		Created: created,
		Job:     jobToResponse(job),
	})
}

// GetCachedResult handles POST /api/jobs/cached-result requests.
// It serves the freshest prior result for the type and params without
// creating any job; 204 means no matching job completed recently enough.
func (h *JobHandler) GetCachedResult(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, ok := ownerFromRequest(r)
	if !ok {
		log.Warn("owner claims not found in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required",
			shared.WithErrorCode(shared.ErrorCodeUnauthorized))
		return
	}

	var req CachedResultRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format",
			slog.String("error", redact.Error(err)),
			slog.String("owner_id", ownerID.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format",
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	if err := shared.Validate.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err,
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	maxAge := time.Duration(req.MaxAgeSeconds) * time.Second
	job, err := h.jobService.GetCachedResult(r.Context(), ownerID, req.JobType, req.Params, maxAge)

	// Special case: a cache miss is an empty response, not an error
	if errors.Is(err, service.ErrNoCachedResult) {
		log.Debug("no cached result",
			slog.String("owner_id", ownerID.String()),
			slog.String("job_type", req.JobType))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// ListJobs handles GET /api/jobs requests.
// Query parameters: status, job_type, limit, offset, sort.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required",
			shared.WithErrorCode(shared.ErrorCodeUnauthorized))
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error(),
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	jobs, total, err := h.jobService.ListJobs(r.Context(), ownerID, filter)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	} else if limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ListJobsResponse{
		Jobs:       jobsToResponses(jobs),
		TotalCount: total,
		Limit:      limit,
		Offset:     filter.Offset,
	})
}

// GetJob handles GET /api/jobs/{id} requests.
// Another owner's job is reported exactly like a missing one.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required",
			shared.WithErrorCode(shared.ErrorCodeUnauthorized))
		return
	}

	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	job, err := h.jobService.GetJob(r.Context(), ownerID, jobID)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// CancelJob handles POST /api/jobs/{id}/cancel requests.
// Cancelling a finished job is a no-op reported as applied=false with the
// job's current state.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, ok := ownerFromRequest(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required",
			shared.WithErrorCode(shared.ErrorCodeUnauthorized))
		return
	}

	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	job, cancelled, err := h.jobService.CancelJob(r.Context(), ownerID, jobID)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	log.Debug("cancel request handled",
		slog.String("job_id", jobID.String()),
		slog.Bool("applied", cancelled))
	shared.RespondWithJSON(w, r, http.StatusOK, TransitionResponse{
		Applied: cancelled,
		Job:     jobToResponse(job),
	})
}

// GetJobLogs handles GET /api/jobs/{id}/logs requests.
// Query parameters: limit, offset.
func (h *JobHandler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required",
			shared.WithErrorCode(shared.ErrorCodeUnauthorized))
		return
	}

	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	limit, offset, err := pageFromQuery(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error(),
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return
	}

	entries, total, err := h.jobService.GetJobLogs(r.Context(), ownerID, jobID, limit, offset)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobLogsResponse{
		Entries:    logEntriesToResponses(entries),
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}

// ownerFromRequest extracts the authenticated owner from producer claims.
func ownerFromRequest(r *http.Request) (uuid.UUID, bool) {
	claims, ok := r.Context().Value(shared.ClaimsContextKey).(*auth.Claims)
	if !ok || claims == nil || claims.OwnerID == uuid.Nil {
		return uuid.Nil, false
	}
	return claims.OwnerID, true
}

// jobIDFromPath parses the {id} path parameter, answering 400 on failure.
func jobIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Job ID is required",
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return uuid.Nil, false
	}
	jobID, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID format",
			shared.WithErrorCode(shared.ErrorCodeInvalidRequest))
		return uuid.Nil, false
	}
	return jobID, true
}

// toServiceRequest converts the wire request into the service-layer form.
func toServiceRequest(req CreateJobRequest) service.CreateJobRequest {
	svcReq := service.CreateJobRequest{
		JobType:      req.JobType,
		Params:       req.Params,
		Priority:     req.Priority,
		MaxRetries:   req.MaxRetries,
		ScheduledFor: req.ScheduledFor,
	}
	if req.ExpiresInSeconds != nil {
		expiresIn := time.Duration(*req.ExpiresInSeconds) * time.Second
		svcReq.ExpiresIn = &expiresIn
	}
	return svcReq
}

// filterFromQuery builds a store.JobFilter from list query parameters.
func filterFromQuery(r *http.Request) (store.JobFilter, error) {
	var filter store.JobFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.JobStatus(raw)
		if !domain.IsValidJobStatus(status) {
			return filter, errors.New("invalid status filter")
		}
		filter.Status = &status
	}

	filter.JobType = r.URL.Query().Get("job_type")

	switch raw := r.URL.Query().Get("sort"); raw {
	case "", store.SortCreatedAtDesc, store.SortCreatedAtAsc, store.SortPriority:
		filter.Sort = raw
	default:
		return filter, errors.New("invalid sort order")
	}

	limit, offset, err := pageFromQuery(r)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	filter.Offset = offset
	return filter, nil
}

// pageFromQuery parses the limit and offset query parameters.
func pageFromQuery(r *http.Request) (limit, offset int, err error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return 0, 0, errors.New("invalid limit parameter")
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("invalid offset parameter")
		}
	}
	return limit, offset, nil
}
