package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/plumehq/plume-jobs/internal/api/shared"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
)

// SweepRunner is the slice of the health monitor the operational endpoints
// drive. Each sweep is one idempotent pass returning how many jobs it moved.
type SweepRunner interface {
	RetrySweep(ctx context.Context) (int, error)
	ExpirySweep(ctx context.Context) (int, error)
	StuckSweep(ctx context.Context) (int, error)
	RetentionSweep(ctx context.Context) (int, error)
}

// OpsHandler handles the operational sweep endpoints. Deployments without a
// worker-side cadence loop drive the sweeps through these from an external
// scheduler.
type OpsHandler struct {
	sweeps SweepRunner
	logger *slog.Logger
}

// NewOpsHandler creates a new OpsHandler.
// Panics if the sweep runner or logger is nil.
func NewOpsHandler(sweeps SweepRunner, log *slog.Logger) *OpsHandler {
	if sweeps == nil {
		panic("sweep runner cannot be nil for OpsHandler")
	}
	if log == nil {
		panic("logger cannot be nil for OpsHandler")
	}

	return &OpsHandler{
		sweeps: sweeps,
		logger: log.With(slog.String("component", "ops_handler")),
	}
}

// RunRetrySweep handles POST /internal/sweeps/retry requests.
func (h *OpsHandler) RunRetrySweep(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, "retry", h.sweeps.RetrySweep)
}

// RunExpirySweep handles POST /internal/sweeps/expiry requests.
func (h *OpsHandler) RunExpirySweep(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, "expiry", h.sweeps.ExpirySweep)
}

// RunStuckSweep handles POST /internal/sweeps/stuck requests.
func (h *OpsHandler) RunStuckSweep(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, "stuck", h.sweeps.StuckSweep)
}

// RunRetentionSweep handles POST /internal/sweeps/retention requests.
func (h *OpsHandler) RunRetentionSweep(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, "retention", h.sweeps.RetentionSweep)
}

// runSweep executes one sweep pass and reports its count.
func (h *OpsHandler) runSweep(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	sweep func(ctx context.Context) (int, error),
) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	count, err := sweep(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Sweep failed", err,
			shared.WithErrorCode(shared.ErrorCodeInternal))
		return
	}

	log.Info("sweep completed",
		slog.String("sweep", name),
		slog.Int("count", count))
	shared.RespondWithJSON(w, r, http.StatusOK, SweepResponse{Count: count})
}
