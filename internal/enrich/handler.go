package enrich

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/task"
)

// TypeContentEnrich is the job type served by Handler.
const TypeContentEnrich = "content_enrich"

// Error codes recorded on failed content_enrich jobs.
const (
	// ErrorCodeBadParams marks params that do not decode into a Request.
	ErrorCodeBadParams = "ENRICH_BAD_PARAMS"

	// ErrorCodeBlocked marks content the model refused on safety grounds.
	ErrorCodeBlocked = "ENRICH_BLOCKED"

	// ErrorCodeBadResponse marks a model response that could not be parsed.
	ErrorCodeBadResponse = "ENRICH_BAD_RESPONSE"

	// ErrorCodeUpstream marks a transient upstream failure worth retrying.
	ErrorCodeUpstream = "ENRICH_UPSTREAM"
)

// Handler runs content_enrich jobs through an Enricher.
type Handler struct {
	enricher Enricher
	logger   *slog.Logger
}

// NewHandler builds the content_enrich task handler.
func NewHandler(enricher Enricher, logger *slog.Logger) *Handler {
	if enricher == nil {
		panic("enrich: NewHandler requires an enricher")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		enricher: enricher,
		logger:   logger.With(slog.String("component", "enrich_handler")),
	}
}

// Type returns the content_enrich job type.
func (h *Handler) Type() string {
	return TypeContentEnrich
}

// Execute decodes the job params, runs the enricher, and returns the
// enriched variant as the job result.
func (h *Handler) Execute(ctx *task.Context) (json.RawMessage, error) {
	var req Request
	if err := json.Unmarshal(ctx.Params(), &req); err != nil {
		return nil, &task.Error{Code: ErrorCodeBadParams, Message: "params do not decode into enrich parameters", Err: err}
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, task.NewError(ErrorCodeBadParams, "content cannot be empty")
	}

	if err := ctx.ReportProgress(10, "sending content to the model"); err != nil {
		return nil, err
	}
	if ctx.Cancelled() {
		return nil, ctx.Context().Err()
	}

	result, err := h.enricher.Enrich(ctx.Context(), req)
	if err != nil {
		_ = ctx.Log(domain.LogLevelWarning, "enrichment failed", nil)
		return nil, classifyEnrichError(err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, &task.Error{Code: ErrorCodeBadResponse, Message: "enriched result does not marshal", Err: err}
	}

	if err := ctx.ReportProgress(90, "model responded"); err != nil {
		return nil, err
	}
	h.logger.DebugContext(ctx.Context(), "content enriched",
		slog.String("job_id", ctx.JobID().String()),
		slog.String("platform", req.Platform),
		slog.Int("body_length", len(result.Body)))
	return payload, nil
}

// classifyEnrichError maps enricher sentinels onto the job error codes
// producers see.
func classifyEnrichError(err error) error {
	switch {
	case errors.Is(err, ErrContentBlocked):
		return &task.Error{Code: ErrorCodeBlocked, Message: "model refused the content", Err: err}
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrEmptyContent):
		return &task.Error{Code: ErrorCodeBadResponse, Message: "model response was unusable", Err: err}
	default:
		return &task.Error{Code: ErrorCodeUpstream, Message: "enrichment upstream failed", Err: err}
	}
}
