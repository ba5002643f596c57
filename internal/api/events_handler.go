package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/api/shared"
	"github.com/plumehq/plume-jobs/internal/events"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
)

// heartbeatInterval is how often an idle event stream emits an SSE comment
// so intermediaries do not reap the connection.
const heartbeatInterval = 30 * time.Second

// EventStreamer is the broker slice the event stream subscribes through.
type EventStreamer interface {
	Subscribe(ownerID uuid.UUID) (<-chan events.JobEvent, func())
}

// EventsHandler streams an owner's job events over Server-Sent Events.
// Delivery is best-effort: a slow consumer loses the oldest buffered events
// and reconciles by re-reading the job.
type EventsHandler struct {
	broker EventStreamer
	logger *slog.Logger
}

// NewEventsHandler creates a new EventsHandler.
// Panics if the broker or logger is nil.
func NewEventsHandler(broker EventStreamer, log *slog.Logger) *EventsHandler {
	if broker == nil {
		panic("broker cannot be nil for EventsHandler")
	}
	if log == nil {
		panic("logger cannot be nil for EventsHandler")
	}

	return &EventsHandler{
		broker: broker,
		logger: log.With(slog.String("component", "events_handler")),
	}
}

// StreamEvents handles GET /api/jobs/events requests.
// It holds the connection open and forwards the owner's job events as SSE
// "job" events until the client disconnects.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, ok := ownerFromRequest(r)
	if !ok {
		log.Warn("owner claims not found in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required",
			shared.WithErrorCode(shared.ErrorCodeUnauthorized))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Error("response writer does not support streaming")
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported",
			shared.WithErrorCode(shared.ErrorCodeInternal))
		return
	}

	ch, cancel := h.broker.Subscribe(ownerID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Debug("event stream opened", slog.String("owner_id", ownerID.String()))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed", slog.String("owner_id", ownerID.String()))
			return

		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Error("failed to marshal job event",
					slog.String("error", err.Error()),
					slog.String("job_id", event.JobID.String()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: job\ndata: %s\n\n", data); err != nil {
				// Connection gone.
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
