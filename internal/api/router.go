package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apimiddleware "github.com/plumehq/plume-jobs/internal/api/middleware"
	"github.com/plumehq/plume-jobs/internal/auth"
	"github.com/plumehq/plume-jobs/internal/ratelimit"
	"github.com/plumehq/plume-jobs/internal/service"
	"github.com/plumehq/plume-jobs/internal/telemetry"
)

// RouterConfig bundles the dependencies of the HTTP surface. Limiter is
// optional; the other fields are required.
type RouterConfig struct {
	JobService service.JobService
	Source     JobSource
	Lifecycle  LifecycleDriver
	Sweeps     SweepRunner
	Broker     EventStreamer
	Tokens     auth.TokenService
	Limiter    ratelimit.Limiter
	Logger     *slog.Logger
}

// NewRouter creates the application router with all routes and middleware.
// Routes are grouped by token role: producers manage their own jobs, workers
// drive attempts, ops tokens trigger sweeps. Health and metrics are open.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.TraceMiddleware)

	authMiddleware := apimiddleware.NewAuthMiddleware(cfg.Tokens)

	jobHandler := NewJobHandler(cfg.JobService, cfg.Logger)
	workerHandler := NewWorkerHandler(cfg.Source, cfg.Lifecycle, cfg.Logger)
	opsHandler := NewOpsHandler(cfg.Sweeps, cfg.Logger)
	eventsHandler := NewEventsHandler(cfg.Broker, cfg.Logger)

	// Producer endpoints
	r.Route("/api/jobs", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		r.Use(authMiddleware.RequireRole(auth.RoleProducer))
		if cfg.Limiter != nil {
			rateLimit := apimiddleware.NewRateLimitMiddleware(cfg.Limiter, cfg.Logger)
			r.Use(rateLimit.Limit)
		}

		r.Post("/", jobHandler.CreateJob)
		r.Post("/find-or-create", jobHandler.FindOrCreateJob)
		r.Post("/cached-result", jobHandler.GetCachedResult)
		r.Get("/", jobHandler.ListJobs)
		r.Get("/events", eventsHandler.StreamEvents)
		r.Get("/{id}", jobHandler.GetJob)
		r.Post("/{id}/cancel", jobHandler.CancelJob)
		r.Get("/{id}/logs", jobHandler.GetJobLogs)
	})

	// Worker endpoints
	r.Route("/api/worker", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		r.Use(authMiddleware.RequireRole(auth.RoleWorker))

		r.Post("/claim", workerHandler.ClaimNextJob)
		r.Post("/jobs/{id}/progress", workerHandler.ReportProgress)
		r.Post("/jobs/{id}/logs", workerHandler.AppendLog)
		r.Post("/jobs/{id}/complete", workerHandler.CompleteJob)
		r.Post("/jobs/{id}/fail", workerHandler.FailJob)
	})

	// Operational sweep endpoints
	r.Route("/internal/sweeps", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		r.Use(authMiddleware.RequireRole(auth.RoleOps))

		r.Post("/retry", opsHandler.RunRetrySweep)
		r.Post("/expiry", opsHandler.RunExpirySweep)
		r.Post("/stuck", opsHandler.RunStuckSweep)
		r.Post("/retention", opsHandler.RunRetentionSweep)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil && cfg.Logger != nil {
			cfg.Logger.Error("failed to write health check response",
				slog.String("error", err.Error()))
		}
	})

	// Prometheus metrics endpoint
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	return r
}
