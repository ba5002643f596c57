package middleware

import (
	"log/slog"
	"net/http"

	"github.com/plumehq/plume-jobs/internal/api/shared"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
)

// TraceMiddleware attaches a trace ID to the request context and echoes it
// back in the X-Trace-ID response header. Error responses carry the same ID
// so clients can correlate failures with server logs.
//
// It also seeds the context with a trace-scoped logger, so every handler
// resolving its logger through the context logs the trace ID for free. Apply
// early in the middleware chain.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())
		traceID := shared.GetTraceID(ctx)
		w.Header().Set("X-Trace-ID", traceID)

		log := logger.FromContextOrDefault(ctx, slog.Default()).
			With(slog.String("trace_id", traceID))
		ctx = logger.WithLogger(ctx, log)

		log.Debug("request started",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
