package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/api/shared"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
	"github.com/plumehq/plume-jobs/internal/ratelimit"
	"github.com/plumehq/plume-jobs/internal/telemetry"
)

// RateLimitMiddleware throttles request rates per owner. It must run after
// Authenticate so the owner is known; requests without producer claims pass
// through untouched.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware.
// Panics if the limiter is nil.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, log *slog.Logger) *RateLimitMiddleware {
	if limiter == nil {
		panic("limiter cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &RateLimitMiddleware{
		limiter: limiter,
		logger:  log.With(slog.String("component", "ratelimit_middleware")),
	}
}

// Limit enforces the owner's request budget, answering 429 when exhausted.
// A limiter backend failure fails open: throttling is protection, not
// correctness, and the active-job ceiling still bounds total work.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r)
		if !ok || claims.OwnerID == uuid.Nil {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, err := m.limiter.Allow(r.Context(), ratelimit.OwnerKey(claims.OwnerID))
		if err != nil {
			log := logger.FromContextOrDefault(r.Context(), m.logger)
			log.Warn("rate limiter unavailable, allowing request",
				slog.String("owner_id", claims.OwnerID.String()),
				slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			shared.RespondWithErrorAndLog(w, r,
				http.StatusTooManyRequests,
				"Request rate limit exceeded, retry later", nil,
				shared.WithErrorCode(shared.ErrorCodeRateLimited))
			return
		}

		next.ServeHTTP(w, r)
	})
}
