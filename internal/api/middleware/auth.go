package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/plumehq/plume-jobs/internal/api/shared"
	"github.com/plumehq/plume-jobs/internal/auth"
)

// AuthMiddleware authenticates requests with bearer service tokens and
// stores the validated claims in the request context.
type AuthMiddleware struct {
	tokens auth.TokenService
}

// NewAuthMiddleware creates a new AuthMiddleware.
// Panics if the token service is nil.
func NewAuthMiddleware(tokens auth.TokenService) *AuthMiddleware {
	if tokens == nil {
		panic("token service cannot be nil")
	}
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate validates the Authorization header and attaches the token's
// claims to the request context. Requests without a valid token get 401.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required",
				shared.WithErrorCode(shared.ErrorCodeUnauthorized))
			return
		}

		claims, err := m.tokens.ValidateToken(r.Context(), token)
		if err != nil {
			message := "Invalid authentication token"
			if errors.Is(err, auth.ErrExpiredToken) {
				message = "Authentication token has expired"
			}
			shared.RespondWithError(w, r, http.StatusUnauthorized, message,
				shared.WithErrorCode(shared.ErrorCodeUnauthorized))
			return
		}

		ctx := context.WithValue(r.Context(), shared.ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole returns middleware that rejects authenticated requests whose
// token does not carry the given role. It must run after Authenticate.
func (m *AuthMiddleware) RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r)
			if !ok {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required",
					shared.WithErrorCode(shared.ErrorCodeUnauthorized))
				return
			}
			if claims.Role != role {
				shared.RespondWithError(w, r, http.StatusForbidden, "Token role does not permit this operation",
					shared.WithErrorCode(shared.ErrorCodeForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims retrieves the validated token claims from the request context.
func GetClaims(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(shared.ClaimsContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// extractBearerToken pulls the token out of the Authorization header.
func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", auth.ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", auth.ErrInvalidToken
	}
	return parts[1], nil
}
