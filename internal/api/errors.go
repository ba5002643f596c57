package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/plumehq/plume-jobs/internal/api/shared"
	"github.com/plumehq/plume-jobs/internal/auth"
	"github.com/plumehq/plume-jobs/internal/domain"
	"github.com/plumehq/plume-jobs/internal/service"
	"github.com/plumehq/plume-jobs/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	// Authorization errors
	case errors.Is(err, auth.ErrWrongRole):
		return http.StatusForbidden

	// Not found errors. An owner mismatch surfaces as not found upstream,
	// so 404 never confirms another owner's job exists.
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, store.ErrJobNotFound):
		return http.StatusNotFound

	// Throttling errors
	case errors.Is(err, service.ErrRateLimited),
		errors.Is(err, store.ErrOwnerJobLimit):
		return http.StatusTooManyRequests

	// Bad request errors. domain.ErrValidation covers the whole family of
	// field-specific validation sentinels.
	case errors.Is(err, service.ErrUnknownJobType),
		errors.Is(err, service.ErrInvalidExpiry),
		errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest

	// Special cases
	case errors.Is(err, service.ErrNoCachedResult):
		return http.StatusNoContent

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCodeForStatus maps an HTTP status to the machine-readable error code
// carried in error response bodies.
func ErrorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return shared.ErrorCodeInvalidRequest
	case http.StatusUnauthorized:
		return shared.ErrorCodeUnauthorized
	case http.StatusForbidden:
		return shared.ErrorCodeForbidden
	case http.StatusNotFound:
		return shared.ErrorCodeNotFound
	case http.StatusTooManyRequests:
		return shared.ErrorCodeRateLimited
	default:
		return shared.ErrorCodeInternal
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	// Handle nil error
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrExpiredToken):
		return "Authentication token has expired"

	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid authentication token"

	// Authorization errors
	case errors.Is(err, auth.ErrWrongRole):
		return "Token role does not permit this operation"

	// Not found errors
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, store.ErrJobNotFound):
		return "Job not found"

	// Throttling errors
	case errors.Is(err, service.ErrRateLimited),
		errors.Is(err, store.ErrOwnerJobLimit):
		return "Too many active jobs, retry later"

	// Bad request errors
	case errors.Is(err, service.ErrUnknownJobType):
		return "Unknown job type"

	case errors.Is(err, service.ErrInvalidExpiry):
		return "Job expiry must be positive"

	case errors.Is(err, domain.ErrJobParamsInvalid):
		return "Job params must be a valid JSON document"

	case errors.Is(err, domain.ErrInvalidProgress):
		return "Progress must be between 0 and 100"

	case errors.Is(err, domain.ErrInvalidLogLevel):
		return "Invalid log level"

	case errors.Is(err, domain.ErrLogEntryMessageEmpty):
		return "Log message cannot be empty"

	case errors.Is(err, domain.ErrLogEntryMetadataInvalid):
		return "Log metadata must be a valid JSON document"

	// Catch-all for the rest of the validation family
	case errors.Is(err, domain.ErrValidation):
		return "Invalid job data"

	// Default case for unknown errors
	default:
		return "An unexpected error occurred"
	}
}

// respondMappedError maps err onto the wire contract in one step: status
// from the sentinel, a safe message, and the matching error code.
func respondMappedError(w http.ResponseWriter, r *http.Request, err error, opts ...shared.ResponseOption) {
	status := MapErrorToStatusCode(err)
	opts = append(opts, shared.WithErrorCode(ErrorCodeForStatus(status)))
	shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err, opts...)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Check if this is likely a validation error message
	if strings.Contains(errMsg, "Field validation") {
		// Extract the field name and validation tag
		// Example format: "Key: 'CreateJobRequest.JobType' Error:Field validation for 'JobType' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			// Further split to get just the field validation part
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				// Create a cleaner error message
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	// Fall back to a generic validation error message
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too small"
	case "max":
		return "too large"
	case "oneof":
		return "invalid value"
	case "uuid":
		return "invalid UUID format"
	default:
		return "validation failed"
	}
}
