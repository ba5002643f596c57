package shared

// Machine-readable error codes carried in the error_code field of error
// responses. Job-level failure codes (EXPIRED, STUCK, handler codes) live on
// the job itself; these cover the transport surface.
const (
	ErrorCodeInvalidRequest = "INVALID_REQUEST"
	ErrorCodeUnauthorized   = "UNAUTHORIZED"
	ErrorCodeForbidden      = "FORBIDDEN"
	ErrorCodeNotFound       = "NOT_FOUND"
	ErrorCodeRateLimited    = "RATE_LIMITED"
	ErrorCodeInternal       = "INTERNAL_ERROR"
)
