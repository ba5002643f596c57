package auth

import "errors"

// Common authentication errors
var (
	// ErrInvalidToken indicates the token format is invalid or the
	// signature doesn't match
	ErrInvalidToken = errors.New("invalid service token")

	// ErrExpiredToken indicates the token has expired
	ErrExpiredToken = errors.New("service token has expired")

	// ErrTokenNotYetValid indicates the token is not yet valid (nbf claim
	// in the future)
	ErrTokenNotYetValid = errors.New("service token not yet valid")

	// ErrMissingToken indicates a token was expected but not provided
	ErrMissingToken = errors.New("service token is missing")

	// ErrWrongRole indicates the token is valid but its role does not
	// grant the attempted operation
	ErrWrongRole = errors.New("service token role does not permit this operation")
)
