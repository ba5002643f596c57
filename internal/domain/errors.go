package domain

import "errors"

// ErrValidation is the root of every domain validation error. The entity
// files wrap it with field-specific sentinels, so callers can either match
// an exact failure or catch the whole family:
//
//	errors.Is(err, domain.ErrJobTypeEmpty)  // one specific failure
//	errors.Is(err, domain.ErrValidation)    // any validation failure
var ErrValidation = errors.New("validation failed")
