package ratelimit

import (
	"context"

	"github.com/google/uuid"
)

// keyPrefix namespaces limiter keys in shared backends.
const keyPrefix = "ratelimit:owner:"

// OwnerKey builds the limiter key for an owner.
func OwnerKey(ownerID uuid.UUID) string {
	return keyPrefix + ownerID.String()
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// Allow consumes a single token for the given key if available.
	// Returns the decision and the approximate remaining token count.
	Allow(ctx context.Context, key string) (bool, float64, error)
}
