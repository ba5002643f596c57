// Package auth issues and validates the HMAC-signed service tokens the API
// authenticates callers with. Tokens carry one of three roles: producer
// tokens act for a single owner, worker tokens identify a worker
// deployment, and ops tokens unlock the operational sweep endpoints.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role names a service token's capability set.
type Role string

const (
	// RoleProducer tokens create and inspect jobs for one owner.
	RoleProducer Role = "producer"

	// RoleWorker tokens claim jobs and report attempt outcomes.
	RoleWorker Role = "worker"

	// RoleOps tokens trigger the operational sweeps.
	RoleOps Role = "ops"
)

// Claims is the validated identity a service token carries.
type Claims struct {
	// Role is the capability set granted to the caller.
	Role Role `json:"role"`

	// OwnerID is the owner a producer token acts for. It is the nil UUID
	// on worker and ops tokens.
	OwnerID uuid.UUID `json:"owner_id"`

	// Subject identifies the caller: the owner ID for producers, the
	// deployment or operator name for workers and ops.
	Subject string `json:"sub,omitempty"`

	// Standard registered claims carried through for observability.
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}

// TokenService mints and validates service tokens.
type TokenService interface {
	// GenerateProducerToken creates a signed token acting for ownerID.
	GenerateProducerToken(ctx context.Context, ownerID uuid.UUID) (string, error)

	// GenerateWorkerToken creates a signed token for a worker deployment.
	// workerName is recorded as the token subject.
	GenerateWorkerToken(ctx context.Context, workerName string) (string, error)

	// GenerateOpsToken creates a signed token that unlocks the sweep
	// endpoints. operator is recorded as the token subject.
	GenerateOpsToken(ctx context.Context, operator string) (string, error)

	// ValidateToken checks the signature and time claims and returns the
	// token's identity. Returns ErrExpiredToken, ErrTokenNotYetValid, or
	// ErrInvalidToken on failure.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}
