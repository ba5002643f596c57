package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/plumehq/plume-jobs/internal/auth"
)

// MockTokenService implements auth.TokenService for testing
type MockTokenService struct {
	// GenerateProducerTokenFn allows test cases to mock producer token minting
	GenerateProducerTokenFn func(ctx context.Context, ownerID uuid.UUID) (string, error)

	// GenerateWorkerTokenFn allows test cases to mock worker token minting
	GenerateWorkerTokenFn func(ctx context.Context, workerName string) (string, error)

	// GenerateOpsTokenFn allows test cases to mock ops token minting
	GenerateOpsTokenFn func(ctx context.Context, operator string) (string, error)

	// ValidateTokenFn allows test cases to mock the ValidateToken behavior
	ValidateTokenFn func(ctx context.Context, tokenString string) (*auth.Claims, error)

	// Default values used when functions aren't explicitly defined
	Token       string
	Claims      *auth.Claims
	Err         error
	ValidateErr error
}

// GenerateProducerToken implements the auth.TokenService interface
func (m *MockTokenService) GenerateProducerToken(ctx context.Context, ownerID uuid.UUID) (string, error) {
	if m.GenerateProducerTokenFn != nil {
		return m.GenerateProducerTokenFn(ctx, ownerID)
	}
	return m.Token, m.Err
}

// GenerateWorkerToken implements the auth.TokenService interface
func (m *MockTokenService) GenerateWorkerToken(ctx context.Context, workerName string) (string, error) {
	if m.GenerateWorkerTokenFn != nil {
		return m.GenerateWorkerTokenFn(ctx, workerName)
	}
	return m.Token, m.Err
}

// GenerateOpsToken implements the auth.TokenService interface
func (m *MockTokenService) GenerateOpsToken(ctx context.Context, operator string) (string, error) {
	if m.GenerateOpsTokenFn != nil {
		return m.GenerateOpsTokenFn(ctx, operator)
	}
	return m.Token, m.Err
}

// ValidateToken implements the auth.TokenService interface
func (m *MockTokenService) ValidateToken(ctx context.Context, tokenString string) (*auth.Claims, error) {
	if m.ValidateTokenFn != nil {
		return m.ValidateTokenFn(ctx, tokenString)
	}
	if m.ValidateErr != nil {
		return nil, m.ValidateErr
	}
	return m.Claims, nil
}
