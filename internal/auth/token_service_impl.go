package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/plumehq/plume-jobs/internal/config"
	"github.com/plumehq/plume-jobs/internal/platform/logger"
)

// hmacTokenService implements TokenService using HMAC-SHA256 signing.
type hmacTokenService struct {
	signingKey    []byte
	tokenLifetime time.Duration
	timeFunc      func() time.Time // Injectable for testing
	clockSkew     time.Duration    // Allowed drift between issuer and validator clocks
}

// serviceClaims is the wire shape of a service token.
type serviceClaims struct {
	Role    Role      `json:"role"`
	OwnerID uuid.UUID `json:"owner_id"`
	jwt.RegisteredClaims
}

var _ TokenService = (*hmacTokenService)(nil)

// NewTokenService creates a token service using HMAC-SHA256 signing.
func NewTokenService(cfg config.AuthConfig) (TokenService, error) {
	if len(cfg.TokenSecret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 characters")
	}

	return &hmacTokenService{
		signingKey:    []byte(cfg.TokenSecret),
		tokenLifetime: time.Duration(cfg.TokenLifetimeMinutes) * time.Minute,
		timeFunc:      time.Now,
		clockSkew:     2 * time.Minute,
	}, nil
}

// GenerateProducerToken creates a signed token acting for ownerID.
func (s *hmacTokenService) GenerateProducerToken(ctx context.Context, ownerID uuid.UUID) (string, error) {
	if ownerID == uuid.Nil {
		return "", fmt.Errorf("producer token requires an owner ID")
	}
	return s.generate(ctx, RoleProducer, ownerID, ownerID.String())
}

// GenerateWorkerToken creates a signed token for a worker deployment.
func (s *hmacTokenService) GenerateWorkerToken(ctx context.Context, workerName string) (string, error) {
	if workerName == "" {
		return "", fmt.Errorf("worker token requires a worker name")
	}
	return s.generate(ctx, RoleWorker, uuid.Nil, workerName)
}

// GenerateOpsToken creates a signed token that unlocks the sweep endpoints.
func (s *hmacTokenService) GenerateOpsToken(ctx context.Context, operator string) (string, error) {
	if operator == "" {
		return "", fmt.Errorf("ops token requires an operator name")
	}
	return s.generate(ctx, RoleOps, uuid.Nil, operator)
}

func (s *hmacTokenService) generate(ctx context.Context, role Role, ownerID uuid.UUID, subject string) (string, error) {
	log := logger.FromContext(ctx)
	now := s.timeFunc()

	claims := serviceClaims{
		Role:    role,
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenLifetime)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.signingKey)
	if err != nil {
		log.Error("failed to sign service token",
			"error", err,
			"role", role,
			"signing_method", jwt.SigningMethodHS256.Name)
		return "", fmt.Errorf("failed to sign %s token with HMAC-SHA256: %w", role, err)
	}

	return signedToken, nil
}

// ValidateToken checks the signature and time claims and returns the
// token's identity.
func (s *hmacTokenService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	log := logger.FromContext(ctx)
	now := s.timeFunc()

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time {
			return now
		}),
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&serviceClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		},
		parserOpts...)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			log.Debug("token validation failed: token expired", "error", err)
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			log.Debug("token validation failed: token not yet valid", "error", err)
			return nil, ErrTokenNotYetValid
		default:
			log.Debug("token validation failed",
				"error", err,
				"error_type", fmt.Sprintf("%T", err))
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*serviceClaims)
	if !ok || !token.Valid {
		log.Debug("token validation failed: invalid claims")
		return nil, ErrInvalidToken
	}

	switch claims.Role {
	case RoleProducer:
		if claims.OwnerID == uuid.Nil {
			log.Debug("token validation failed: producer token without owner")
			return nil, ErrInvalidToken
		}
	case RoleWorker, RoleOps:
	default:
		log.Debug("token validation failed: unknown role", "role", string(claims.Role))
		return nil, ErrInvalidToken
	}

	log.Debug("service token validated",
		"role", string(claims.Role),
		"subject", claims.Subject,
		"token_id", claims.ID)

	return &Claims{
		Role:      claims.Role,
		OwnerID:   claims.OwnerID,
		Subject:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		ID:        claims.ID,
	}, nil
}
