// Package main implements a small operational CLI that mints service
// tokens for the jobs API: producer tokens scoped to an owner, worker
// tokens for execution fleets, and ops tokens for sweep schedulers.
//
// The signing secret comes from the same configuration the server reads,
// so tokens minted here validate against any instance sharing that secret.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/plumehq/plume-jobs/internal/auth"
	"github.com/plumehq/plume-jobs/internal/config"
)

func main() {
	role := flag.String("role", "", "token role: producer, worker, or ops")
	owner := flag.String("owner", "", "owner UUID the producer token acts for")
	name := flag.String("name", "", "subject for worker and ops tokens")
	lifetime := flag.Int("lifetime", 0, "token lifetime in minutes (defaults to the configured lifetime)")
	flag.Parse()

	token, err := mintToken(*role, *owner, *name, *lifetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// mintToken loads configuration, builds the token service, and generates
// a token for the requested role.
func mintToken(role, owner, name string, lifetimeMinutes int) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	if lifetimeMinutes > 0 {
		cfg.Auth.TokenLifetimeMinutes = lifetimeMinutes
	}

	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return "", fmt.Errorf("failed to build token service: %w", err)
	}

	ctx := context.Background()
	switch role {
	case "producer":
		if owner == "" {
			return "", fmt.Errorf("producer tokens require -owner")
		}
		ownerID, err := uuid.Parse(owner)
		if err != nil {
			return "", fmt.Errorf("invalid owner UUID %q: %w", owner, err)
		}
		return tokens.GenerateProducerToken(ctx, ownerID)
	case "worker":
		if name == "" {
			return "", fmt.Errorf("worker tokens require -name")
		}
		return tokens.GenerateWorkerToken(ctx, name)
	case "ops":
		if name == "" {
			return "", fmt.Errorf("ops tokens require -name")
		}
		return tokens.GenerateOpsToken(ctx, name)
	case "":
		return "", fmt.Errorf("missing -role (producer, worker, or ops)")
	default:
		return "", fmt.Errorf("unknown role %q (supported: producer, worker, ops)", role)
	}
}
