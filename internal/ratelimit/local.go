package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// LocalLimiter is an in-process Limiter for single-instance deployments,
// keeping one token bucket per key. State is lost on restart, which only
// briefly over-admits after a deploy.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	capacity int
	refill   float64 // tokens per second
}

// NewLocalLimiter constructs an in-process limiter with the provided
// capacity and refill rate, matching the TokenBucket parameters.
func NewLocalLimiter(capacity int, refillPerSecond float64) *LocalLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		capacity: capacity,
		refill:   refillPerSecond,
	}
}

// Ensure LocalLimiter implements the Limiter interface
var _ Limiter = (*LocalLimiter)(nil)

// Allow implements Limiter.
func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, float64, error) {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.refill), l.capacity)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	allowed := limiter.Allow()
	return allowed, limiter.Tokens(), nil
}
