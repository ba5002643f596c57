// Package backoff provides the retry delay strategies used by the retry
// sweep. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes how long a failed job must stay failed before it becomes
// eligible for requeue. retryCount is the job's current retry count, i.e. the
// number of requeues already consumed: a job that just failed for the first
// time has retryCount 0.
type Strategy interface {
	Delay(retryCount int) time.Duration
}

// Exponential doubles the delay with every consumed retry.
// Delay = min(Base * 2^retryCount, Cap).
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, cap time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: cap}
}

// Delay returns Base * 2^retryCount, capped at Cap.
func (e *Exponential) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(e.Base) * math.Pow(2, float64(retryCount))
	if e.Cap > 0 && d > float64(e.Cap) {
		return e.Cap
	}
	return time.Duration(d)
}

// ExponentialWithJitter keeps the exponential growth curve but randomizes
// each interval within its upper half, spreading requeue bursts without
// letting a retry fire earlier than half its nominal delay.
type ExponentialWithJitter struct {
	Exponential
}

// NewExponentialWithJitter creates an exponential backoff with bounded jitter.
func NewExponentialWithJitter(base, cap time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Exponential{Base: base, Cap: cap}}
}

// Delay returns a random duration in [d/2, d] where d is the exponential delay.
func (e *ExponentialWithJitter) Delay(retryCount int) time.Duration {
	d := e.Exponential.Delay(retryCount)
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}
