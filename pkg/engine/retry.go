package engine

import (
	"math"
	"math/rand"
	"time"

	"github.com/quotaflow/quotaflow/pkg/ratelimit"
)

// RetryPolicy defines exponential backoff for transient remote failures
type RetryPolicy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// PolicyFromConfig derives the retry policy from a service's request budget
func PolicyFromConfig(cfg ratelimit.Config) *RetryPolicy {
	policy := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if cfg.InitialBackoff > 0 {
		policy.InitialDelay = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		policy.MaxDelay = cfg.MaxBackoff
	}
	if cfg.BackoffMultiplier >= 1 {
		policy.Multiplier = cfg.BackoffMultiplier
	}
	return policy
}

// Delay returns the backoff before retry number attempt+1. The base delay
// grows as InitialDelay * Multiplier^attempt with jitter applied so
// retrying workers do not synchronize. MaxDelay bounds the final jittered
// value, never just the base.
func (rp *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*(2*delta)
	}

	if delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	return time.Duration(delay)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	clone := *rp
	return &clone
}
