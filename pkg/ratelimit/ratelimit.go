// Package ratelimit provides per-service admission control for remote calls.
//
// The limiter is blocking rather than queueing: when a service has exhausted
// its burst allowance for the current one-second window, the calling
// goroutine sleeps for the remainder of the minimum inter-call interval
// before it is admitted. Excess demand never manifests as rejected calls.
// Each named service has fully independent counters and locking, so
// throttling one downstream service never stalls another.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quotaflow/quotaflow/pkg/errors"
)

// Config holds the per-service request budget and retry/backoff settings.
// It is immutable once handed to a Limiter; all callers of the same service
// share one instance.
type Config struct {
	// Rate is the steady-state request rate in requests per second
	Rate float64 `yaml:"rate" json:"rate"`
	// Burst is the number of calls admitted instantly per window
	Burst int `yaml:"burst" json:"burst"`
	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	// MaxBackoff caps the exponential backoff delay
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
	// BackoffMultiplier grows the backoff delay between retries
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// DefaultConfig returns a conservative per-service budget
func DefaultConfig() Config {
	return Config{
		Rate:              10.0,
		Burst:             20,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxRetries:        3,
	}
}

// ServiceStats provides a snapshot of one service's admission counters
type ServiceStats struct {
	Service          string        `json:"service"`
	Rate             float64       `json:"rate"`
	Burst            int           `json:"burst"`
	AdmittedRequests int64         `json:"admitted_requests"`
	DelayedRequests  int64         `json:"delayed_requests"`
	TotalDelay       time.Duration `json:"total_delay"`
	WindowCount      int           `json:"window_count"`
}

// serviceState tracks one service's window independently of all others
type serviceState struct {
	mu          sync.Mutex
	config      Config
	windowStart int64 // unix second bucket
	windowCount int
	lastCall    time.Time

	admitted   int64
	delayed    int64
	delayNanos int64
}

// Limiter admits remote calls per service, enforcing a burst allowance in
// each one-second window and a minimum inter-call interval beyond it.
type Limiter struct {
	defaults Config

	mu        sync.RWMutex
	overrides map[string]Config
	services  map[string]*serviceState
}

// NewLimiter creates a limiter that applies defaults to every service not
// explicitly configured via SetServiceConfig.
func NewLimiter(defaults Config) *Limiter {
	return &Limiter{
		defaults:  defaults,
		overrides: make(map[string]Config),
		services:  make(map[string]*serviceState),
	}
}

// SetServiceConfig installs a dedicated budget for one service. It must be
// called before the first Acquire for that service to take effect.
func (l *Limiter) SetServiceConfig(service string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[service] = cfg
}

// ConfigFor returns the budget that applies to the given service
func (l *Limiter) ConfigFor(service string) Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if cfg, ok := l.overrides[service]; ok {
		return cfg
	}
	return l.defaults
}

// state returns the per-service state, creating it on first use
func (l *Limiter) state(service string) *serviceState {
	l.mu.RLock()
	s, ok := l.services[service]
	l.mu.RUnlock()
	if ok {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok = l.services[service]; ok {
		return s
	}

	cfg := l.defaults
	if override, ok := l.overrides[service]; ok {
		cfg = override
	}
	s = &serviceState{config: cfg}
	l.services[service] = s
	return s
}

// Acquire admits one call to the named service, blocking the calling
// goroutine if the service's budget requires pacing. It returns the delay
// incurred so the caller can account it in operation metrics; for a caller
// that had to wait, the delay is wall time across the whole Acquire,
// including time queued behind other callers of the same service. The
// context aborts a pending wait; on cancellation no call is admitted.
func (l *Limiter) Acquire(ctx context.Context, service string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeCancelled, "rate limit wait aborted")
	}

	entered := time.Now()
	s := l.state(service)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	bucket := now.Unix()
	if s.windowStart != bucket {
		s.windowStart = bucket
		s.windowCount = 0
	}

	// Burst allowance admits instantly
	if s.windowCount < s.config.Burst {
		s.windowCount++
		s.lastCall = now
		atomic.AddInt64(&s.admitted, 1)
		return 0, nil
	}

	if s.config.Rate <= 0 {
		// Unpaced service, only the burst counter applies
		s.windowCount++
		s.lastCall = now
		atomic.AddInt64(&s.admitted, 1)
		return 0, nil
	}

	minInterval := time.Duration(float64(time.Second) / s.config.Rate)
	wait := minInterval - now.Sub(s.lastCall)
	if wait <= 0 {
		s.windowCount++
		s.lastCall = now
		atomic.AddInt64(&s.admitted, 1)
		return 0, nil
	}

	// Holding the service lock through the sleep serializes callers of this
	// service; other services keep their own locks and are unaffected.
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return 0, errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "rate limit wait aborted")
	}

	now = time.Now()
	if s.windowStart != now.Unix() {
		s.windowStart = now.Unix()
		s.windowCount = 0
	}
	s.windowCount++
	s.lastCall = now
	delay := now.Sub(entered)
	atomic.AddInt64(&s.admitted, 1)
	atomic.AddInt64(&s.delayed, 1)
	atomic.AddInt64(&s.delayNanos, int64(delay))

	return delay, nil
}

// Stats returns the current counters for one service. It takes the
// service's admission lock, so it can block until an in-flight pacing wait
// for that service completes.
func (l *Limiter) Stats(service string) ServiceStats {
	s := l.state(service)

	s.mu.Lock()
	defer s.mu.Unlock()

	return ServiceStats{
		Service:          service,
		Rate:             s.config.Rate,
		Burst:            s.config.Burst,
		AdmittedRequests: atomic.LoadInt64(&s.admitted),
		DelayedRequests:  atomic.LoadInt64(&s.delayed),
		TotalDelay:       time.Duration(atomic.LoadInt64(&s.delayNanos)),
		WindowCount:      s.windowCount,
	}
}

// StatsAll returns counters for every service seen so far
func (l *Limiter) StatsAll() map[string]ServiceStats {
	l.mu.RLock()
	names := make([]string, 0, len(l.services))
	for name := range l.services {
		names = append(names, name)
	}
	l.mu.RUnlock()

	stats := make(map[string]ServiceStats, len(names))
	for _, name := range names {
		stats[name] = l.Stats(name)
	}
	return stats
}
