package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration for the provider.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate limit.
	RequestsPerSecond float64
	// Burst is the maximum burst size.
	Burst int
	// DefaultBackoff applies when a 429 carries no usable Retry-After.
	DefaultBackoff time.Duration
}

// DefaultRateLimit stays well under typical provider quotas.
var DefaultRateLimit = RateLimitConfig{RequestsPerSecond: 2, Burst: 5, DefaultBackoff: 10 * time.Second}

// RateLimiter provides rate limiting for provider requests.
// It uses a token bucket with a backoff window for 429 responses.
type RateLimiter struct {
	mu             sync.Mutex
	limiter        *rate.Limiter
	retryAt        time.Time
	defaultBackoff time.Duration
	now            func() time.Time
}

// NewRateLimiter creates a rate limiter from cfg. Zero fields take
// DefaultRateLimit values.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimit.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultRateLimit.Burst
	}
	if cfg.DefaultBackoff <= 0 {
		cfg.DefaultBackoff = DefaultRateLimit.DefaultBackoff
	}
	return &RateLimiter{
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		defaultBackoff: cfg.DefaultBackoff,
		now:            time.Now,
	}
}

// Wait blocks until a request may be sent: first past any backoff window,
// then for a token.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := retryAt.Sub(r.now()); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}

// RecordRateLimit opens a backoff window after a 429. A non-positive
// retryAfter uses the configured default.
func (r *RateLimiter) RecordRateLimit(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = r.defaultBackoff
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if at := r.now().Add(retryAfter); at.After(r.retryAt) {
		r.retryAt = at
	}
}

// RetryAt returns the end of the current backoff window.
func (r *RateLimiter) RetryAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryAt
}

// Allow reports whether a request may be sent now without blocking.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if r.now().Before(retryAt) {
		return false
	}
	return r.limiter.Allow()
}
