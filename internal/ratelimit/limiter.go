// Package ratelimit provides lock-free rate limiters for the admission core.
// It supports the token bucket and sliding window algorithms.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Limiter is a single rate limiting budget. Implementations must be safe for
// concurrent use and must never block.
type Limiter interface {
	// TryConsume takes n units at instant now. It returns false, leaving the
	// limiter untouched, when the budget cannot cover n.
	TryConsume(n int, now time.Time) bool

	// Snapshot reports the budget as seen at instant now without consuming.
	Snapshot(now time.Time) Snapshot

	// Idle reports whether the limiter is at rest at instant now, meaning a
	// freshly created limiter would behave identically.
	Idle(now time.Time) bool

	// Retire atomically marks the limiter retired if it is idle at now and
	// reports whether it is retired. A retired limiter admits nothing.
	Retire(now time.Time) bool

	// Retired reports whether Retire has succeeded.
	Retired() bool

	// Algorithm returns the algorithm implemented by the limiter.
	Algorithm() Algorithm
}

// Snapshot is a read-only view of a limiter.
type Snapshot struct {
	// Algorithm is the algorithm of the limiter.
	Algorithm Algorithm `json:"algorithm"`

	// Limit is the capacity (token bucket) or max requests (sliding window).
	Limit int `json:"limit"`

	// Available is the number of units that could be consumed right now.
	Available int `json:"available"`

	// RetryAfter is the time until one more unit becomes available.
	// It is zero when Available is positive.
	RetryAfter time.Duration `json:"retryAfter"`
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed.
	Limit int

	// Remaining is the number of units remaining after this check.
	Remaining int

	// RetryAfter is the duration to wait before retrying (when not allowed).
	RetryAfter time.Duration
}

// Algorithm represents the rate limiting algorithm type.
type Algorithm string

const (
	// AlgorithmTokenBucket uses the token bucket algorithm.
	AlgorithmTokenBucket Algorithm = "token_bucket"

	// AlgorithmSlidingWindow uses the sliding window log algorithm.
	AlgorithmSlidingWindow Algorithm = "sliding_window"
)

// ErrInvalidConfig is returned when a limiter configuration is invalid.
var ErrInvalidConfig = errors.New("invalid rate limit configuration")

// Config holds configuration for creating a rate limiter.
type Config struct {
	// Algorithm is the rate limiting algorithm to use.
	Algorithm Algorithm

	// Capacity is the bucket size (token bucket).
	Capacity int

	// RefillRate is the number of tokens added per second (token bucket).
	RefillRate float64

	// MaxRequests is the number of requests allowed per window (sliding window).
	MaxRequests int

	// Window is the window length (sliding window).
	Window time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Algorithm:   AlgorithmTokenBucket,
		Capacity:    100,
		RefillRate:  10,
		MaxRequests: 100,
		Window:      time.Minute,
	}
}

// Validate checks the fields used by the selected algorithm.
func (c Config) Validate() error {
	switch c.Algorithm {
	case AlgorithmTokenBucket:
		if c.Capacity < 1 {
			return fmt.Errorf("%w: capacity must be at least 1, got %d", ErrInvalidConfig, c.Capacity)
		}
		if c.RefillRate <= 0 {
			return fmt.Errorf("%w: refill rate must be positive, got %v", ErrInvalidConfig, c.RefillRate)
		}
	case AlgorithmSlidingWindow:
		if c.MaxRequests < 1 {
			return fmt.Errorf("%w: max requests must be at least 1, got %d", ErrInvalidConfig, c.MaxRequests)
		}
		if c.Window <= 0 {
			return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, c.Window)
		}
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	return nil
}

// New creates a limiter for cfg.
func New(cfg Config) (Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Algorithm {
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(cfg.MaxRequests, cfg.Window), nil
	default:
		return NewTokenBucket(cfg.Capacity, cfg.RefillRate), nil
	}
}

// NoopLimiter is a rate limiter that always allows requests.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// TryConsume implements Limiter.
func (l *NoopLimiter) TryConsume(n int, _ time.Time) bool {
	return n > 0
}

// Snapshot implements Limiter.
func (l *NoopLimiter) Snapshot(time.Time) Snapshot {
	return Snapshot{}
}

// Idle implements Limiter.
func (l *NoopLimiter) Idle(time.Time) bool {
	return true
}

// Retire implements Limiter. A noop limiter has no state to lose.
func (l *NoopLimiter) Retire(time.Time) bool {
	return true
}

// Retired implements Limiter.
func (l *NoopLimiter) Retired() bool {
	return false
}

// Algorithm implements Limiter.
func (l *NoopLimiter) Algorithm() Algorithm {
	return "noop"
}

// Compile-time interface assertions.
var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = (*SlidingWindow)(nil)
	_ Limiter = (*NoopLimiter)(nil)
)
