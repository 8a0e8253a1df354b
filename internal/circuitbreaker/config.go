// Package circuitbreaker provides per-destination circuit breakers for the
// admission core. It implements the circuit breaker pattern to prevent
// cascading failures.
package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a breaker configuration is invalid.
var ErrInvalidConfig = errors.New("invalid circuit breaker configuration")

// Engine selects the circuit breaker implementation.
type Engine string

const (
	// EngineNative is the lock-free breaker of this package.
	EngineNative Engine = "native"

	// EngineGoBreaker delegates to github.com/sony/gobreaker.
	EngineGoBreaker Engine = "gobreaker"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open state that
	// closes the circuit.
	SuccessThreshold int

	// Timeout is the duration the circuit stays open before a trial request
	// is allowed.
	Timeout time.Duration

	// HalfOpenMaxRequests is the number of trial requests admitted while
	// half-open. Zero means SuccessThreshold.
	HalfOpenMaxRequests int

	// OnStateChange is called after every state transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Validate validates the configuration. Thresholds and timeouts that are
// zero or negative are rejected rather than replaced by defaults.
func (c *Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("%w: failure threshold must be positive, got %d", ErrInvalidConfig, c.FailureThreshold)
	}
	if c.SuccessThreshold <= 0 {
		return fmt.Errorf("%w: success threshold must be positive, got %d", ErrInvalidConfig, c.SuccessThreshold)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidConfig, c.Timeout)
	}
	if c.HalfOpenMaxRequests < 0 {
		return fmt.Errorf("%w: half-open max requests cannot be negative, got %d",
			ErrInvalidConfig, c.HalfOpenMaxRequests)
	}
	if c.HalfOpenMaxRequests > 0 && c.HalfOpenMaxRequests < c.SuccessThreshold {
		return fmt.Errorf("%w: half-open max requests (%d) below success threshold (%d) can never close the circuit",
			ErrInvalidConfig, c.HalfOpenMaxRequests, c.SuccessThreshold)
	}
	return nil
}

// halfOpenLimit returns the effective number of half-open trials.
func (c *Config) halfOpenLimit() int {
	if c.HalfOpenMaxRequests > 0 {
		return c.HalfOpenMaxRequests
	}
	return c.SuccessThreshold
}

// Equal reports whether both configs produce identical breakers. The
// OnStateChange callback is not compared.
func (c *Config) Equal(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.FailureThreshold == other.FailureThreshold &&
		c.SuccessThreshold == other.SuccessThreshold &&
		c.Timeout == other.Timeout &&
		c.halfOpenLimit() == other.halfOpenLimit()
}

// WithFailureThreshold sets the failure threshold.
func (c *Config) WithFailureThreshold(n int) *Config {
	c.FailureThreshold = n
	return c
}

// WithSuccessThreshold sets the success threshold.
func (c *Config) WithSuccessThreshold(n int) *Config {
	c.SuccessThreshold = n
	return c
}

// WithTimeout sets the timeout duration.
func (c *Config) WithTimeout(d time.Duration) *Config {
	c.Timeout = d
	return c
}

// WithHalfOpenMaxRequests sets the maximum half-open trials.
func (c *Config) WithHalfOpenMaxRequests(n int) *Config {
	c.HalfOpenMaxRequests = n
	return c
}

// WithOnStateChange sets the state change callback.
func (c *Config) WithOnStateChange(fn func(name string, from, to State)) *Config {
	c.OnStateChange = fn
	return c
}
