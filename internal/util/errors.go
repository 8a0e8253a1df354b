// Package util provides shared error kinds and helpers for the admission core.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrRateLimited.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., AdmissionError, ConfigError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// All custom error types must implement:
//
//	Error() string           – human-readable message
//	Unwrap() error           – if the type wraps another error
//	Is(target error) bool    – for errors.Is() compatibility
package util

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/grpc/codes"
)

// Admission sentinel errors. Every rejection produced by the pipeline
// matches exactly one of them through errors.Is.
var (
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrRouteNotFound  = errors.New("route not found")
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrForbidden      = errors.New("forbidden")
	ErrMissingToken   = errors.New("missing token")
	ErrConfigInvalid  = errors.New("invalid configuration")
	ErrSecretNotFound = errors.New("secret not found")
)

// Kind classifies an admission rejection.
type Kind int

const (
	// KindUnknown is not produced by the pipeline; it marks foreign errors.
	KindUnknown Kind = iota
	KindRateLimitExceeded
	KindCircuitOpen
	KindRouteNotFound
	KindInvalidToken
	KindExpiredToken
	KindForbidden
	KindMissingToken
)

// Status is the stable external rendering of a Kind.
type Status struct {
	// HTTP is the HTTP status code.
	HTTP int

	// GRPC is the gRPC status code.
	GRPC codes.Code

	// Reason is the machine readable reason. It is unique per Kind.
	Reason string

	// Temporary is true when the caller may retry the same request later.
	Temporary bool
}

var kindStatus = map[Kind]Status{
	KindRateLimitExceeded: {HTTP: http.StatusTooManyRequests, GRPC: codes.ResourceExhausted, Reason: "rate_limit_exceeded", Temporary: true},
	KindCircuitOpen:       {HTTP: http.StatusServiceUnavailable, GRPC: codes.Unavailable, Reason: "circuit_open", Temporary: true},
	KindRouteNotFound:     {HTTP: http.StatusNotFound, GRPC: codes.NotFound, Reason: "route_not_found"},
	KindInvalidToken:      {HTTP: http.StatusUnauthorized, GRPC: codes.Unauthenticated, Reason: "invalid_token"},
	KindExpiredToken:      {HTTP: http.StatusUnauthorized, GRPC: codes.Unauthenticated, Reason: "expired_token"},
	KindForbidden:         {HTTP: http.StatusForbidden, GRPC: codes.PermissionDenied, Reason: "forbidden"},
	KindMissingToken:      {HTTP: http.StatusUnauthorized, GRPC: codes.Unauthenticated, Reason: "missing_token"},
}

var kindSentinel = map[Kind]error{
	KindRateLimitExceeded: ErrRateLimited,
	KindCircuitOpen:       ErrCircuitOpen,
	KindRouteNotFound:     ErrRouteNotFound,
	KindInvalidToken:      ErrInvalidToken,
	KindExpiredToken:      ErrExpiredToken,
	KindForbidden:         ErrForbidden,
	KindMissingToken:      ErrMissingToken,
}

// String returns the reason code of the kind.
func (k Kind) String() string {
	if s, ok := kindStatus[k]; ok {
		return s.Reason
	}
	return "unknown"
}

// Status returns the external status of the kind.
func (k Kind) Status() Status {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return Status{HTTP: http.StatusInternalServerError, GRPC: codes.Internal, Reason: "internal_error"}
}

// Sentinel returns the sentinel error of the kind, or nil for KindUnknown.
func (k Kind) Sentinel() error {
	return kindSentinel[k]
}

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	for k, sentinel := range kindSentinel {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindUnknown
}

// StatusOf returns the external status for err.
func StatusOf(err error) Status {
	return KindOf(err).Status()
}

// AdmissionError is returned by the pipeline when a stage rejects a request.
type AdmissionError struct {
	Kind       Kind
	Stage      string
	Message    string
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	msg := e.Message
	if msg == "" {
		if s := e.Kind.Sentinel(); s != nil {
			msg = s.Error()
		} else {
			msg = "request rejected"
		}
	}
	if e.Cause != nil && !errors.Is(e.Kind.Sentinel(), e.Cause) {
		return fmt.Sprintf("%s: %s: %v", e.Stage, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, msg)
}

// Unwrap returns the underlying error.
func (e *AdmissionError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *AdmissionError) Is(target error) bool {
	if s := e.Kind.Sentinel(); s != nil && target == s {
		return true
	}
	_, ok := target.(*AdmissionError)
	return ok
}

// Status returns the external status of the rejection.
func (e *AdmissionError) Status() Status {
	return e.Kind.Status()
}

// NewAdmissionError creates a new AdmissionError.
func NewAdmissionError(kind Kind, stage, message string, cause error) *AdmissionError {
	return &AdmissionError{Kind: kind, Stage: stage, Message: message, Cause: cause}
}

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsTemporary returns true if the caller may retry the rejected request later.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	return StatusOf(err).Temporary
}

// IsClientError returns true if the rejection is attributable to the caller.
func IsClientError(err error) bool {
	if err == nil {
		return false
	}
	code := StatusOf(err).HTTP
	return code >= 400 && code < 500
}
