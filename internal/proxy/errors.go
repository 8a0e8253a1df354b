package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for proxy operations.
var (
	// ErrNoAdmission indicates the request reached the proxy without
	// passing admission.
	ErrNoAdmission = errors.New("request was not admitted")

	// ErrInvalidTargetURL indicates that the destination URL is invalid.
	ErrInvalidTargetURL = errors.New("invalid target URL")

	// ErrUpstreamTimeout indicates that the upstream request timed out.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnavailable indicates that the upstream could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ProxyError represents a proxy-related error with details.
type ProxyError struct {
	Op      string // Operation that failed
	Route   string // Route name if applicable
	Target  string // Target URL if applicable
	Message string // Human-readable message
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	msg := fmt.Sprintf("proxy error [%s]", e.Op)
	if e.Route != "" {
		msg += " route=" + e.Route
	}
	if e.Target != "" {
		msg += " target=" + e.Target
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ProxyError) Is(target error) bool {
	_, ok := target.(*ProxyError)
	return ok
}

// NewProxyError creates a new ProxyError.
func NewProxyError(op, route, target, message string, cause error) *ProxyError {
	return &ProxyError{
		Op:      op,
		Route:   route,
		Target:  target,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidTargetError creates an error for an invalid destination URL.
func NewInvalidTargetError(route, target string, cause error) *ProxyError {
	return &ProxyError{
		Op:      "parse_target",
		Route:   route,
		Target:  target,
		Message: "invalid target URL",
		Cause:   fmt.Errorf("%w: %w", ErrInvalidTargetURL, cause),
	}
}

// IsProxyError checks if an error is a ProxyError.
func IsProxyError(err error) bool {
	var proxyErr *ProxyError
	return errors.As(err, &proxyErr)
}
