package auth

import (
	"errors"
	"fmt"

	"github.com/vyrodovalexey/avagate/internal/util"
)

// Validation failure reasons. Every one of them wraps util.ErrInvalidToken.
var (
	// ErrMalformed indicates the token is not three base64url segments.
	ErrMalformed = errors.New("token is malformed")

	// ErrUnsupportedAlgorithm indicates the header does not declare HS256.
	ErrUnsupportedAlgorithm = errors.New("signing algorithm is not supported")

	// ErrBadSignature indicates the signature does not match.
	ErrBadSignature = errors.New("token signature is invalid")

	// ErrMissingClaim indicates a required claim is absent.
	ErrMissingClaim = errors.New("required claim is missing")

	// ErrInvalidIssuer indicates the issuer does not match the configured one.
	ErrInvalidIssuer = errors.New("token issuer is invalid")
)

// ValidationError describes why a token was rejected. It matches both its
// reason and the admission sentinel (util.ErrInvalidToken or
// util.ErrExpiredToken) with errors.Is.
type ValidationError struct {
	Kind   error
	Reason error
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return e.Reason.Error()
}

// Unwrap returns the admission sentinel and the reason.
func (e *ValidationError) Unwrap() []error {
	return []error{e.Kind, e.Reason}
}

func invalid(reason error, detail string) error {
	return &ValidationError{Kind: util.ErrInvalidToken, Reason: reason, Detail: detail}
}

func expired(detail string) error {
	return &ValidationError{Kind: util.ErrExpiredToken, Reason: util.ErrExpiredToken, Detail: detail}
}
