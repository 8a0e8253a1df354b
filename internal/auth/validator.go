package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vyrodovalexey/avagate/internal/observability"
)

// AlgHS256 is the only accepted signing algorithm.
const AlgHS256 = "HS256"

// MinSecretLength is the minimum HMAC secret length in bytes.
const MinSecretLength = 16

// ErrWeakSecret is returned for secrets shorter than MinSecretLength.
var ErrWeakSecret = fmt.Errorf("secret must be at least %d bytes", MinSecretLength)

// Config holds token validation settings.
type Config struct {
	// Secret is the shared HMAC key.
	Secret []byte

	// ClockSkew is tolerated past the expiry instant.
	ClockSkew time.Duration

	// Issuer, when set, must equal the iss claim.
	Issuer string
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Secret) < MinSecretLength {
		return ErrWeakSecret
	}
	if c.ClockSkew < 0 {
		return errors.New("clock skew must not be negative")
	}
	return nil
}

// Validator verifies HS256 bearer tokens. It is safe for concurrent use and
// never performs I/O.
type Validator struct {
	secret    []byte
	clockSkew time.Duration
	issuer    string
	now       func() time.Time
	logger    observability.Logger
	metrics   *Metrics
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*Validator)

// WithClock sets the time source.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// WithValidatorLogger sets the logger for the validator.
func WithValidatorLogger(logger observability.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithValidatorMetrics sets the metrics for the validator.
func WithValidatorMetrics(metrics *Metrics) ValidatorOption {
	return func(v *Validator) {
		v.metrics = metrics
	}
}

// NewValidator creates a new token validator.
func NewValidator(config Config, opts ...ValidatorOption) (*Validator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	secret := make([]byte, len(config.Secret))
	copy(secret, config.Secret)

	v := &Validator{
		secret:    secret,
		clockSkew: config.ClockSkew,
		issuer:    config.Issuer,
		now:       time.Now,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.metrics == nil {
		v.metrics = DefaultMetrics()
	}
	return v, nil
}

// Validate verifies raw at the validator's clock.
func (v *Validator) Validate(raw string) (*Token, error) {
	return v.ValidateAt(raw, v.now())
}

// ValidateAt verifies raw as of now. Failures wrap util.ErrInvalidToken, or
// util.ErrExpiredToken when the token is well formed but past its expiry.
func (v *Validator) ValidateAt(raw string, now time.Time) (*Token, error) {
	token, err := v.validate(raw, now)
	if err != nil {
		v.metrics.RecordValidation(reasonLabel(err))
		v.logger.Debug("token rejected", observability.Error(err))
		return nil, err
	}
	v.metrics.RecordValidation("valid")
	return token, nil
}

func (v *Validator) validate(raw string, now time.Time) (*Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, invalid(ErrMalformed, fmt.Sprintf("expected 3 segments, got %d", len(parts)))
	}

	headerJSON, err := decodeSegment(parts[0])
	if err != nil {
		return nil, invalid(ErrMalformed, "header: "+err.Error())
	}
	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return nil, invalid(ErrMalformed, "header: "+err.Error())
	}
	if h.Algorithm != AlgHS256 {
		return nil, invalid(ErrUnsupportedAlgorithm, h.Algorithm)
	}

	// Compared in encoded form: every character of the segment counts.
	expected := base64.RawURLEncoding.EncodeToString(v.sign(parts[0] + "." + parts[1]))
	if !hmac.Equal([]byte(parts[2]), []byte(expected)) {
		return nil, invalid(ErrBadSignature, "")
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, invalid(ErrMalformed, "payload: "+err.Error())
	}
	var claims Claims
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return nil, invalid(ErrMalformed, "payload: "+err.Error())
	}

	if claims.Subject == "" {
		return nil, invalid(ErrMissingClaim, "sub")
	}
	if claims.ExpiresAt == nil {
		return nil, invalid(ErrMissingClaim, "exp")
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, invalid(ErrInvalidIssuer, claims.Issuer)
	}
	if !now.Before(claims.ExpiresAt.Add(v.clockSkew)) {
		return nil, expired(fmt.Sprintf("expired at %s", claims.ExpiresAt.UTC().Format(time.RFC3339)))
	}

	return claims.token(), nil
}

func (v *Validator) sign(signingInput string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(signingInput))
	return mac.Sum(nil)
}

// decodeSegment decodes canonical base64url without padding.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.Strict().DecodeString(s)
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrMissingClaim):
		return "missing_claim"
	case errors.Is(err, ErrInvalidIssuer):
		return "invalid_issuer"
	default:
		return "expired"
	}
}
