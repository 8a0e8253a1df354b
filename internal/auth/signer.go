package auth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/vyrodovalexey/avagate/internal/observability"
)

// Signer mints HS256 tokens accepted by a Validator holding the same secret.
type Signer struct {
	secret  []byte
	issuer  string
	now     func() time.Time
	logger  observability.Logger
	metrics *Metrics
}

// SignerOption is a functional option for the signer.
type SignerOption func(*Signer)

// WithSignerClock sets the time source used for iat and exp.
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// WithSignerLogger sets the logger for the signer.
func WithSignerLogger(logger observability.Logger) SignerOption {
	return func(s *Signer) {
		s.logger = logger
	}
}

// WithSignerMetrics sets the metrics for the signer.
func WithSignerMetrics(metrics *Metrics) SignerOption {
	return func(s *Signer) {
		s.metrics = metrics
	}
}

// NewSigner creates a new token signer.
func NewSigner(config Config, opts ...SignerOption) (*Signer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	secret := make([]byte, len(config.Secret))
	copy(secret, config.Secret)

	s := &Signer{
		secret: secret,
		issuer: config.Issuer,
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = DefaultMetrics()
	}
	return s, nil
}

// Sign serializes claims and signs them. The issuer is filled in from the
// config when the claims leave it empty.
func (s *Signer) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}

	headers := jws.NewHeaders()
	if err := headers.Set(jws.TypeKey, "JWT"); err != nil {
		return "", fmt.Errorf("failed to set header: %w", err)
	}

	signed, err := jws.Sign(payload, jws.WithKey(jwa.HS256, s.secret, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.metrics.RecordIssued()
	s.logger.Debug("token issued",
		observability.String("subject", claims.Subject),
		observability.Strings("scopes", claims.scopes()),
	)
	return string(signed), nil
}

// Issue signs a token for subject valid for ttl from now.
func (s *Signer) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	now := s.now()
	return s.Sign(Claims{
		Subject:   subject,
		Scopes:    scopes,
		IssuedAt:  NewNumericDate(now),
		ExpiresAt: NewNumericDate(now.Add(ttl)),
	})
}
