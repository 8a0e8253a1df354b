// Package secrets resolves key material referenced by the gateway
// configuration from environment variables, local files or HashiCorp Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/avagate/internal/util"
)

// ProviderType represents the type of secrets provider
type ProviderType string

const (
	// ProviderTypeEnv uses environment variables as the backend
	ProviderTypeEnv ProviderType = "env"
	// ProviderTypeLocal uses local files as the backend
	ProviderTypeLocal ProviderType = "local"
	// ProviderTypeVault uses HashiCorp Vault as the backend
	ProviderTypeVault ProviderType = "vault"
)

// Common errors for secrets providers
var (
	// ErrSecretNotFound is returned when a secret or key is not found
	ErrSecretNotFound = util.ErrSecretNotFound
	// ErrProviderNotConfigured is returned when the provider is not properly configured
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrInvalidPath is returned when the secret path is invalid
	ErrInvalidPath = errors.New("invalid secret path")
	// ErrInvalidProviderType is returned when an unknown provider type is specified
	ErrInvalidProviderType = errors.New("invalid provider type")
)

// Secret represents a secret with key-value data
type Secret struct {
	// Name is the path the secret was read from
	Name string
	// Data contains the secret key-value pairs
	Data map[string][]byte
	// Metadata contains additional metadata about the secret
	Metadata map[string]string
	// Version is the version of the secret (if supported by the provider)
	Version string
	// UpdatedAt is when the secret was last updated
	UpdatedAt *time.Time
}

// GetString returns a string value from the secret data
func (s *Secret) GetString(key string) (string, bool) {
	v, ok := s.GetBytes(key)
	return string(v), ok
}

// GetBytes returns a byte slice value from the secret data
func (s *Secret) GetBytes(key string) ([]byte, bool) {
	if s == nil || s.Data == nil {
		return nil, false
	}
	v, ok := s.Data[key]
	return v, ok
}

// Provider is the interface for secrets providers
type Provider interface {
	// Type returns the provider type
	Type() ProviderType

	// GetSecret retrieves a secret by path. Path format depends on the provider:
	// - env: "jwt-secret" (maps to AVAGATE_SECRET_JWT_SECRET)
	// - local: "jwt" (base-path/jwt/, base-path/jwt.yaml or base-path/jwt.json)
	// - vault: "gateway/jwt" (KV v2 under the configured mount)
	GetSecret(ctx context.Context, path string) (*Secret, error)

	// HealthCheck checks provider connectivity
	HealthCheck(ctx context.Context) error

	// Close cleans up provider resources
	Close() error
}

// Resolve reads key of the secret at path. An empty key selects "value".
func Resolve(ctx context.Context, p Provider, path, key string) ([]byte, error) {
	if key == "" {
		key = "value"
	}
	secret, err := p.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}
	v, ok := secret.GetBytes(key)
	if !ok {
		return nil, fmt.Errorf("%w: key %q in %s secret %s", ErrSecretNotFound, key, p.Type(), path)
	}
	return v, nil
}

// Prometheus metrics for secrets provider operations
var (
	secretsOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "avagate",
			Subsystem: "secrets",
			Name:      "operation_duration_seconds",
			Help:      "Duration of secrets provider operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "result"},
	)

	secretsProviderHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "avagate",
			Subsystem: "secrets",
			Name:      "provider_healthy",
			Help:      "Whether the secrets provider is healthy (1) or not (0)",
		},
		[]string{"provider"},
	)
)

// RecordOperation records metrics for a secrets provider operation
func RecordOperation(provider ProviderType, operation string, duration time.Duration, err error) {
	result := "success"
	switch {
	case errors.Is(err, ErrSecretNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	secretsOperationDuration.WithLabelValues(string(provider), operation, result).Observe(duration.Seconds())
}

// RecordHealthStatus records the health status of a provider
func RecordHealthStatus(provider ProviderType, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	secretsProviderHealth.WithLabelValues(string(provider)).Set(value)
}

// ValidateProviderType validates that the given string is a valid provider type
func ValidateProviderType(providerType string) (ProviderType, error) {
	switch ProviderType(providerType) {
	case ProviderTypeVault, ProviderTypeLocal, ProviderTypeEnv:
		return ProviderType(providerType), nil
	default:
		return "", fmt.Errorf("%w: %s, must be one of: env, local, vault", ErrInvalidProviderType, providerType)
	}
}
