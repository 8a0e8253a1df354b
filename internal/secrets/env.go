package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultEnvPrefix is the default prefix for environment variable secrets
const DefaultEnvPrefix = "AVAGATE_SECRET_"

// EnvProviderConfig holds configuration for the environment variable secrets provider
type EnvProviderConfig struct {
	// Prefix is the prefix for environment variables
	// Default: "AVAGATE_SECRET_"
	Prefix string
	// Logger is the logger instance
	Logger *zap.Logger
}

// EnvProvider reads secrets from environment variables.
// Path "jwt-secret" maps to "{PREFIX}JWT_SECRET". A JSON object value is
// split into keys; any other value is stored under the key "value".
type EnvProvider struct {
	prefix string
	lookup func(string) (string, bool)
	logger *zap.Logger
}

// NewEnvProvider creates a new environment variable secrets provider
func NewEnvProvider(cfg *EnvProviderConfig) *EnvProvider {
	if cfg == nil {
		cfg = &EnvProviderConfig{}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EnvProvider{
		prefix: prefix,
		lookup: os.LookupEnv,
		logger: logger,
	}
}

// Type returns the provider type
func (p *EnvProvider) Type() ProviderType {
	return ProviderTypeEnv
}

// envName converts a secret path to an environment variable name.
func (p *EnvProvider) envName(path string) string {
	name := strings.ToUpper(path)
	name = strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(name)
	return p.prefix + name
}

// GetSecret retrieves a secret from environment variables
func (p *EnvProvider) GetSecret(_ context.Context, path string) (*Secret, error) {
	start := time.Now()

	if path == "" {
		RecordOperation(p.Type(), "get", time.Since(start), ErrInvalidPath)
		return nil, ErrInvalidPath
	}

	envName := p.envName(path)
	value, exists := p.lookup(envName)
	if !exists {
		err := fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, envName)
		RecordOperation(p.Type(), "get", time.Since(start), err)
		return nil, err
	}

	data := make(map[string][]byte)

	var jsonData map[string]interface{}
	if err := json.Unmarshal([]byte(value), &jsonData); err == nil {
		for k, v := range jsonData {
			switch val := v.(type) {
			case string:
				data[k] = []byte(val)
			default:
				jsonBytes, err := json.Marshal(val)
				if err != nil {
					p.logger.Warn("Failed to marshal value to JSON",
						zap.String("key", k),
						zap.Error(err),
					)
					continue
				}
				data[k] = jsonBytes
			}
		}
	} else {
		data["value"] = []byte(value)
	}

	p.logger.Debug("Retrieved secret from environment",
		zap.String("path", path),
		zap.String("envVar", envName),
		zap.Int("keys", len(data)),
	)
	RecordOperation(p.Type(), "get", time.Since(start), nil)

	return &Secret{
		Name: path,
		Data: data,
		Metadata: map[string]string{
			"source":  "environment",
			"env_var": envName,
		},
	}, nil
}

// HealthCheck always succeeds; the environment is always available.
func (p *EnvProvider) HealthCheck(context.Context) error {
	RecordHealthStatus(p.Type(), true)
	return nil
}

// Close cleans up provider resources
func (p *EnvProvider) Close() error {
	return nil
}
