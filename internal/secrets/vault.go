package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// VaultProviderConfig holds configuration for the Vault secrets provider
type VaultProviderConfig struct {
	// Address is the Vault server address
	Address string
	// Token is the Vault token; empty falls back to VAULT_TOKEN
	Token string
	// Namespace is the Vault namespace (Enterprise only)
	Namespace string
	// MountPath is the KV v2 secrets engine mount point. Default: "secret"
	MountPath string
	// Timeout is the request timeout. Default: 10s
	Timeout time.Duration
	// MaxRetries is the maximum number of retries on 5xx. Default: 2, negative disables
	MaxRetries int
	// Logger is the logger instance
	Logger *zap.Logger
}

// VaultProvider reads secrets from a Vault KV v2 engine.
type VaultProvider struct {
	client    *vaultapi.Client
	kv        *vaultapi.KVv2
	mountPath string
	logger    *zap.Logger
}

// NewVaultProvider creates a new Vault secrets provider
func NewVaultProvider(cfg *VaultProviderConfig) (*VaultProvider, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderNotConfigured)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mountPath := cfg.MountPath
	if mountPath == "" {
		mountPath = "secret"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = 2
	case maxRetries < 0:
		maxRetries = 0
	}

	apiConfig := vaultapi.DefaultConfig()
	if apiConfig.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", apiConfig.Error)
	}
	apiConfig.Address = cfg.Address
	apiConfig.Timeout = timeout
	apiConfig.MaxRetries = maxRetries

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if client.Token() == "" {
		return nil, fmt.Errorf("%w: vault token is required", ErrProviderNotConfigured)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	logger.Info("Vault secrets provider created",
		zap.String("address", cfg.Address),
		zap.String("mount", mountPath),
	)

	return &VaultProvider{
		client:    client,
		kv:        client.KVv2(mountPath),
		mountPath: mountPath,
		logger:    logger,
	}, nil
}

// Type returns the provider type
func (p *VaultProvider) Type() ProviderType {
	return ProviderTypeVault
}

// GetSecret retrieves the latest version of the KV v2 secret at path.
func (p *VaultProvider) GetSecret(ctx context.Context, path string) (*Secret, error) {
	start := time.Now()

	if path == "" {
		RecordOperation(p.Type(), "get", time.Since(start), ErrInvalidPath)
		return nil, ErrInvalidPath
	}

	kvSecret, err := p.kv.Get(ctx, path)
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			err = fmt.Errorf("%w: %s/%s", ErrSecretNotFound, p.mountPath, path)
		} else {
			err = fmt.Errorf("failed to read vault secret %s/%s: %w", p.mountPath, path, err)
		}
		RecordOperation(p.Type(), "get", time.Since(start), err)
		return nil, err
	}
	if kvSecret.Data == nil {
		err := fmt.Errorf("%w: %s/%s is deleted", ErrSecretNotFound, p.mountPath, path)
		RecordOperation(p.Type(), "get", time.Since(start), err)
		return nil, err
	}

	data := make(map[string][]byte, len(kvSecret.Data))
	for k, v := range kvSecret.Data {
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

	secret := &Secret{
		Name:     path,
		Data:     data,
		Metadata: map[string]string{"source": "vault", "mount": p.mountPath},
	}
	if md := kvSecret.VersionMetadata; md != nil {
		secret.Version = strconv.Itoa(md.Version)
		if !md.CreatedTime.IsZero() {
			created := md.CreatedTime
			secret.UpdatedAt = &created
		}
	}

	p.logger.Debug("Retrieved secret from vault",
		zap.String("path", path),
		zap.String("version", secret.Version),
	)
	RecordOperation(p.Type(), "get", time.Since(start), nil)
	return secret, nil
}

// HealthCheck queries the Vault health endpoint.
func (p *VaultProvider) HealthCheck(ctx context.Context) error {
	health, err := p.client.Sys().HealthWithContext(ctx)
	if err != nil {
		RecordHealthStatus(p.Type(), false)
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		RecordHealthStatus(p.Type(), false)
		return fmt.Errorf("vault is sealed")
	}
	RecordHealthStatus(p.Type(), true)
	return nil
}

// Close cleans up provider resources
func (p *VaultProvider) Close() error {
	p.client.ClearToken()
	return nil
}
