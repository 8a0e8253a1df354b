package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProviderConfig selects and configures one provider.
type ProviderConfig struct {
	Type  ProviderType
	Env   *EnvProviderConfig
	Local *LocalProviderConfig
	Vault *VaultProviderConfig
	// Logger is passed to providers whose config has none.
	Logger *zap.Logger
}

// NewProvider creates the provider selected by cfg.Type.
func NewProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}
	providerType, err := ValidateProviderType(string(cfg.Type))
	if err != nil {
		return nil, err
	}

	switch providerType {
	case ProviderTypeEnv:
		envCfg := cfg.Env
		if envCfg == nil {
			envCfg = &EnvProviderConfig{}
		}
		if envCfg.Logger == nil {
			envCfg.Logger = cfg.Logger
		}
		return NewEnvProvider(envCfg), nil

	case ProviderTypeLocal:
		if cfg.Local == nil {
			return nil, fmt.Errorf("%w: local provider requires a base path", ErrProviderNotConfigured)
		}
		if cfg.Local.Logger == nil {
			cfg.Local.Logger = cfg.Logger
		}
		return NewLocalProvider(cfg.Local)

	default:
		if cfg.Vault == nil {
			return nil, fmt.Errorf("%w: vault provider requires an address", ErrProviderNotConfigured)
		}
		if cfg.Vault.Logger == nil {
			cfg.Vault.Logger = cfg.Logger
		}
		return NewVaultProvider(cfg.Vault)
	}
}

// CachingProvider wraps a provider with a TTL cache so configuration reloads
// do not hit the backend for every unchanged reference.
type CachingProvider struct {
	provider Provider
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	secret    *Secret
	expiresAt time.Time
}

// NewCachingProvider creates a new caching provider wrapper
func NewCachingProvider(provider Provider, ttl time.Duration, logger *zap.Logger) *CachingProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingProvider{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		cache:    make(map[string]cachedSecret),
	}
}

// Type returns the underlying provider type
func (p *CachingProvider) Type() ProviderType {
	return p.provider.Type()
}

// GetSecret retrieves a secret, using cache if available. Errors are not cached.
func (p *CachingProvider) GetSecret(ctx context.Context, path string) (*Secret, error) {
	now := p.now()

	p.mu.Lock()
	cached, ok := p.cache[path]
	p.mu.Unlock()
	if ok && now.Before(cached.expiresAt) {
		p.logger.Debug("Secret cache hit", zap.String("path", path))
		return cached.secret, nil
	}

	secret, err := p.provider.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[path] = cachedSecret{secret: secret, expiresAt: now.Add(p.ttl)}
	p.mu.Unlock()
	return secret, nil
}

// HealthCheck delegates to the underlying provider
func (p *CachingProvider) HealthCheck(ctx context.Context) error {
	return p.provider.HealthCheck(ctx)
}

// Close closes the underlying provider
func (p *CachingProvider) Close() error {
	p.ClearCache()
	return p.provider.Close()
}

// ClearCache clears all cached secrets
func (p *CachingProvider) ClearCache() {
	p.mu.Lock()
	p.cache = make(map[string]cachedSecret)
	p.mu.Unlock()
}
