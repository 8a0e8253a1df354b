package gateway

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/avagate/internal/auth"
	"github.com/vyrodovalexey/avagate/internal/authz"
	"github.com/vyrodovalexey/avagate/internal/circuitbreaker"
	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
	"github.com/vyrodovalexey/avagate/internal/router"
	"github.com/vyrodovalexey/avagate/internal/secrets"
	"github.com/vyrodovalexey/avagate/internal/util"
)

// Build creates a pipeline and its registries from a validated cfg.
func Build(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, util.NewConfigError("", "configuration is required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	zl := logger.Zap()

	engine, cbConfig := BreakerConfig(cfg.Spec.CircuitBreaker)
	breakers, err := circuitbreaker.NewRegistry(engine, cbConfig, zl)
	if err != nil {
		return nil, util.NewConfigErrorWithCause("spec.circuitBreaker", "invalid circuit breaker", err)
	}

	authorizer, err := authz.New(authz.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	provider, err := NewSecretsProvider(cfg.Spec.Secrets, logger)
	if err != nil {
		return nil, err
	}

	deps := Dependencies{
		Router:     router.New(router.WithLogger(zl)),
		Limiters:   ratelimit.NewRegistry(ratelimit.WithRegistryLogger(zl)),
		Breakers:   breakers,
		Authorizer: authorizer,
		Secrets:    provider,
	}

	opts = append([]Option{
		WithLogger(logger),
		WithRejectionLogRate(cfg.Spec.Observability.Logging.RejectionsPerSecond),
	}, opts...)

	p, err := NewPipeline(deps, Settings{}, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.Reload(ctx, cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload validates cfg, resolves the token secret, compiles routes and
// conditions and only then publishes the new routes, conditions, breaker
// settings and limiter policies. On error nothing changes.
func (p *Pipeline) Reload(ctx context.Context, cfg *config.GatewayConfig) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	err := p.reload(ctx, cfg)
	RecordReload(err)
	if err != nil {
		p.logger.Error("configuration reload failed", observability.Error(err))
		return err
	}

	p.logger.Info("pipeline configuration applied",
		observability.String("name", cfg.Metadata.Name),
		observability.Int("routes", p.router.Len()),
		observability.Bool("auth", p.Settings().Validator != nil),
		observability.Bool("circuit_breakers", p.Settings().Breakers),
	)
	return nil
}

func (p *Pipeline) reload(ctx context.Context, cfg *config.GatewayConfig) error {
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	routes := RoutesFromConfig(cfg.Spec.Routes)
	for i := range routes {
		if _, err := router.Compile(routes[i]); err != nil {
			return err
		}
		if routes[i].Condition == "" {
			continue
		}
		if _, err := p.authorizer.Compile(routes[i].Condition); err != nil {
			return util.NewConfigErrorWithCause(routes[i].Name+".condition", "invalid condition", err)
		}
	}

	settings, err := p.settingsFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	if err := settings.compile(); err != nil {
		return err
	}

	engine, cbConfig := BreakerConfig(cfg.Spec.CircuitBreaker)
	if settings.Breakers {
		if err := cbConfig.Validate(); err != nil {
			return util.NewConfigErrorWithCause("spec.circuitBreaker", "invalid circuit breaker", err)
		}
	}

	if err := p.router.Load(routes, cfg.Spec.DefaultDestination); err != nil {
		return err
	}
	if err := p.authorizer.Load(routes); err != nil {
		return err
	}
	if settings.Breakers {
		if err := p.breakers.Reconfigure(engine, cbConfig); err != nil {
			return err
		}
	}
	return p.Apply(settings)
}

// settingsFromConfig builds the reloadable settings, reading the token
// secret through the secrets provider when referenced.
func (p *Pipeline) settingsFromConfig(ctx context.Context, cfg *config.GatewayConfig) (Settings, error) {
	spec := &cfg.Spec
	settings := Settings{
		RateLimit:     PolicyFromConfig(spec.RateLimit),
		RoutePolicies: make(map[string]*Policy),
		Breakers:      spec.CircuitBreaker != nil && spec.CircuitBreaker.Enabled,
	}
	if settings.RateLimit != nil && settings.RateLimit.Disabled {
		settings.RateLimit = nil
	}
	for i := range spec.Routes {
		if rl := spec.Routes[i].RateLimit; rl != nil {
			settings.RoutePolicies[spec.Routes[i].Name] = PolicyFromConfig(rl)
		}
	}

	if spec.Auth != nil {
		secret, err := p.resolveSecret(ctx, spec)
		if err != nil {
			return Settings{}, err
		}
		validator, err := auth.NewValidator(auth.Config{
			Secret:    secret,
			ClockSkew: spec.Auth.ClockSkew.Duration(),
			Issuer:    spec.Auth.Issuer,
		}, auth.WithValidatorLogger(p.logger))
		if err != nil {
			return Settings{}, util.NewConfigErrorWithCause("spec.auth", "invalid token validator", err)
		}
		settings.Validator = validator
	}
	return settings, nil
}

func (p *Pipeline) resolveSecret(ctx context.Context, spec *config.GatewaySpec) ([]byte, error) {
	a := spec.Auth
	if a.SecretRef == nil {
		return []byte(a.Secret), nil
	}
	if p.secrets == nil {
		provider, err := NewSecretsProvider(spec.Secrets, p.logger)
		if err != nil {
			return nil, err
		}
		if provider == nil {
			return nil, util.NewConfigError("spec.auth.secretRef", "no secrets provider configured")
		}
		p.secrets = provider
	}

	secret, err := secrets.Resolve(ctx, p.secrets, a.SecretRef.Path, a.SecretRef.Key)
	if err != nil {
		return nil, util.NewConfigErrorWithCause("spec.auth.secretRef",
			fmt.Sprintf("failed to resolve %s", a.SecretRef.Path), err)
	}
	return secret, nil
}

// RoutesFromConfig converts route configuration to router routes.
func RoutesFromConfig(routes []config.RouteConfig) []router.Route {
	out := make([]router.Route, 0, len(routes))
	for i := range routes {
		rc := &routes[i]
		out = append(out, router.Route{
			Name:           rc.Name,
			Path:           rc.Path,
			Match:          router.MatchKind(rc.Match),
			Methods:        rc.Methods,
			Destination:    rc.Destination,
			Priority:       rc.Priority,
			AuthRequired:   rc.AuthRequired,
			RequiredScopes: rc.RequiredScopes,
			Condition:      rc.Condition,
			StripPrefix:    rc.StripPrefix,
			Timeout:        rc.Timeout.Duration(),
		})
	}
	return out
}

// PolicyFromConfig converts a rate limit section. A nil section yields nil;
// a disabled one yields a Disabled policy.
func PolicyFromConfig(rl *config.RateLimitConfig) *Policy {
	if rl == nil {
		return nil
	}
	if !rl.Enabled {
		return &Policy{Disabled: true}
	}
	return &Policy{
		Limit: ratelimit.Config{
			Algorithm:   ratelimit.Algorithm(rl.Algorithm),
			Capacity:    rl.Capacity,
			RefillRate:  rl.RefillRate,
			MaxRequests: rl.MaxRequests,
			Window:      rl.Window.Duration(),
		},
		Scope:        ratelimit.Scope(rl.Scope),
		ClientHeader: rl.ClientHeader,
	}
}

// BreakerConfig converts the circuit breaker section. A missing or disabled
// section yields the defaults so breakers can be enabled by a later reload.
func BreakerConfig(cb *config.CircuitBreakerConfig) (circuitbreaker.Engine, *circuitbreaker.Config) {
	if cb == nil || !cb.Enabled {
		return circuitbreaker.EngineNative, circuitbreaker.DefaultConfig()
	}
	return circuitbreaker.Engine(cb.Engine), &circuitbreaker.Config{
		FailureThreshold:    cb.FailureThreshold,
		SuccessThreshold:    cb.SuccessThreshold,
		Timeout:             cb.Timeout.Duration(),
		HalfOpenMaxRequests: cb.HalfOpenMaxRequests,
	}
}

// NewSecretsProvider creates the provider selected by cfg, wrapped in a
// cache when cfg.CacheTTL is set. A nil cfg yields a nil provider.
func NewSecretsProvider(cfg *config.SecretsConfig, logger observability.Logger) (secrets.Provider, error) {
	if cfg == nil {
		return nil, nil
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	zl := logger.Zap()

	pc := &secrets.ProviderConfig{
		Type:   secrets.ProviderType(cfg.Provider),
		Logger: zl,
	}
	if cfg.Env != nil {
		pc.Env = &secrets.EnvProviderConfig{Prefix: cfg.Env.Prefix}
	}
	if cfg.Local != nil {
		pc.Local = &secrets.LocalProviderConfig{BasePath: cfg.Local.BasePath}
	}
	if cfg.Vault != nil {
		pc.Vault = &secrets.VaultProviderConfig{
			Address:    cfg.Vault.Address,
			Token:      cfg.Vault.Token,
			Namespace:  cfg.Vault.Namespace,
			MountPath:  cfg.Vault.MountPath,
			Timeout:    cfg.Vault.Timeout.Duration(),
			MaxRetries: cfg.Vault.MaxRetries,
		}
	}

	provider, err := secrets.NewProvider(pc)
	if err != nil {
		return nil, util.NewConfigErrorWithCause("spec.secrets", "failed to create secrets provider", err)
	}
	if ttl := cfg.CacheTTL.Duration(); ttl > 0 {
		return secrets.NewCachingProvider(provider, ttl, zl), nil
	}
	return provider, nil
}

// Router returns the route table.
func (p *Pipeline) Router() *router.Router {
	return p.router
}

// Limiters returns the rate limiter registry.
func (p *Pipeline) Limiters() *ratelimit.Registry {
	return p.limiters
}

// Breakers returns the circuit breaker registry.
func (p *Pipeline) Breakers() *circuitbreaker.Registry {
	return p.breakers
}

// Secrets returns the secrets provider, or nil.
func (p *Pipeline) Secrets() secrets.Provider {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()
	return p.secrets
}
