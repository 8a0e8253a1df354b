package config

import "time"

// API group and kind accepted in configuration files.
const (
	APIVersion = "gateway.avagate.io/v1"
	Kind       = "Gateway"
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	APIVersion string      `yaml:"apiVersion" json:"apiVersion"`
	Kind       string      `yaml:"kind" json:"kind"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata"`
	Spec       GatewaySpec `yaml:"spec" json:"spec"`
}

// Metadata identifies the gateway instance.
type Metadata struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// GatewaySpec contains the gateway settings.
type GatewaySpec struct {
	Listen             ListenConfig          `yaml:"listen" json:"listen"`
	Routes             []RouteConfig         `yaml:"routes" json:"routes"`
	DefaultDestination string                `yaml:"defaultDestination,omitempty" json:"defaultDestination,omitempty"`
	RateLimit          *RateLimitConfig      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	CircuitBreaker     *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	Auth               *AuthConfig           `yaml:"auth,omitempty" json:"auth,omitempty"`
	Secrets            *SecretsConfig        `yaml:"secrets,omitempty" json:"secrets,omitempty"`
	Observability      ObservabilityConfig   `yaml:"observability" json:"observability"`
}

// ListenConfig configures the gateway sockets.
type ListenConfig struct {
	// Address is the proxy listener address.
	Address string `yaml:"address" json:"address"`

	// AdminAddress serves /metrics and /healthz.
	AdminAddress string `yaml:"adminAddress" json:"adminAddress"`

	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
}

// RouteConfig declares one route.
type RouteConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Path        string   `yaml:"path" json:"path"`
	Match       string   `yaml:"match,omitempty" json:"match,omitempty"`
	Methods     []string `yaml:"methods,omitempty" json:"methods,omitempty"`
	Destination string   `yaml:"destination" json:"destination"`
	Priority    int      `yaml:"priority,omitempty" json:"priority,omitempty"`

	AuthRequired   bool     `yaml:"authRequired,omitempty" json:"authRequired,omitempty"`
	RequiredScopes []string `yaml:"requiredScopes,omitempty" json:"requiredScopes,omitempty"`
	Condition      string   `yaml:"condition,omitempty" json:"condition,omitempty"`

	StripPrefix bool     `yaml:"stripPrefix,omitempty" json:"stripPrefix,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// RateLimit overrides the global policy for this route.
	RateLimit *RateLimitConfig `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
}

// RateLimitConfig configures a limiter policy.
type RateLimitConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Algorithm string `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`

	// Token bucket.
	Capacity   int     `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	RefillRate float64 `yaml:"refillRate,omitempty" json:"refillRate,omitempty"`

	// Sliding window.
	MaxRequests int      `yaml:"maxRequests,omitempty" json:"maxRequests,omitempty"`
	Window      Duration `yaml:"window,omitempty" json:"window,omitempty"`

	// Scope is one of global, client, route, route_client.
	Scope string `yaml:"scope,omitempty" json:"scope,omitempty"`

	// ClientHeader identifies clients for the client scopes.
	ClientHeader string `yaml:"clientHeader,omitempty" json:"clientHeader,omitempty"`

	// SweepInterval is how often idle limiters are dropped.
	SweepInterval Duration `yaml:"sweepInterval,omitempty" json:"sweepInterval,omitempty"`
}

// CircuitBreakerConfig configures the per-destination breakers.
type CircuitBreakerConfig struct {
	Enabled             bool     `yaml:"enabled" json:"enabled"`
	Engine              string   `yaml:"engine,omitempty" json:"engine,omitempty"`
	FailureThreshold    int      `yaml:"failureThreshold" json:"failureThreshold"`
	SuccessThreshold    int      `yaml:"successThreshold" json:"successThreshold"`
	Timeout             Duration `yaml:"timeout" json:"timeout"`
	HalfOpenMaxRequests int      `yaml:"halfOpenMaxRequests,omitempty" json:"halfOpenMaxRequests,omitempty"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	// Secret is the inline HMAC key. Prefer SecretRef.
	Secret    string     `yaml:"secret,omitempty" json:"-"`
	SecretRef *SecretRef `yaml:"secretRef,omitempty" json:"secretRef,omitempty"`
	ClockSkew Duration   `yaml:"clockSkew,omitempty" json:"clockSkew,omitempty"`
	Issuer    string     `yaml:"issuer,omitempty" json:"issuer,omitempty"`
}

// SecretRef points at a value held by the secrets provider.
type SecretRef struct {
	Path string `yaml:"path" json:"path"`
	// Key within the secret; empty means "value".
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
}

// SecretsConfig selects the secrets provider.
type SecretsConfig struct {
	// Provider is one of env, local, vault.
	Provider string `yaml:"provider" json:"provider"`

	// CacheTTL caches resolved secrets between reloads; zero disables caching.
	CacheTTL Duration `yaml:"cacheTTL,omitempty" json:"cacheTTL,omitempty"`

	Env   *EnvSecretsConfig   `yaml:"env,omitempty" json:"env,omitempty"`
	Local *LocalSecretsConfig `yaml:"local,omitempty" json:"local,omitempty"`
	Vault *VaultSecretsConfig `yaml:"vault,omitempty" json:"vault,omitempty"`
}

// EnvSecretsConfig configures the environment provider.
type EnvSecretsConfig struct {
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// LocalSecretsConfig configures the file provider.
type LocalSecretsConfig struct {
	BasePath string `yaml:"basePath" json:"basePath"`
}

// VaultSecretsConfig configures the Vault KV v2 provider.
type VaultSecretsConfig struct {
	Address    string   `yaml:"address" json:"address"`
	Token      string   `yaml:"token,omitempty" json:"-"`
	Namespace  string   `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	MountPath  string   `yaml:"mountPath,omitempty" json:"mountPath,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries int      `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig  `yaml:"logging" json:"logging"`
	Tracing *TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// RejectionsPerSecond throttles rejection logs; zero logs every rejection.
	RejectionsPerSecond float64 `yaml:"rejectionsPerSecond,omitempty" json:"rejectionsPerSecond,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// Defaults.
const (
	DefaultListenAddress      = ":8080"
	DefaultAdminAddress       = ":9090"
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 30 * time.Second
	DefaultIdleTimeout        = 120 * time.Second
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultRateLimitAlgorithm = "token_bucket"
	DefaultRateLimitScope     = "client"
	DefaultSweepInterval      = time.Minute
	DefaultBreakerEngine      = "native"
	DefaultServiceName        = "avagate"
)

// DefaultConfig returns a configuration with every default applied and no routes.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{
		APIVersion: APIVersion,
		Kind:       Kind,
		Metadata:   Metadata{Name: "avagate"},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields. Thresholds are never defaulted; a zero
// threshold is left for validation to reject.
func (c *GatewayConfig) ApplyDefaults() {
	l := &c.Spec.Listen
	if l.Address == "" {
		l.Address = DefaultListenAddress
	}
	if l.AdminAddress == "" {
		l.AdminAddress = DefaultAdminAddress
	}
	if l.ReadTimeout == 0 {
		l.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if l.WriteTimeout == 0 {
		l.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if l.IdleTimeout == 0 {
		l.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if l.ShutdownTimeout == 0 {
		l.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}

	if c.Spec.RateLimit != nil {
		c.Spec.RateLimit.applyDefaults(DefaultRateLimitScope)
	}
	for i := range c.Spec.Routes {
		if rl := c.Spec.Routes[i].RateLimit; rl != nil {
			scope := DefaultRateLimitScope
			if c.Spec.RateLimit != nil {
				scope = c.Spec.RateLimit.Scope
			}
			rl.applyDefaults(scope)
		}
	}

	if cb := c.Spec.CircuitBreaker; cb != nil && cb.Engine == "" {
		cb.Engine = DefaultBreakerEngine
	}

	lg := &c.Spec.Observability.Logging
	if lg.Level == "" {
		lg.Level = "info"
	}
	if lg.Format == "" {
		lg.Format = "json"
	}
	if lg.Output == "" {
		lg.Output = "stdout"
	}
	if tr := c.Spec.Observability.Tracing; tr != nil {
		if tr.ServiceName == "" {
			tr.ServiceName = DefaultServiceName
		}
		if tr.SamplingRate == 0 {
			tr.SamplingRate = 1
		}
	}
}

func (r *RateLimitConfig) applyDefaults(scope string) {
	if r.Algorithm == "" {
		r.Algorithm = DefaultRateLimitAlgorithm
	}
	if r.Scope == "" {
		r.Scope = scope
	}
	if r.SweepInterval == 0 {
		r.SweepInterval = Duration(DefaultSweepInterval)
	}
}

// Route returns the route named name, or nil.
func (c *GatewayConfig) Route(name string) *RouteConfig {
	for i := range c.Spec.Routes {
		if c.Spec.Routes[i].Name == name {
			return &c.Spec.Routes[i]
		}
	}
	return nil
}
