package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/avagate/internal/util"
)

// validConfigYAML is a complete valid configuration for testing.
const validConfigYAML = `
apiVersion: gateway.avagate.io/v1
kind: Gateway
metadata:
  name: test-gateway
spec:
  listen:
    address: ":8080"
    adminAddress: ":9090"
  defaultDestination: http://fallback:8080
  routes:
    - name: users
      path: /api/users/{id}
      methods: [GET, PUT]
      destination: http://users:8080
      priority: 100
      requiredScopes: [users:read]
      condition: token.sub == request.params.id
    - name: api
      path: /api
      destination: http://api:8080
      priority: 50
      stripPrefix: true
      timeout: 5s
      rateLimit:
        enabled: true
        algorithm: sliding_window
        maxRequests: 10
        window: 1m
  rateLimit:
    enabled: true
    capacity: 100
    refillRate: 10
    clientHeader: X-API-Key
  circuitBreaker:
    enabled: true
    failureThreshold: 5
    successThreshold: 2
    timeout: 30s
  auth:
    secretRef:
      path: jwt
      key: secret
    clockSkew: 30s
    issuer: avagate
  secrets:
    provider: env
  observability:
    logging:
      level: debug
      format: console
`

func TestLoadConfigFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(validConfigYAML))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(cfg))

	assert.Equal(t, "test-gateway", cfg.Metadata.Name)
	require.Len(t, cfg.Spec.Routes, 2)

	users := cfg.Route("users")
	require.NotNil(t, users)
	assert.Equal(t, []string{"GET", "PUT"}, users.Methods)
	assert.Equal(t, []string{"users:read"}, users.RequiredScopes)
	assert.Equal(t, 100, users.Priority)

	api := cfg.Route("api")
	require.NotNil(t, api)
	assert.True(t, api.StripPrefix)
	assert.Equal(t, 5*time.Second, api.Timeout.Duration())
	require.NotNil(t, api.RateLimit)
	assert.Equal(t, time.Minute, api.RateLimit.Window.Duration())
	// Route policies inherit the global scope.
	assert.Equal(t, "client", api.RateLimit.Scope)

	assert.Nil(t, cfg.Route("missing"))

	rl := cfg.Spec.RateLimit
	assert.Equal(t, "token_bucket", rl.Algorithm)
	assert.Equal(t, "client", rl.Scope)
	assert.Equal(t, DefaultSweepInterval, rl.SweepInterval.Duration())

	assert.Equal(t, "native", cfg.Spec.CircuitBreaker.Engine)
	assert.Equal(t, 30*time.Second, cfg.Spec.Auth.ClockSkew.Duration())
	assert.Equal(t, "secret", cfg.Spec.Auth.SecretRef.Key)
	assert.Equal(t, "console", cfg.Spec.Observability.Logging.Format)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Spec.Listen.ShutdownTimeout.Duration())
}

func TestLoader_EnvSubstitution(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"GW_NAME":   "from-env",
		"GW_SECRET": "0123456789abcdef0123",
	}
	loader := NewLoader(WithLookupEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set variable", "${GW_NAME}", "from-env"},
		{"default unused", "${GW_NAME:-other}", "from-env"},
		{"default used", "${GW_MISSING:-fallback}", "fallback"},
		{"unset without default", "x${GW_MISSING}y", "xy"},
		{"empty default", "${GW_MISSING:-}", ""},
		{"escaped dollar", "$${GW_NAME}", "${GW_NAME}"},
		{"plain dollar", "cost: $5", "cost: $5"},
		{"several", "${GW_NAME}/${GW_SECRET}", "from-env/0123456789abcdef0123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loader.substituteEnvVars(tt.input))
		})
	}

	cfg, err := loader.Parse([]byte(`
apiVersion: gateway.avagate.io/v1
kind: Gateway
metadata:
  name: ${GW_NAME}
spec:
  auth:
    secret: ${GW_SECRET}
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Metadata.Name)
	assert.Equal(t, "0123456789abcdef0123", cfg.Spec.Auth.Secret)
}

func TestLoader_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewLoader().Parse(nil)
	assert.Error(t, err)

	_, err = NewLoader().Parse([]byte("spec: [unterminated"))
	assert.Error(t, err)

	unknown := []byte("apiVersion: gateway.avagate.io/v1\nkind: Gateway\nspec:\n  routez: []\n")
	_, err = NewLoader().Parse(unknown)
	assert.Error(t, err)

	cfg, err := NewLoader(WithStrict(false)).Parse(unknown)
	require.NoError(t, err)
	assert.Equal(t, Kind, cfg.Kind)

	_, err = LoadConfig("/nonexistent/gateway.yaml")
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{`"30s"`, 30 * time.Second, false},
		{`"1h30m"`, 90 * time.Minute, false},
		{`"250ms"`, 250 * time.Millisecond, false},
		{`""`, 0, false},
		{`null`, 0, false},
		{`45`, 45 * time.Second, false},
		{`"45"`, 45 * time.Second, false},
		{`"soon"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var fromJSON Duration
			err := json.Unmarshal([]byte(tt.input), &fromJSON)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, fromJSON.Duration())
			}

			var fromYAML struct {
				D Duration `yaml:"d"`
			}
			err = yaml.Unmarshal([]byte("d: "+tt.input), &fromYAML)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, fromYAML.D.Duration())
			}
		})
	}

	out, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))

	y, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, "d: 1m0s\n", string(y))
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, ValidateConfig(cfg))
	assert.Equal(t, DefaultListenAddress, cfg.Spec.Listen.Address)
	assert.Equal(t, DefaultAdminAddress, cfg.Spec.Listen.AdminAddress)
	assert.Equal(t, "info", cfg.Spec.Observability.Logging.Level)
	assert.Empty(t, cfg.Spec.Routes)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	base := func() *GatewayConfig {
		cfg, err := LoadConfigFromReader(strings.NewReader(validConfigYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*GatewayConfig)
		paths  []string
	}{
		{
			name:   "wrong kind and version",
			mutate: func(c *GatewayConfig) { c.Kind = "Ingress"; c.APIVersion = "v1" },
			paths:  []string{"apiVersion", "kind"},
		},
		{
			name:   "duplicate route",
			mutate: func(c *GatewayConfig) { c.Spec.Routes[1].Name = "users" },
			paths:  []string{"spec.routes[1].name"},
		},
		{
			name: "bad route fields",
			mutate: func(c *GatewayConfig) {
				r := &c.Spec.Routes[0]
				r.Path = "api"
				r.Destination = "users:8080"
				r.Methods = []string{"FETCH"}
				r.RequiredScopes = []string{"a b"}
				r.Timeout = -1
			},
			paths: []string{
				"spec.routes[0].path",
				"spec.routes[0].destination",
				"spec.routes[0].methods[0]",
				"spec.routes[0].requiredScopes[0]",
				"spec.routes[0].timeout",
			},
		},
		{
			name:   "bad regex",
			mutate: func(c *GatewayConfig) { c.Spec.Routes[0].Match = "regex"; c.Spec.Routes[0].Path = "^/(" },
			paths:  []string{"spec.routes[0].path"},
		},
		{
			name:   "unknown match kind",
			mutate: func(c *GatewayConfig) { c.Spec.Routes[0].Match = "glob" },
			paths:  []string{"spec.routes[0].match"},
		},
		{
			name: "zero breaker thresholds",
			mutate: func(c *GatewayConfig) {
				c.Spec.CircuitBreaker.FailureThreshold = 0
				c.Spec.CircuitBreaker.SuccessThreshold = -1
				c.Spec.CircuitBreaker.Timeout = 0
			},
			paths: []string{
				"spec.circuitBreaker.failureThreshold",
				"spec.circuitBreaker.successThreshold",
				"spec.circuitBreaker.timeout",
			},
		},
		{
			name:   "half-open below success threshold",
			mutate: func(c *GatewayConfig) { c.Spec.CircuitBreaker.HalfOpenMaxRequests = 1 },
			paths:  []string{"spec.circuitBreaker.halfOpenMaxRequests"},
		},
		{
			name: "disabled breaker is not validated",
			mutate: func(c *GatewayConfig) {
				c.Spec.CircuitBreaker.Enabled = false
				c.Spec.CircuitBreaker.FailureThreshold = 0
			},
		},
		{
			name: "bad rate limits",
			mutate: func(c *GatewayConfig) {
				c.Spec.RateLimit.Capacity = 0
				c.Spec.RateLimit.Scope = "tenant"
				c.Spec.Routes[1].RateLimit.Window = 0
			},
			paths: []string{
				"spec.routes[1].rateLimit.window",
				"spec.rateLimit.capacity",
				"spec.rateLimit.scope",
			},
		},
		{
			name:   "unknown algorithm",
			mutate: func(c *GatewayConfig) { c.Spec.RateLimit.Algorithm = "leaky_bucket" },
			paths:  []string{"spec.rateLimit.algorithm"},
		},
		{
			name: "auth secret and ref",
			mutate: func(c *GatewayConfig) {
				c.Spec.Auth.Secret = "0123456789abcdef"
			},
			paths: []string{"spec.auth"},
		},
		{
			name: "short inline secret",
			mutate: func(c *GatewayConfig) {
				c.Spec.Auth.SecretRef = nil
				c.Spec.Auth.Secret = "short"
			},
			paths: []string{"spec.auth.secret"},
		},
		{
			name:   "ref without provider",
			mutate: func(c *GatewayConfig) { c.Spec.Secrets = nil },
			paths:  []string{"spec.auth.secretRef"},
		},
		{
			name:   "scopes without auth",
			mutate: func(c *GatewayConfig) { c.Spec.Auth = nil },
			paths:  []string{"spec.routes[0]"},
		},
		{
			name: "vault without address",
			mutate: func(c *GatewayConfig) {
				c.Spec.Secrets.Provider = "vault"
			},
			paths: []string{"spec.secrets.vault.address"},
		},
		{
			name: "logging and tracing",
			mutate: func(c *GatewayConfig) {
				c.Spec.Observability.Logging.Level = "trace"
				c.Spec.Observability.Tracing = &TracingConfig{Enabled: true, SamplingRate: 2}
			},
			paths: []string{
				"spec.observability.logging.level",
				"spec.observability.tracing.samplingRate",
			},
		},
		{
			name:   "same listen addresses",
			mutate: func(c *GatewayConfig) { c.Spec.Listen.AdminAddress = c.Spec.Listen.Address },
			paths:  []string{"spec.listen.adminAddress"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if len(tt.paths) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, util.ErrConfigInvalid)
			verrs, ok := AsValidationErrors(err)
			require.True(t, ok)
			assert.Equal(t, tt.paths, verrs.Paths())
		})
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(nil)
	require.Error(t, err)
	assert.Equal(t, "configuration is nil", err.Error())
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())
	assert.Equal(t, "a: bad", ValidationErrors{{Path: "a", Message: "bad"}}.Error())

	msg := ValidationErrors{{Path: "a", Message: "bad"}, {Message: "worse"}}.Error()
	assert.Contains(t, msg, "2 validation errors")
	assert.Contains(t, msg, "1. a: bad")
	assert.Contains(t, msg, "2. worse")
}
