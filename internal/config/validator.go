package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vyrodovalexey/avagate/internal/util"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// Is makes every validation failure match util.ErrConfigInvalid.
func (e ValidationErrors) Is(target error) bool {
	return target == util.ErrConfigInvalid
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Paths returns the path of every error, in order.
func (e ValidationErrors) Paths() []string {
	paths := make([]string, len(e))
	for i := range e {
		paths[i] = e[i].Path
	}
	return paths
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	return NewValidator().Validate(config)
}

// Validate validates the configuration and returns every problem found as
// ValidationErrors, or nil.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(config)
	v.validateSpec(&config.Spec)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// validateRoot validates root-level fields.
func (v *Validator) validateRoot(config *GatewayConfig) {
	if config.APIVersion == "" {
		v.addError("apiVersion", "apiVersion is required")
	} else if config.APIVersion != APIVersion {
		v.addError("apiVersion", fmt.Sprintf("apiVersion must be %q", APIVersion))
	}

	if config.Kind == "" {
		v.addError("kind", "kind is required")
	} else if config.Kind != Kind {
		v.addError("kind", fmt.Sprintf("kind must be %q", Kind))
	}

	if config.Metadata.Name == "" {
		v.addError("metadata.name", "name is required")
	}
}

// validateSpec validates the gateway spec.
func (v *Validator) validateSpec(spec *GatewaySpec) {
	v.validateListen(&spec.Listen)
	v.validateRoutes(spec.Routes)

	if spec.DefaultDestination != "" {
		if err := util.ValidateURL(spec.DefaultDestination); err != nil {
			v.addError("spec.defaultDestination", err.Error())
		}
	}
	if spec.RateLimit != nil {
		v.validateRateLimit(spec.RateLimit, "spec.rateLimit")
	}
	if spec.CircuitBreaker != nil {
		v.validateCircuitBreaker(spec.CircuitBreaker, "spec.circuitBreaker")
	}
	if spec.Secrets != nil {
		v.validateSecrets(spec.Secrets, "spec.secrets")
	}
	if spec.Auth != nil {
		v.validateAuth(spec.Auth, spec.Secrets, "spec.auth")
	} else {
		for i := range spec.Routes {
			r := &spec.Routes[i]
			if r.AuthRequired || len(r.RequiredScopes) > 0 {
				v.addError(fmt.Sprintf("spec.routes[%d]", i), "route requires authentication but spec.auth is not set")
			}
		}
	}
	v.validateObservability(&spec.Observability, "spec.observability")
}

func (v *Validator) validateListen(l *ListenConfig) {
	if l.Address == "" {
		v.addError("spec.listen.address", "address is required")
	}
	if l.AdminAddress == "" {
		v.addError("spec.listen.adminAddress", "admin address is required")
	} else if l.AdminAddress == l.Address {
		v.addError("spec.listen.adminAddress", "admin address must differ from the proxy address")
	}
	timeouts := []struct {
		name  string
		value Duration
	}{
		{"readTimeout", l.ReadTimeout},
		{"writeTimeout", l.WriteTimeout},
		{"idleTimeout", l.IdleTimeout},
		{"shutdownTimeout", l.ShutdownTimeout},
	}
	for _, t := range timeouts {
		if t.value < 0 {
			v.addError("spec.listen."+t.name, "must not be negative")
		}
	}
}

var validMatchKinds = map[string]bool{
	"":          true,
	"prefix":    true,
	"exact":     true,
	"parameter": true,
	"wildcard":  true,
	"regex":     true,
}

func (v *Validator) validateRoutes(routes []RouteConfig) {
	names := make(map[string]int, len(routes))
	for i := range routes {
		route := &routes[i]
		path := fmt.Sprintf("spec.routes[%d]", i)

		if route.Name == "" {
			v.addError(path+".name", "name is required")
		} else if prev, dup := names[route.Name]; dup {
			v.addError(path+".name", fmt.Sprintf("duplicate route name %q (also spec.routes[%d])", route.Name, prev))
		} else {
			names[route.Name] = i
		}

		v.validateRoutePath(route, path)

		if err := util.ValidateURL(route.Destination); err != nil {
			v.addError(path+".destination", err.Error())
		}
		for j, method := range route.Methods {
			if err := util.ValidateHTTPMethod(method); err != nil {
				v.addError(fmt.Sprintf("%s.methods[%d]", path, j), err.Error())
			}
		}
		for j, scope := range route.RequiredScopes {
			if strings.TrimSpace(scope) == "" || strings.ContainsAny(scope, " \t") {
				v.addError(fmt.Sprintf("%s.requiredScopes[%d]", path, j), "scope must be a single non-empty word")
			}
		}
		if route.Timeout < 0 {
			v.addError(path+".timeout", "must not be negative")
		}
		if route.RateLimit != nil {
			v.validateRateLimit(route.RateLimit, path+".rateLimit")
		}
	}
}

func (v *Validator) validateRoutePath(route *RouteConfig, path string) {
	if !validMatchKinds[route.Match] {
		v.addError(path+".match", fmt.Sprintf("unknown match kind %q", route.Match))
		return
	}
	if route.Path == "" {
		v.addError(path+".path", "path is required")
		return
	}
	if route.Match == "regex" {
		if _, err := regexp.Compile(route.Path); err != nil {
			v.addError(path+".path", fmt.Sprintf("invalid regex: %v", err))
		}
		return
	}
	if !strings.HasPrefix(route.Path, "/") {
		v.addError(path+".path", "path must start with '/'")
	}
}

var (
	validScopes  = map[string]bool{"global": true, "client": true, "route": true, "route_client": true}
	validEngines = map[string]bool{"native": true, "gobreaker": true}
)

func (v *Validator) validateRateLimit(rl *RateLimitConfig, path string) {
	if !rl.Enabled {
		return
	}

	switch rl.Algorithm {
	case "token_bucket":
		if rl.Capacity < 1 {
			v.addError(path+".capacity", "capacity must be at least 1")
		}
		if rl.RefillRate <= 0 {
			v.addError(path+".refillRate", "refill rate must be positive")
		}
	case "sliding_window":
		if rl.MaxRequests < 1 {
			v.addError(path+".maxRequests", "max requests must be at least 1")
		}
		if rl.Window <= 0 {
			v.addError(path+".window", "window must be positive")
		}
	default:
		v.addError(path+".algorithm", fmt.Sprintf("unknown algorithm %q", rl.Algorithm))
	}

	if !validScopes[rl.Scope] {
		v.addError(path+".scope", fmt.Sprintf("unknown scope %q", rl.Scope))
	}
	if rl.ClientHeader != "" {
		if err := util.ValidateHeaderName(rl.ClientHeader); err != nil {
			v.addError(path+".clientHeader", err.Error())
		}
	}
	if rl.SweepInterval < 0 {
		v.addError(path+".sweepInterval", "must not be negative")
	}
}

func (v *Validator) validateCircuitBreaker(cb *CircuitBreakerConfig, path string) {
	if !cb.Enabled {
		return
	}
	if !validEngines[cb.Engine] {
		v.addError(path+".engine", fmt.Sprintf("unknown engine %q", cb.Engine))
	}
	if cb.FailureThreshold <= 0 {
		v.addError(path+".failureThreshold", "failure threshold must be positive")
	}
	if cb.SuccessThreshold <= 0 {
		v.addError(path+".successThreshold", "success threshold must be positive")
	}
	if cb.Timeout <= 0 {
		v.addError(path+".timeout", "timeout must be positive")
	}
	switch {
	case cb.HalfOpenMaxRequests < 0:
		v.addError(path+".halfOpenMaxRequests", "must not be negative")
	case cb.HalfOpenMaxRequests > 0 && cb.HalfOpenMaxRequests < cb.SuccessThreshold:
		v.addError(path+".halfOpenMaxRequests", "must be at least the success threshold")
	}
}

// minSecretLength mirrors the validator's minimum HMAC key length.
const minSecretLength = 16

func (v *Validator) validateAuth(a *AuthConfig, secrets *SecretsConfig, path string) {
	switch {
	case a.Secret != "" && a.SecretRef != nil:
		v.addError(path, "secret and secretRef are mutually exclusive")
	case a.Secret == "" && a.SecretRef == nil:
		v.addError(path, "one of secret or secretRef is required")
	case a.Secret != "" && len(a.Secret) < minSecretLength:
		v.addError(path+".secret", fmt.Sprintf("secret must be at least %d bytes", minSecretLength))
	case a.SecretRef != nil:
		if a.SecretRef.Path == "" {
			v.addError(path+".secretRef.path", "path is required")
		}
		if secrets == nil {
			v.addError(path+".secretRef", "secretRef requires spec.secrets")
		}
	}
	if a.ClockSkew < 0 {
		v.addError(path+".clockSkew", "must not be negative")
	}
}

func (v *Validator) validateSecrets(s *SecretsConfig, path string) {
	switch s.Provider {
	case "env":
	case "local":
		if s.Local == nil || s.Local.BasePath == "" {
			v.addError(path+".local.basePath", "base path is required for the local provider")
		}
	case "vault":
		if s.Vault == nil || s.Vault.Address == "" {
			v.addError(path+".vault.address", "address is required for the vault provider")
		} else if err := util.ValidateURL(s.Vault.Address); err != nil {
			v.addError(path+".vault.address", err.Error())
		}
	case "":
		v.addError(path+".provider", "provider is required")
	default:
		v.addError(path+".provider", fmt.Sprintf("unknown provider %q", s.Provider))
	}
	if s.CacheTTL < 0 {
		v.addError(path+".cacheTTL", "must not be negative")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "console": true}
)

func (v *Validator) validateObservability(o *ObservabilityConfig, path string) {
	if !validLogLevels[o.Logging.Level] {
		v.addError(path+".logging.level", fmt.Sprintf("unknown level %q", o.Logging.Level))
	}
	if !validLogFormats[o.Logging.Format] {
		v.addError(path+".logging.format", fmt.Sprintf("unknown format %q", o.Logging.Format))
	}
	if o.Logging.RejectionsPerSecond < 0 {
		v.addError(path+".logging.rejectionsPerSecond", "must not be negative")
	}
	if t := o.Tracing; t != nil && (t.SamplingRate < 0 || t.SamplingRate > 1) {
		v.addError(path+".tracing.samplingRate", "sampling rate must be between 0 and 1")
	}
}

// addError adds a validation error.
func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

// AsValidationErrors extracts ValidationErrors from err.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return verrs, true
	}
	return nil, false
}
