package authz

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/vyrodovalexey/avagate/internal/auth"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/router"
	"github.com/vyrodovalexey/avagate/internal/util"
)

// Request holds the request attributes visible to route conditions.
type Request struct {
	Method     string
	Path       string
	Headers    map[string]string
	RemoteAddr string
	PathParams map[string]string
}

// programs maps a condition expression to its compiled program. Keying by
// expression keeps a route admitted before a reload on its own condition.
type programs map[string]cel.Program

// Authorizer enforces per-route scope requirements and conditions. Conditions
// are compiled when routes are loaded; Authorize only evaluates them.
type Authorizer struct {
	env      *cel.Env
	programs atomic.Pointer[programs]
	lazy     sync.Map // condition expression -> cel.Program, for unloaded routes
	now      func() time.Time
	logger   observability.Logger
}

// Option is a functional option for the authorizer.
type Option func(*Authorizer)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authorizer) {
		a.logger = logger
	}
}

// WithClock sets the time source bound to the now variable.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) {
		a.now = now
	}
}

// New creates a new authorizer.
func New(opts ...Option) (*Authorizer, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	a := &Authorizer{
		env:    env,
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	empty := programs{}
	a.programs.Store(&empty)
	return a, nil
}

// Compile checks that expr is a boolean condition.
func (a *Authorizer) Compile(expr string) (cel.Program, error) {
	ast, issues := a.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("condition must evaluate to bool, got %s", out)
	}
	program, err := a.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// Load compiles the conditions of routes and replaces the active set. On
// error the active set is left untouched.
func (a *Authorizer) Load(routes []router.Route) error {
	next := make(programs, len(routes))
	for i := range routes {
		r := &routes[i]
		if strings.TrimSpace(r.Condition) == "" {
			continue
		}
		program, err := a.Compile(r.Condition)
		if err != nil {
			return util.NewConfigErrorWithCause(r.Name+".condition", "invalid condition", err)
		}
		next[r.Condition] = program
	}
	a.programs.Store(&next)
	a.lazy.Range(func(key, _ any) bool {
		a.lazy.Delete(key)
		return true
	})
	return nil
}

// Authorize checks token against route. A nil route (default destination or
// no match) is always allowed. Errors wrap util.ErrMissingToken or
// util.ErrForbidden.
func (a *Authorizer) Authorize(token *auth.Token, route *router.CompiledRoute, req Request) error {
	if route == nil {
		return nil
	}

	if token == nil && (route.AuthRequired || len(route.RequiredScopes) > 0) {
		RecordDecision("missing_token")
		return fmt.Errorf("%w: route %s requires a bearer token", util.ErrMissingToken, route.Name)
	}

	if missing := token.MissingScopes(route.RequiredScopes...); len(missing) > 0 {
		RecordDecision("forbidden")
		return fmt.Errorf("%w: missing scopes %s", util.ErrForbidden, strings.Join(missing, ","))
	}

	if route.Condition != "" {
		if err := a.evaluate(token, route, req); err != nil {
			RecordDecision("forbidden")
			return err
		}
	}

	RecordDecision("allowed")
	return nil
}

func (a *Authorizer) evaluate(token *auth.Token, route *router.CompiledRoute, req Request) error {
	program, err := a.program(route)
	if err != nil {
		a.logger.Warn("route condition does not compile",
			observability.String("route", route.Name),
			observability.Error(err),
		)
		return fmt.Errorf("%w: condition unavailable", util.ErrForbidden)
	}

	out, _, err := program.Eval(map[string]any{
		"token":   tokenAttributes(token),
		"request": requestAttributes(req, route.Name),
		"now":     a.now(),
	})
	if err != nil {
		a.logger.Warn("route condition evaluation failed",
			observability.String("route", route.Name),
			observability.Error(err),
		)
		return fmt.Errorf("%w: condition evaluation failed", util.ErrForbidden)
	}

	if allowed, ok := out.Value().(bool); !ok || !allowed {
		return fmt.Errorf("%w: condition not satisfied", util.ErrForbidden)
	}
	return nil
}

// program returns the compiled condition of route. Expressions that were
// not passed to Load are compiled on first use and cached.
func (a *Authorizer) program(route *router.CompiledRoute) (cel.Program, error) {
	if p, ok := (*a.programs.Load())[route.Condition]; ok {
		return p, nil
	}
	if p, ok := a.lazy.Load(route.Condition); ok {
		return p.(cel.Program), nil
	}
	p, err := a.Compile(route.Condition)
	if err != nil {
		return nil, err
	}
	a.lazy.Store(route.Condition, p)
	return p, nil
}

func tokenAttributes(token *auth.Token) map[string]any {
	if token == nil {
		return map[string]any{}
	}
	attrs := map[string]any{
		"sub":    token.Subject,
		"scopes": token.Scopes,
		"exp":    token.ExpiresAt,
	}
	if token.Issuer != "" {
		attrs["iss"] = token.Issuer
	}
	if !token.IssuedAt.IsZero() {
		attrs["iat"] = token.IssuedAt
	}
	return attrs
}

func requestAttributes(req Request, route string) map[string]any {
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		headers[strings.ToLower(k)] = v
	}
	params := req.PathParams
	if params == nil {
		params = map[string]string{}
	}
	return map[string]any{
		"method":      req.Method,
		"path":        req.Path,
		"headers":     headers,
		"remote_addr": req.RemoteAddr,
		"params":      params,
		"route":       route,
	}
}
