package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avagate/internal/auth"
	"github.com/vyrodovalexey/avagate/internal/authz"
	"github.com/vyrodovalexey/avagate/internal/circuitbreaker"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
	"github.com/vyrodovalexey/avagate/internal/router"
	"github.com/vyrodovalexey/avagate/internal/secrets"
	"github.com/vyrodovalexey/avagate/internal/util"
)

// ErrMissingDependency is returned when a required component is nil.
var ErrMissingDependency = errors.New("missing pipeline dependency")

// Policy is a rate limit policy bound to a key scope.
type Policy struct {
	Limit ratelimit.Config
	Scope ratelimit.Scope

	// ClientHeader identifies clients for the client scopes.
	ClientHeader string

	// Disabled exempts a route from the global policy.
	Disabled bool

	key ratelimit.KeyFunc
}

// Limiter key owners. Every key is prefixed with the policy that owns it so
// that two policies with the same scope never share a limiter.
const (
	globalPolicyOwner = "global"
	routePolicyOwner  = "route:"
)

// compile validates p and builds its key function under owner.
func (p *Policy) compile(owner string) error {
	if p.Disabled {
		return nil
	}
	if err := p.Limit.Validate(); err != nil {
		return err
	}
	key, err := ratelimit.KeyFuncFor(p.Scope, p.ClientHeader)
	if err != nil {
		return err
	}
	p.key = ratelimit.OwnedKey(owner, key)
	return nil
}

func (p *Policy) equal(o *Policy) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Limit == o.Limit && p.Scope == o.Scope && p.ClientHeader == o.ClientHeader && p.Disabled == o.Disabled
}

// Settings are the reloadable parts of the pipeline.
type Settings struct {
	// Validator authenticates bearer tokens; nil disables authentication.
	Validator *auth.Validator

	// RateLimit is the global policy; nil disables rate limiting except
	// for routes with their own policy.
	RateLimit *Policy

	// RoutePolicies override RateLimit per route name.
	RoutePolicies map[string]*Policy

	// Breakers enables the circuit breaker stage.
	Breakers bool
}

func (s *Settings) compile() error {
	if s.RateLimit != nil {
		if err := s.RateLimit.compile(globalPolicyOwner); err != nil {
			return util.NewConfigErrorWithCause("rateLimit", "invalid global rate limit", err)
		}
	}
	for name, p := range s.RoutePolicies {
		if p == nil {
			continue
		}
		if err := p.compile(routePolicyOwner + name); err != nil {
			return util.NewConfigErrorWithCause(name+".rateLimit", "invalid route rate limit", err)
		}
	}
	return nil
}

// policiesEqual reports whether a and b limit requests identically.
func policiesEqual(a, b *Settings) bool {
	if !a.RateLimit.equal(b.RateLimit) || len(a.RoutePolicies) != len(b.RoutePolicies) {
		return false
	}
	for name, p := range a.RoutePolicies {
		if !p.equal(b.RoutePolicies[name]) {
			return false
		}
	}
	return true
}

// policyFor returns the policy that applies to route, or nil.
func (s *Settings) policyFor(route string) *Policy {
	if p, ok := s.RoutePolicies[route]; ok && p != nil && route != "" {
		if p.Disabled {
			return nil
		}
		return p
	}
	return s.RateLimit
}

// Dependencies are the registries the pipeline drives.
type Dependencies struct {
	Router     *router.Router
	Limiters   *ratelimit.Registry
	Breakers   *circuitbreaker.Registry
	Authorizer *authz.Authorizer

	// Secrets resolves the token secret on Reload; optional.
	Secrets secrets.Provider
}

// Pipeline runs the admission stages for every inbound request. Admit never
// blocks or performs I/O; it is safe for concurrent use and may run while
// Reload swaps the configuration.
type Pipeline struct {
	router     *router.Router
	limiters   *ratelimit.Registry
	breakers   *circuitbreaker.Registry
	authorizer *authz.Authorizer
	secrets    secrets.Provider

	settings atomic.Pointer[Settings]
	reloadMu sync.Mutex

	clock     func() time.Time
	tracer    trace.Tracer
	logger    observability.Logger
	rejectLog *rate.Limiter
}

// Option is a functional option for the pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock sets the time source used for every stage.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		p.clock = clock
	}
}

// WithTracer sets the tracer. Default: the global OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

// WithRejectionLogRate throttles rejection logs to perSecond with a burst
// of ten. Zero or negative logs every rejection.
func WithRejectionLogRate(perSecond float64) Option {
	return func(p *Pipeline) {
		if perSecond <= 0 {
			p.rejectLog = nil
			return
		}
		p.rejectLog = rate.NewLimiter(rate.Limit(perSecond), 10)
	}
}

// NewPipeline creates a pipeline over deps with the initial settings.
func NewPipeline(deps Dependencies, settings Settings, opts ...Option) (*Pipeline, error) {
	if deps.Router == nil {
		return nil, fmt.Errorf("%w: router", ErrMissingDependency)
	}
	if deps.Limiters == nil {
		return nil, fmt.Errorf("%w: rate limiter registry", ErrMissingDependency)
	}
	if deps.Authorizer == nil {
		return nil, fmt.Errorf("%w: authorizer", ErrMissingDependency)
	}
	if settings.Breakers && deps.Breakers == nil {
		return nil, fmt.Errorf("%w: circuit breaker registry", ErrMissingDependency)
	}
	if err := settings.compile(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		router:     deps.Router,
		limiters:   deps.Limiters,
		breakers:   deps.Breakers,
		authorizer: deps.Authorizer,
		secrets:    deps.Secrets,
		clock:      time.Now,
		tracer:     otel.Tracer("avagate/gateway"),
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.settings.Store(&settings)
	return p, nil
}

// Apply swaps the settings. Limiters are dropped when the policies change so
// that every key starts fresh under the new limits.
func (p *Pipeline) Apply(settings Settings) error {
	if settings.Breakers && p.breakers == nil {
		return fmt.Errorf("%w: circuit breaker registry", ErrMissingDependency)
	}
	if err := settings.compile(); err != nil {
		return err
	}

	prev := p.settings.Swap(&settings)
	if !policiesEqual(prev, &settings) {
		p.limiters.Reset()
	}
	return nil
}

// Settings returns the settings in effect.
func (p *Pipeline) Settings() Settings {
	return *p.settings.Load()
}

// Admit runs the stages in order and stops at the first rejection, which is
// returned as a *util.AdmissionError. The route is resolved before the first
// stage so the breaker can be keyed by destination; a failed lookup is only
// reported by the route stage.
func (p *Pipeline) Admit(ctx context.Context, in Inbound) (*Admission, error) {
	now := p.clock()
	s := p.settings.Load()

	ctx, span := p.tracer.Start(ctx, "gateway.admit",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("http.request.method", in.Method),
			attribute.String("url.path", in.Path),
		),
	)
	defer span.End()

	rc := &RequestContext{
		RequestID:  in.RequestID,
		Method:     in.Method,
		Path:       in.Path,
		Headers:    in.Headers,
		RemoteAddr: in.RemoteAddr,
		ReceivedAt: now,
	}
	if rc.RequestID == "" {
		rc.RequestID = uuid.NewString()
	}

	match, routeErr := p.router.Resolve(in.Path, in.Method)
	if routeErr == nil {
		rc.Match = match
		span.SetAttributes(
			attribute.String("gateway.route", match.RouteName()),
			attribute.String("gateway.destination", match.Destination),
		)
	}

	if err := p.authenticate(rc, s, now); err != nil {
		return nil, p.reject(ctx, span, rc, err)
	}
	if err := p.rateLimit(rc, s, now); err != nil {
		return nil, p.reject(ctx, span, rc, err)
	}
	if err := p.authorize(rc); err != nil {
		return nil, p.reject(ctx, span, rc, err)
	}
	ticket, err := p.acquire(rc, s, now)
	if err != nil {
		return nil, p.reject(ctx, span, rc, err)
	}
	if routeErr != nil {
		return nil, p.reject(ctx, span, rc,
			util.NewAdmissionError(util.KindRouteNotFound, StageRoute, "", routeErr))
	}

	RecordAdmission(p.clock().Sub(now).Seconds())
	span.SetStatus(codes.Ok, "")

	return &Admission{
		Destination: match.Destination,
		Context:     rc,
		ForwardPath: match.ForwardPath,
		Timeout:     routeTimeout(match),
		ticket:      ticket,
		clock:       p.clock,
	}, nil
}

// authenticate validates the bearer token when one is presented.
func (p *Pipeline) authenticate(rc *RequestContext, s *Settings, now time.Time) error {
	if s.Validator == nil || rc.Headers == nil {
		return nil
	}
	raw, ok := auth.ExtractBearer(rc.Headers.Get("Authorization"))
	if !ok {
		return nil
	}

	token, err := s.Validator.ValidateAt(raw, now)
	if err != nil {
		kind := util.KindInvalidToken
		if errors.Is(err, util.ErrExpiredToken) {
			kind = util.KindExpiredToken
		}
		return util.NewAdmissionError(kind, StageAuthenticate, "", err)
	}
	rc.Token = token
	return nil
}

// rateLimit consumes one unit from the limiter selected by the policy.
func (p *Pipeline) rateLimit(rc *RequestContext, s *Settings, now time.Time) error {
	policy := s.policyFor(rc.RouteName())
	if policy == nil {
		return nil
	}

	key := policy.key(ratelimit.KeyInput{
		Route:      rc.RouteName(),
		Subject:    rc.Subject(),
		RemoteAddr: rc.RemoteAddr,
		Headers:    rc.Headers,
	})
	res, err := p.limiters.Allow(key, policy.Limit, now)
	if err != nil {
		// Fails closed. Apply has already validated the policy.
		return util.NewAdmissionError(util.KindRateLimitExceeded, StageRateLimit, "", err)
	}
	rc.RateLimit = res
	if !res.Allowed {
		ae := util.NewAdmissionError(util.KindRateLimitExceeded, StageRateLimit, "", nil)
		ae.RetryAfter = res.RetryAfter
		return ae
	}
	return nil
}

// authorize checks scopes and the route condition.
func (p *Pipeline) authorize(rc *RequestContext) error {
	var route *router.CompiledRoute
	if rc.Match != nil {
		route = rc.Match.Route
	}
	if route == nil {
		return nil
	}

	err := p.authorizer.Authorize(rc.Token, route, authz.Request{
		Method:     rc.Method,
		Path:       rc.Path,
		Headers:    flattenHeaders(rc),
		RemoteAddr: rc.RemoteAddr,
		PathParams: rc.PathParams(),
	})
	if err == nil {
		return nil
	}
	kind := util.KindForbidden
	if errors.Is(err, util.ErrMissingToken) {
		kind = util.KindMissingToken
	}
	return util.NewAdmissionError(kind, StageAuthorize, "", err)
}

// acquire asks the breaker of the destination for permission.
func (p *Pipeline) acquire(rc *RequestContext, s *Settings, now time.Time) (circuitbreaker.Ticket, error) {
	if !s.Breakers || rc.Match == nil || rc.Match.Destination == "" {
		return circuitbreaker.Ticket{}, nil
	}
	ticket, err := p.breakers.GetOrCreate(rc.Match.Destination).Acquire(now)
	if err != nil {
		return ticket, util.NewAdmissionError(util.KindCircuitOpen, StageCircuitBreaker, "", err)
	}
	return ticket, nil
}

// reject records, traces and logs a rejection and returns err.
func (p *Pipeline) reject(ctx context.Context, span trace.Span, rc *RequestContext, err error) error {
	var ae *util.AdmissionError
	if !errors.As(err, &ae) {
		ae = util.NewAdmissionError(util.KindOf(err), "", "", err)
	}
	reason := ae.Kind.String()

	RecordRejection(reason, ae.Stage, p.clock().Sub(rc.ReceivedAt).Seconds())
	span.SetAttributes(
		attribute.String("gateway.rejection.reason", reason),
		attribute.String("gateway.rejection.stage", ae.Stage),
	)
	span.SetStatus(codes.Error, reason)

	if p.rejectLog == nil || p.rejectLog.Allow() {
		ctx = observability.ContextWithRequestID(ctx, rc.RequestID)
		p.logger.WithContext(observability.ContextWithSpan(ctx, span)).Info("request rejected",
			observability.String("reason", reason),
			observability.String("stage", ae.Stage),
			observability.String("method", rc.Method),
			observability.String("path", rc.Path),
			observability.String("route", rc.RouteName()),
			observability.String("subject", rc.Subject()),
			observability.Error(err),
		)
	}
	return ae
}

func routeTimeout(m *router.Match) time.Duration {
	if m.Route == nil {
		return 0
	}
	return m.Route.Timeout
}

// flattenHeaders joins repeated header values with ", " for conditions.
func flattenHeaders(rc *RequestContext) map[string]string {
	if len(rc.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(rc.Headers))
	for name, values := range rc.Headers {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
