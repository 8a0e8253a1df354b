package gateway

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avagate/internal/auth"
	"github.com/vyrodovalexey/avagate/internal/circuitbreaker"
	"github.com/vyrodovalexey/avagate/internal/ratelimit"
	"github.com/vyrodovalexey/avagate/internal/router"
)

// Stage names, in execution order.
const (
	StageAuthenticate   = "authenticate"
	StageRateLimit      = "rate_limit"
	StageAuthorize      = "authorize"
	StageCircuitBreaker = "circuit_breaker"
	StageRoute          = "route"
)

// Stages lists the pipeline stages in execution order.
var Stages = []string{StageAuthenticate, StageRateLimit, StageAuthorize, StageCircuitBreaker, StageRoute}

// Inbound is a request as seen by the admission pipeline.
type Inbound struct {
	Method     string
	Path       string
	Headers    http.Header
	RemoteAddr string

	// RequestID correlates logs; one is generated when empty.
	RequestID string
}

// RequestContext is the per-request state built while a request moves
// through the pipeline. It belongs to a single request and is never shared.
type RequestContext struct {
	RequestID  string
	Method     string
	Path       string
	Headers    http.Header
	RemoteAddr string
	ReceivedAt time.Time

	// Token is the validated credential, nil for anonymous requests.
	Token *auth.Token

	// Match is the resolved route, nil when nothing matched.
	Match *router.Match

	// RateLimit is the limiter decision, nil when no policy applied.
	RateLimit *ratelimit.Result
}

// Subject returns the authenticated subject or "".
func (rc *RequestContext) Subject() string {
	if rc == nil || rc.Token == nil {
		return ""
	}
	return rc.Token.Subject
}

// RouteName returns the matched route name or "".
func (rc *RequestContext) RouteName() string {
	if rc == nil {
		return ""
	}
	return rc.Match.RouteName()
}

// PathParams returns the captured path parameters.
func (rc *RequestContext) PathParams() map[string]string {
	if rc.Match == nil {
		return nil
	}
	return rc.Match.PathParams
}

// Admission is an admitted request. The forwarding collaborator must call
// Finish exactly once with the forwarding outcome so the destination's
// circuit breaker sees it.
type Admission struct {
	Destination string
	Context     *RequestContext

	// ForwardPath is the upstream path after prefix stripping.
	ForwardPath string

	// Timeout bounds the forwarded request; zero means none.
	Timeout time.Duration

	ticket   circuitbreaker.Ticket
	clock    func() time.Time
	finished atomic.Bool
}

// Finish records the outcome: a nil err is a success. Calls after the
// first are ignored.
func (a *Admission) Finish(err error) {
	if a == nil || !a.finished.CompareAndSwap(false, true) {
		return
	}
	now := time.Now
	if a.clock != nil {
		now = a.clock
	}
	a.ticket.Done(err == nil, now())
	RecordOutcome(a.Destination, err == nil)
}

type admissionKey struct{}

// ContextWithAdmission stores a in ctx.
func ContextWithAdmission(ctx context.Context, a *Admission) context.Context {
	return context.WithValue(ctx, admissionKey{}, a)
}

// AdmissionFromContext returns the admission stored in ctx.
func AdmissionFromContext(ctx context.Context) (*Admission, bool) {
	a, ok := ctx.Value(admissionKey{}).(*Admission)
	return a, ok && a != nil
}
