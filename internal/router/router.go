package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/avagate/internal/util"
)

// Route declares how requests are mapped to a destination.
type Route struct {
	Name        string
	Path        string
	Match       MatchKind
	Methods     []string
	Destination string
	Priority    int

	// AuthRequired rejects requests without a bearer token.
	AuthRequired bool

	// RequiredScopes must all be present on the token.
	RequiredScopes []string

	// Condition is an optional authorization expression.
	Condition string

	// StripPrefix removes the literal part of Path before forwarding.
	StripPrefix bool

	// Timeout bounds the forwarded request; zero means no route timeout.
	Timeout time.Duration
}

// CompiledRoute is a Route with its matchers built.
type CompiledRoute struct {
	Route
	PathMatcher   PathMatcher
	MethodMatcher *MethodMatcher
	stripPrefix   string
}

// Match is the result of a successful resolution.
type Match struct {
	Route       *CompiledRoute
	Destination string
	PathParams  map[string]string

	// ForwardPath is the path to send upstream.
	ForwardPath string

	// Default is true when no route matched and the default destination was used.
	Default bool
}

// RouteName returns the matched route name, or empty for the default destination.
func (m *Match) RouteName() string {
	if m == nil || m.Route == nil {
		return ""
	}
	return m.Route.Name
}

// table is an immutable, priority-ordered route set.
type table struct {
	routes             []*CompiledRoute
	byName             map[string]*CompiledRoute
	defaultDestination string
	generation         uint64
}

// Router resolves request paths to destinations. Lookups read an immutable
// table; Load publishes a replacement atomically.
type Router struct {
	table  atomic.Pointer[table]
	mu     sync.Mutex // serializes Load
	logger *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// New creates an empty router.
func New(opts ...Option) *Router {
	r := &Router{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.table.Store(&table{byName: map[string]*CompiledRoute{}})
	return r
}

// Compile builds the matchers for a route.
func Compile(route Route) (*CompiledRoute, error) {
	if route.Name == "" {
		return nil, util.NewConfigError("name", "route name is required")
	}
	if route.Path == "" {
		return nil, util.NewConfigError(route.Name+".path", "route path is required")
	}
	if route.Destination == "" {
		return nil, util.NewConfigError(route.Name+".destination", "route destination is required")
	}

	pm, err := NewPathMatcher(route.Match, route.Path)
	if err != nil {
		return nil, util.NewConfigErrorWithCause(route.Name+".path", "invalid path pattern", err)
	}
	route.Match = pm.Type()

	return &CompiledRoute{
		Route:         route,
		PathMatcher:   pm,
		MethodMatcher: NewMethodMatcher(route.Methods),
		stripPrefix:   literalPrefix(route),
	}, nil
}

// literalPrefix returns the part of the path removed by StripPrefix.
func literalPrefix(route Route) string {
	if !route.StripPrefix {
		return ""
	}
	switch route.Match {
	case MatchPrefix, MatchExact:
		return strings.TrimSuffix(route.Path, "/")
	case MatchRegex:
		return ""
	}

	var kept []string
	for _, part := range strings.Split(strings.Trim(route.Path, "/"), "/") {
		if isParam(part) || HasWildcards(part) {
			break
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return ""
	}
	return "/" + strings.Join(kept, "/")
}

// Load replaces the route table. Routes are ordered by descending priority;
// equal priorities keep their declaration order. On error the current table
// is left untouched.
func (r *Router) Load(routes []Route, defaultDestination string) error {
	compiled := make([]*CompiledRoute, 0, len(routes))
	byName := make(map[string]*CompiledRoute, len(routes))

	for i := range routes {
		cr, err := Compile(routes[i])
		if err != nil {
			return err
		}
		if _, exists := byName[cr.Name]; exists {
			return util.NewConfigError(cr.Name, "duplicate route name")
		}
		byName[cr.Name] = cr
		compiled = append(compiled, cr)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.table.Load()
	next := &table{
		routes:             compiled,
		byName:             byName,
		defaultDestination: defaultDestination,
		generation:         prev.generation + 1,
	}
	r.table.Store(next)

	RecordReload(len(compiled))
	r.logger.Info("routes loaded",
		zap.Int("routes", len(compiled)),
		zap.String("default_destination", defaultDestination),
		zap.Uint64("generation", next.generation),
	)
	return nil
}

// Resolve returns the highest-priority route matching path and method. With
// no match the default destination is used; without one the error wraps
// util.ErrRouteNotFound. Resolve has no side effects other than metrics.
func (r *Router) Resolve(path, method string) (*Match, error) {
	t := r.table.Load()

	for _, route := range t.routes {
		if !route.MethodMatcher.Match(method) {
			continue
		}
		matched, params := route.PathMatcher.Match(path)
		if !matched {
			continue
		}
		RecordResolution("matched")
		return &Match{
			Route:       route,
			Destination: route.Destination,
			PathParams:  params,
			ForwardPath: forwardPath(route.stripPrefix, path),
		}, nil
	}

	if t.defaultDestination != "" {
		RecordResolution("default")
		return &Match{
			Destination: t.defaultDestination,
			ForwardPath: path,
			Default:     true,
		}, nil
	}

	RecordResolution("not_found")
	return nil, fmt.Errorf("%w: %s %s", util.ErrRouteNotFound, method, path)
}

func forwardPath(prefix, path string) string {
	if prefix == "" {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// Route returns a route by name.
func (r *Router) Route(name string) (*CompiledRoute, bool) {
	cr, ok := r.table.Load().byName[name]
	return cr, ok
}

// Routes returns the routes in evaluation order.
func (r *Router) Routes() []*CompiledRoute {
	t := r.table.Load()
	out := make([]*CompiledRoute, len(t.routes))
	copy(out, t.routes)
	return out
}

// Len returns the number of loaded routes.
func (r *Router) Len() int {
	return len(r.table.Load().routes)
}

// DefaultDestination returns the destination used when no route matches.
func (r *Router) DefaultDestination() string {
	return r.table.Load().defaultDestination
}

// Generation increases on every successful Load.
func (r *Router) Generation() uint64 {
	return r.table.Load().generation
}
