package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/observability"
)

// Sentinel errors for gateway lifecycle operations.
var (
	ErrGatewayNotStopped = errors.New("gateway is not in stopped state")
	ErrGatewayNotRunning = errors.New("gateway is not running")
	ErrNilConfig         = errors.New("configuration is required")
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway owns the proxy and admin listeners. Every proxied request goes
// through the route handler, which carries the admission middleware.
type Gateway struct {
	config   *config.GatewayConfig
	pipeline *Pipeline
	logger   observability.Logger

	proxyEngine *gin.Engine
	adminEngine *gin.Engine
	listeners   []*Listener

	routeHandler http.Handler
	gatherer     prometheus.Gatherer
	readiness    []func(context.Context) error

	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex

	shutdownTimeout time.Duration
}

// GatewayOption is a functional option for configuring the gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger for the gateway.
func WithGatewayLogger(logger observability.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithShutdownTimeout sets the shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.shutdownTimeout = timeout
	}
}

// WithRouteHandler sets the handler for every proxied request.
func WithRouteHandler(handler http.Handler) GatewayOption {
	return func(g *Gateway) {
		g.routeHandler = handler
	}
}

// WithGatherer sets the metrics source for /metrics. Default: the
// Prometheus default gatherer.
func WithGatherer(gatherer prometheus.Gatherer) GatewayOption {
	return func(g *Gateway) {
		g.gatherer = gatherer
	}
}

// WithReadinessCheck adds a check run by /readyz.
func WithReadinessCheck(check func(context.Context) error) GatewayOption {
	return func(g *Gateway) {
		g.readiness = append(g.readiness, check)
	}
}

// New creates a new Gateway instance.
func New(cfg *config.GatewayConfig, pipeline *Pipeline, opts ...GatewayOption) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if pipeline == nil {
		return nil, ErrMissingDependency
	}

	g := &Gateway{
		config:          cfg,
		pipeline:        pipeline,
		logger:          observability.NopLogger(),
		shutdownTimeout: cfg.Spec.Listen.ShutdownTimeout.Duration(),
	}
	if g.shutdownTimeout <= 0 {
		g.shutdownTimeout = config.DefaultShutdownTimeout
	}
	for _, opt := range opts {
		opt(g)
	}

	gin.SetMode(gin.ReleaseMode)
	g.proxyEngine = g.newProxyEngine()
	g.adminEngine = g.newAdminEngine()
	g.state.Store(int32(StateStopped))

	return g, nil
}

// Start binds the proxy and admin listeners.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	cfg := g.Config()
	g.logger.Info("starting gateway",
		observability.String("name", cfg.Metadata.Name),
	)

	listen := cfg.Spec.Listen
	g.listeners = []*Listener{
		NewListener("proxy", listen.Address, listen, g.proxyEngine, WithListenerLogger(g.logger)),
		NewListener("admin", listen.AdminAddress, listen, g.adminEngine, WithListenerLogger(g.logger)),
	}

	for _, l := range g.listeners {
		if err := l.Start(ctx); err != nil {
			g.stopListeners(ctx)
			g.state.Store(int32(StateStopped))
			return err
		}
	}

	g.mu.Lock()
	g.startTime = time.Now()
	g.mu.Unlock()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("name", cfg.Metadata.Name),
		observability.String("proxy", g.listeners[0].Addr()),
		observability.String("admin", g.listeners[1].Addr()),
	)
	return nil
}

// Stop stops the gateway gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.logger.Info("stopping gateway")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	g.stopListeners(ctx)
	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped")
	return nil
}

func (g *Gateway) stopListeners(ctx context.Context) {
	for _, l := range g.listeners {
		if err := l.Stop(ctx); err != nil {
			g.logger.Error("failed to stop listener",
				observability.String("name", l.Name()),
				observability.Error(err),
			)
		}
	}
}

// Reload applies cfg to the pipeline. Listener addresses are fixed at start.
func (g *Gateway) Reload(ctx context.Context, cfg *config.GatewayConfig) error {
	if cfg == nil {
		return ErrNilConfig
	}
	if err := g.pipeline.Reload(ctx, cfg); err != nil {
		return err
	}

	g.mu.Lock()
	prev := g.config
	g.config = cfg
	g.mu.Unlock()

	if prev.Spec.Listen != cfg.Spec.Listen {
		g.logger.Warn("listener settings changed; restart required to apply them")
	}
	return nil
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Config returns the current configuration.
func (g *Gateway) Config() *config.GatewayConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// Listeners returns the listeners, proxy first.
func (g *Gateway) Listeners() []*Listener {
	return g.listeners
}

// ProxyHandler returns the handler serving proxied requests.
func (g *Gateway) ProxyHandler() http.Handler {
	return g.proxyEngine
}

// AdminHandler returns the handler serving the admin endpoints.
func (g *Gateway) AdminHandler() http.Handler {
	return g.adminEngine
}

// newProxyEngine sends every request to the route handler.
func (g *Gateway) newProxyEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := g.routeHandler
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	engine.NoRoute(gin.WrapH(handler))
	return engine
}

// newAdminEngine serves metrics, health and the pipeline snapshot.
func (g *Gateway) newAdminEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/metrics", gin.WrapH(observability.MetricsHandler(g.gatherer)))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"state":  g.State().String(),
			"uptime": g.Uptime().String(),
		})
	})
	engine.GET("/readyz", g.handleReady)
	engine.GET("/debug/snapshot", func(c *gin.Context) {
		c.JSON(http.StatusOK, g.pipeline.Snapshot())
	})
	return engine
}

func (g *Gateway) handleReady(c *gin.Context) {
	if !g.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "state": g.State().String()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	for _, check := range g.readiness {
		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "routes": g.pipeline.Router().Len()})
}
