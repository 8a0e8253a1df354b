package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/gateway"
	"github.com/vyrodovalexey/avagate/internal/middleware"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/proxy"
)

// application holds all application components.
type application struct {
	gateway  *gateway.Gateway
	pipeline *gateway.Pipeline
	tracer   *observability.Tracer
	config   *config.GatewayConfig
	logger   observability.Logger

	// pinnedLogLevel keeps a -log-level flag in force across reloads.
	pinnedLogLevel bool

	stopSweeper context.CancelFunc
}

// newApplication builds the admission pipeline and the gateway serving it.
func newApplication(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	return newApplicationWithRegistry(ctx, cfg, logger, prometheus.DefaultRegisterer, nil)
}

// newApplicationWithRegistry is newApplication with the snapshot collector
// registered on registerer and /metrics served from gatherer.
func newApplicationWithRegistry(
	ctx context.Context,
	cfg *config.GatewayConfig,
	logger observability.Logger,
	registerer prometheus.Registerer,
	gatherer prometheus.Gatherer,
) (*application, error) {
	tracer, err := initTracer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	pipeline, err := gateway.Build(ctx, cfg, logger, gateway.WithTracer(tracer.Tracer()))
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	if err := registerer.Register(gateway.NewSnapshotCollector(pipeline)); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			_ = tracer.Shutdown(ctx)
			return nil, fmt.Errorf("failed to register snapshot collector: %w", err)
		}
	}
	observability.RecordBuildInfo(version, buildTime)

	reverseProxy := proxy.NewReverseProxy(proxy.WithProxyLogger(logger))
	handler := buildMiddlewareChain(reverseProxy, pipeline, logger)

	opts := []gateway.GatewayOption{
		gateway.WithGatewayLogger(logger),
		gateway.WithRouteHandler(handler),
		gateway.WithGatherer(gatherer),
	}
	if provider := pipeline.Secrets(); provider != nil {
		opts = append(opts, gateway.WithReadinessCheck(provider.HealthCheck))
	}

	gw, err := gateway.New(cfg, pipeline, opts...)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	return &application{
		gateway:  gw,
		pipeline: pipeline,
		tracer:   tracer,
		config:   cfg,
		logger:   logger,
	}, nil
}

// initTracer initializes the tracer.
func initTracer(cfg *config.GatewayConfig) (*observability.Tracer, error) {
	tracerCfg := observability.TracerConfig{
		ServiceName:  config.DefaultServiceName,
		Enabled:      false,
		SamplingRate: 1.0,
	}

	if tr := cfg.Spec.Observability.Tracing; tr != nil {
		tracerCfg.Enabled = tr.Enabled
		tracerCfg.SamplingRate = tr.SamplingRate
		tracerCfg.OTLPEndpoint = tr.OTLPEndpoint
		if tr.ServiceName != "" {
			tracerCfg.ServiceName = tr.ServiceName
		}
	}

	return observability.NewTracer(tracerCfg)
}

// buildMiddlewareChain builds the middleware chain.
// The execution order (outermost executes first):
// Recovery -> RequestID -> Logging -> Metrics -> Admission -> [proxy]
func buildMiddlewareChain(handler http.Handler, admitter middleware.Admitter, logger observability.Logger) http.Handler {
	return middleware.Chain(handler,
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Metrics(),
		middleware.Admission(admitter, logger),
	)
}

// start starts the gateway and the idle limiter sweeper.
func (a *application) start(ctx context.Context) error {
	if err := a.gateway.Start(ctx); err != nil {
		return err
	}

	interval := config.DefaultSweepInterval
	if rl := a.config.Spec.RateLimit; rl != nil && rl.SweepInterval > 0 {
		interval = rl.SweepInterval.Duration()
	}
	sweepCtx, cancel := context.WithCancel(context.Background())
	a.stopSweeper = cancel
	go a.pipeline.Limiters().RunSweeper(sweepCtx, interval, nil)

	return nil
}

// reload applies a changed configuration, including its log level.
func (a *application) reload(ctx context.Context, cfg *config.GatewayConfig) error {
	if err := a.gateway.Reload(ctx, cfg); err != nil {
		return err
	}
	a.config = cfg

	if !a.pinnedLogLevel {
		if err := a.logger.SetLevel(cfg.Spec.Observability.Logging.Level); err != nil {
			a.logger.Warn("log level not changed", observability.Error(err))
		}
	}
	return nil
}

// shutdown stops every component, collecting the errors.
func (a *application) shutdown(ctx context.Context) error {
	var errs []error

	if a.stopSweeper != nil {
		a.stopSweeper()
	}

	if err := a.gateway.Stop(ctx); err != nil && !errors.Is(err, gateway.ErrGatewayNotRunning) {
		errs = append(errs, fmt.Errorf("failed to stop gateway: %w", err))
	}

	if provider := a.pipeline.Secrets(); provider != nil {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close secrets provider: %w", err))
		}
	}

	if err := a.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
	}

	return errors.Join(errs...)
}
