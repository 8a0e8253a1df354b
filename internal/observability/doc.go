// Package observability provides logging, metrics, and tracing
// functionality for the gateway.
//
// # Logging
//
// The Logger interface provides structured logging over zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request admitted",
//	    observability.String("destination", "orders"),
//	)
//
// # Metrics
//
// Components register their own collectors with promauto. This package
// only exposes them:
//
//	mux.Handle("/metrics", observability.MetricsHandler(nil))
//
// # Tracing
//
// OpenTelemetry distributed tracing with OTLP gRPC export:
//
//	tracer, err := observability.NewTracer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(ctx)
package observability
