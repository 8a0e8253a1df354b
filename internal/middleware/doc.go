// Package middleware provides the HTTP middleware in front of the gateway's
// reverse proxy.
//
// # Middleware Components
//
//   - Admission: runs the admission pipeline and renders rejections
//   - Logging: structured request logging
//   - Recovery: panic recovery with stack trace logging
//   - Request ID: unique request identifier injection
//   - Metrics: request counters and latency
//
// # Usage
//
// Middleware functions follow the standard Go pattern:
//
//	handler := middleware.Chain(proxy,
//	    middleware.Recovery(logger),
//	    middleware.RequestID(),
//	    middleware.Logging(logger),
//	    middleware.Admission(pipeline, logger),
//	)
//
// Admission stores the *gateway.Admission in the request context, where the
// proxy reads the destination from.
package middleware
