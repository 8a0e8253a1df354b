// Package proxy forwards admitted requests to their destination.
//
// The proxy does not route. It reads the *gateway.Admission that the
// admission middleware stored in the request context and forwards to its
// destination, using the admission's forward path and timeout.
//
// # Features
//
//   - HTTP reverse proxy with configurable transport
//   - Hop-by-hop header removal per RFC 7230
//   - X-Forwarded-For, X-Forwarded-Proto and X-Forwarded-Host
//   - Per-route upstream timeout
//   - Transport failures reported to the destination's circuit breaker
//   - Structured error types for proxy failures
//
// # Usage
//
//	p := proxy.NewReverseProxy(proxy.WithProxyLogger(logger))
//	handler := middleware.Chain(p, middleware.Admission(pipeline, logger))
package proxy
