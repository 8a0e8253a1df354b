package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vyrodovalexey/avagate/internal/gateway"
	"github.com/vyrodovalexey/avagate/internal/observability"
)

// StatusClientClosedRequest is written when the client cancels the request
// before the destination answers.
const StatusClientClosedRequest = 499

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ReverseProxy forwards admitted requests to their destination.
type ReverseProxy struct {
	logger        observability.Logger
	transport     http.RoundTripper
	errorHandler  func(http.ResponseWriter, *http.Request, error)
	flushInterval time.Duration

	targets sync.Map // destination -> *url.URL
}

// ProxyOption is a functional option for configuring the proxy.
type ProxyOption func(*ReverseProxy)

// WithProxyLogger sets the logger for the proxy.
func WithProxyLogger(logger observability.Logger) ProxyOption {
	return func(p *ReverseProxy) {
		p.logger = logger
	}
}

// WithTransport sets the transport for the proxy.
func WithTransport(transport http.RoundTripper) ProxyOption {
	return func(p *ReverseProxy) {
		p.transport = transport
	}
}

// WithErrorHandler sets the error handler for the proxy.
func WithErrorHandler(handler func(http.ResponseWriter, *http.Request, error)) ProxyOption {
	return func(p *ReverseProxy) {
		p.errorHandler = handler
	}
}

// WithFlushInterval sets the flush interval for streaming responses.
func WithFlushInterval(interval time.Duration) ProxyOption {
	return func(p *ReverseProxy) {
		p.flushInterval = interval
	}
}

// NewReverseProxy creates a new reverse proxy.
func NewReverseProxy(opts ...ProxyOption) *ReverseProxy {
	p := &ReverseProxy{
		logger:        observability.NopLogger(),
		flushInterval: -1, // Immediate flush
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.errorHandler == nil {
		p.errorHandler = p.defaultErrorHandler
	}

	return p
}

// ServeHTTP implements http.Handler.
func (p *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	adm, ok := gateway.AdmissionFromContext(r.Context())
	if !ok {
		p.errorHandler(w, r, NewProxyError("admission", "", "", "missing admission", ErrNoAdmission))
		return
	}

	route := adm.Context.RouteName()
	target, err := p.target(adm.Destination)
	if err != nil {
		p.fail(w, r, adm, NewInvalidTargetError(route, adm.Destination, err))
		return
	}

	if adm.Timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), adm.Timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			p.director(req, target, adm.ForwardPath, r)
		},
		Transport:     p.transport,
		FlushInterval: p.flushInterval,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(r.Context().Err(), context.Canceled) {
				p.abandon(w, r, adm, err)
				return
			}
			p.fail(w, r, adm, NewProxyError("forward", route, adm.Destination, "upstream request failed", classify(err)))
		},
	}

	start := time.Now()
	proxy.ServeHTTP(w, r)
	getProxyMetrics().upstreamDuration.WithLabelValues(adm.Destination).Observe(time.Since(start).Seconds())
}

// target parses and caches a destination URL.
func (p *ReverseProxy) target(destination string) (*url.URL, error) {
	if u, ok := p.targets.Load(destination); ok {
		return u.(*url.URL), nil
	}
	u, err := url.Parse(destination)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("destination must be an absolute URL")
	}
	p.targets.Store(destination, u)
	return u, nil
}

// fail reports err to the destination's breaker and renders it.
func (p *ReverseProxy) fail(w http.ResponseWriter, r *http.Request, adm *gateway.Admission, err error) {
	getProxyMetrics().errorsTotal.WithLabelValues(adm.Destination, errorType(err)).Inc()
	adm.Finish(err)
	p.errorHandler(w, r, err)
}

// abandon completes an admission whose client went away. The destination
// did not fail, so the breaker sees a success; this also releases a
// half-open trial slot.
func (p *ReverseProxy) abandon(w http.ResponseWriter, r *http.Request, adm *gateway.Admission, err error) {
	getProxyMetrics().errorsTotal.WithLabelValues(adm.Destination, "client_canceled").Inc()
	adm.Finish(nil)

	p.logger.WithContext(r.Context()).Debug("client canceled request",
		observability.String("route", adm.Context.RouteName()),
		observability.String("path", r.URL.Path),
		observability.Error(err),
	)
	w.WriteHeader(StatusClientClosedRequest)
}

// director modifies the request before forwarding.
func (p *ReverseProxy) director(req *http.Request, target *url.URL, forwardPath string, originalReq *http.Request) {
	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host

	path := forwardPath
	if path == "" {
		path = originalReq.URL.Path
	}
	req.URL.Path = joinPath(target.Path, path)
	req.URL.RawPath = ""

	// Preserve query string
	req.URL.RawQuery = originalReq.URL.RawQuery
	if target.RawQuery != "" {
		if req.URL.RawQuery == "" {
			req.URL.RawQuery = target.RawQuery
		} else {
			req.URL.RawQuery = target.RawQuery + "&" + req.URL.RawQuery
		}
	}

	// Remove hop-by-hop headers
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	// httputil.ReverseProxy appends the client IP itself
	if clientIP, _, err := net.SplitHostPort(originalReq.RemoteAddr); err == nil {
		req.Header.Set("X-Real-IP", clientIP)
	}

	if originalReq.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}

	req.Header.Set("X-Forwarded-Host", originalReq.Host)

	// Set Host header
	req.Host = target.Host
}

// joinPath joins a destination base path and a request path with one slash.
func joinPath(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// classify wraps transport errors with a proxy sentinel.
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return errors.Join(ErrUpstreamTimeout, err)
	default:
		return errors.Join(ErrUpstreamUnavailable, err)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidTargetURL):
		return "invalid_target"
	case errors.Is(err, ErrNoAdmission):
		return "not_admitted"
	default:
		return "unavailable"
	}
}

// defaultErrorHandler is the default error handler.
func (p *ReverseProxy) defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.WithContext(r.Context()).Error("proxy error",
		observability.String("path", r.URL.Path),
		observability.String("method", r.Method),
		observability.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = io.WriteString(w, `{"error":"gateway timeout","message":"upstream did not respond in time"}`)
	case errors.Is(err, ErrNoAdmission):
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"internal server error"}`)
	default:
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":"bad gateway","message":"failed to proxy request"}`)
	}
}

// Handler returns an http.Handler for the proxy.
func (p *ReverseProxy) Handler() http.Handler {
	return p
}
