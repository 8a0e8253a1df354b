package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/vyrodovalexey/avagate/internal/observability"
)

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush implements http.Flusher interface for streaming support.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying writer for http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// requestInfo is filled in by Admission and read by the outer middleware
// once the request completes.
type requestInfo struct {
	route       string
	destination string
	subject     string
	reason      string
}

type requestInfoKey struct{}

// withRequestInfo returns the request's info, attaching a new one if needed.
func withRequestInfo(r *http.Request) (*requestInfo, *http.Request) {
	if info := requestInfoFrom(r.Context()); info != nil {
		return info, r
	}
	info := &requestInfo{}
	return info, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

func (i *requestInfo) routeLabel() string {
	if i.route == "" {
		return unknownRoute
	}
	return i.route
}

// Logging returns a middleware that logs HTTP requests.
func Logging(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info, r := withRequestInfo(r)
			rw := wrapResponseWriter(w)

			next.ServeHTTP(rw, r)

			fields := []observability.Field{
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Int("status", rw.status),
				observability.Int("size", rw.size),
				observability.Duration("duration", time.Since(start)),
				observability.String("remote_addr", r.RemoteAddr),
				observability.String("user_agent", r.UserAgent()),
			}
			if info.route != "" {
				fields = append(fields, observability.String("route", info.route))
			}
			if info.destination != "" {
				fields = append(fields, observability.String("destination", info.destination))
			}
			if info.subject != "" {
				fields = append(fields, observability.String("subject", info.subject))
			}
			if info.reason != "" {
				fields = append(fields, observability.String("reason", info.reason))
			}

			logger.WithContext(r.Context()).Info("http request", fields...)
		})
	}
}
