package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/vyrodovalexey/avagate/internal/gateway"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/util"
)

// Admitter decides whether a request may be forwarded.
type Admitter interface {
	Admit(ctx context.Context, in gateway.Inbound) (*gateway.Admission, error)
}

// errHandlerPanic is reported to the breaker when the handler panics.
var errHandlerPanic = errors.New("handler panicked")

// rejectionBody is the JSON body written for a rejected request.
type rejectionBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Stage      string `json:"stage,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Admission returns a middleware that runs every request through admitter.
// Rejections are written as JSON with the status of their kind. Admitted
// requests carry the *gateway.Admission in their context; a 5xx response or
// a panic is reported to the destination's breaker as a failure.
func Admission(admitter Admitter, logger observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := observability.RequestIDFromContext(ctx)
			if requestID == "" {
				requestID = r.Header.Get(RequestIDHeader)
			}

			adm, err := admitter.Admit(ctx, gateway.Inbound{
				Method:     r.Method,
				Path:       r.URL.Path,
				Headers:    r.Header,
				RemoteAddr: r.RemoteAddr,
				RequestID:  requestID,
			})
			info := requestInfoFrom(ctx)
			if err != nil {
				status := WriteRejection(w, err, requestID)
				GetMiddlewareMetrics().rejectionsWritten.WithLabelValues(status.Reason).Inc()
				if info != nil {
					info.reason = status.Reason
				}
				return
			}

			if info != nil {
				info.route = adm.Context.RouteName()
				info.destination = adm.Destination
				info.subject = adm.Context.Subject()
			}
			if requestID == "" {
				ctx = observability.ContextWithRequestID(ctx, adm.Context.RequestID)
			}
			ctx = observability.ContextWithRoute(ctx, adm.Context.RouteName(), adm.Context.Subject())

			sw := util.NewStatusCapturingResponseWriter(w)
			defer func() {
				if p := recover(); p != nil {
					adm.Finish(errHandlerPanic)
					panic(p)
				}
				var outcome error
				if sw.StatusCode >= http.StatusInternalServerError {
					outcome = util.NewServerError(sw.StatusCode)
				}
				adm.Finish(outcome)
			}()

			next.ServeHTTP(sw, r.WithContext(gateway.ContextWithAdmission(ctx, adm)))
		})
	}
}

// WriteRejection renders err as a JSON rejection and returns its status.
// The cause is never exposed to the client.
func WriteRejection(w http.ResponseWriter, err error, requestID string) util.Status {
	status := util.StatusOf(err)
	body := rejectionBody{
		Error:     status.Reason,
		Message:   http.StatusText(status.HTTP),
		RequestID: requestID,
	}

	var ae *util.AdmissionError
	if errors.As(err, &ae) {
		body.Stage = ae.Stage
		if s := ae.Kind.Sentinel(); s != nil {
			body.Message = s.Error()
		}
		if ae.RetryAfter > 0 {
			secs := retryAfterSeconds(ae.RetryAfter)
			body.RetryAfter = secs
			w.Header().Set(HeaderRetryAfter, strconv.Itoa(secs))
		}
	}

	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.Header().Set(HeaderGatewayReason, status.Reason)
	if ae != nil && (ae.Kind == util.KindInvalidToken || ae.Kind == util.KindExpiredToken || ae.Kind == util.KindMissingToken) {
		w.Header().Set(HeaderWWWAuthenticate, `Bearer error="`+status.Reason+`"`)
	}
	w.WriteHeader(status.HTTP)
	_ = json.NewEncoder(w).Encode(body)
	return status
}

// retryAfterSeconds rounds d up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
