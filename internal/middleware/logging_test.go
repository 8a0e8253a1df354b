package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avagate/internal/gateway"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/router"
	"github.com/vyrodovalexey/avagate/internal/util"
)

func TestLogging(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	logger := observability.NewLoggerFromZap(zap.New(core))

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	}), RequestID(), Logging(logger))

	req := httptest.NewRequest(http.MethodPut, "/items", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, logs.Len())

	entry := logs.All()[0]
	assert.Equal(t, "http request", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "PUT", fields["method"])
	assert.Equal(t, "/items", fields["path"])
	assert.EqualValues(t, http.StatusCreated, fields["status"])
	assert.EqualValues(t, 5, fields["size"])
	assert.Equal(t, "req-42", fields["request_id"])
	assert.NotContains(t, fields, "route")
}

func TestLogging_AdmissionFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	logger := observability.NewLoggerFromZap(zap.New(core))

	admitted := admitFunc(func(_ context.Context, in gateway.Inbound) (*gateway.Admission, error) {
		if in.Path == "/denied" {
			return nil, util.NewAdmissionError(util.KindForbidden, gateway.StageAuthorize, "", nil)
		}
		return &gateway.Admission{
			Destination: "http://orders.internal",
			Context: &gateway.RequestContext{
				Match: &router.Match{
					Route:       &router.CompiledRoute{Route: router.Route{Name: "orders"}},
					Destination: "http://orders.internal",
				},
			},
		}, nil
	})

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), Logging(logger), Admission(admitted, nil))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/denied", nil))

	require.Equal(t, 2, logs.Len())

	ok := logs.All()[0].ContextMap()
	assert.Equal(t, "orders", ok["route"])
	assert.Equal(t, "http://orders.internal", ok["destination"])
	assert.NotContains(t, ok, "reason")

	denied := logs.All()[1].ContextMap()
	assert.EqualValues(t, http.StatusForbidden, denied["status"])
	assert.Equal(t, "forbidden", denied["reason"])
	assert.NotContains(t, denied, "route")
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := GetMiddlewareMetrics()
	admitted := admitFunc(func(context.Context, gateway.Inbound) (*gateway.Admission, error) {
		return &gateway.Admission{
			Context: &gateway.RequestContext{
				Match: &router.Match{Route: &router.CompiledRoute{Route: router.Route{Name: "metrics-route"}}},
			},
		}, nil
	})

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}), Metrics(), Admission(admitted, nil))

	before := testutil.ToFloat64(m.requestsTotal.WithLabelValues("metrics-route", "GET", "202"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/m", nil))
	after := testutil.ToFloat64(m.requestsTotal.WithLabelValues("metrics-route", "GET", "202"))

	assert.InDelta(t, 1, after-before, 0)
	assert.Zero(t, testutil.ToFloat64(m.inFlight))
}

func TestWrapResponseWriter_Reuses(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)
	assert.Same(t, rw, wrapResponseWriter(rw))
	assert.Equal(t, http.StatusOK, rw.status)
	assert.Same(t, rec, rw.Unwrap())
}
