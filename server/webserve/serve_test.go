package webserve

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/donetkit/contrib-apm/metrics"
	"github.com/donetkit/contrib-apm/profiler"
	"github.com/donetkit/contrib-apm/tracer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type spanRecorder struct {
	mu    sync.Mutex
	spans []*tracer.Span
}

func (r *spanRecorder) Report(_ context.Context, span *tracer.Span, _ *profiler.CallStackElement) {
	r.mu.Lock()
	r.spans = append(r.spans, span)
	r.mu.Unlock()
}

func newTestTracer(t *testing.T, registry *prometheus.Registry) (*tracer.Server, *spanRecorder) {
	t.Helper()
	timers, err := metrics.NewTimers(metrics.WithRegisterer(registry))
	require.NoError(t, err)
	rec := &spanRecorder{}
	return tracer.New(
		tracer.WithReporter(rec),
		tracer.WithTimers(timers),
		tracer.WithPropagators(propagation.TraceContext{}),
	), rec
}

func TestMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	tr, rec := newTestTracer(t, registry)

	var inner *tracer.Span
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		inner = tracer.SpanFromContext(r.Context())
		_, _ = io.WriteString(w, "ok")
	})
	mux.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	s := New(WithTracer(tr), WithHandler(mux), WithMetrics("/metrics", registry))
	handler := s.Handler()
	serve := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, serve("/orders").Code)
	assert.Equal(t, http.StatusInternalServerError, serve("/fail").Code)

	require.Len(t, rec.spans, 2)
	span := rec.spans[0]
	assert.Same(t, span, inner)
	assert.Equal(t, "GET /orders", span.OperationName())
	assert.Equal(t, OperationType, span.OperationType())
	assert.Equal(t, trace.SpanKindServer, span.Kind())
	assert.True(t, span.IsRoot())
	assert.Equal(t, http.StatusOK, span.Tag("http.status_code"))
	assert.Equal(t, int64(2), span.Tag("http.response_content_length"))
	assert.NoError(t, span.Err())

	assert.EqualError(t, rec.spans[1].Err(), "500 Internal Server Error")

	w := serve("/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `apm_response_time_seconds_count{operation="GET /orders"} 1`)
	assert.Len(t, rec.spans, 2, "the metrics endpoint is not traced")
}

func TestMiddlewareRemoteParent(t *testing.T) {
	tr, rec := newTestTracer(t, prometheus.NewRegistry())
	handler := Middleware(tr, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
		func(r *http.Request) string { return "orders" })

	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, rec.spans, 1)
	assert.Equal(t, "orders", rec.spans[0].OperationName())
	assert.False(t, rec.spans[0].IsRoot())
	assert.True(t, rec.spans[0].IsSampled())
}

func TestServerStartStop(t *testing.T) {
	s := New(WithHost("127.0.0.1"), WithPort(0), WithMetrics("", nil),
		WithHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))
	require.NoError(t, s.Start())
	defer s.stop()

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "metrics endpoint disabled")
}
