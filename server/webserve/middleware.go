package webserve

import (
	"fmt"
	"net/http"

	"github.com/donetkit/contrib-apm/tracer"
	"github.com/felixge/httpsnoop"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"go.opentelemetry.io/otel/trace"
)

// OperationType is the type tag of incoming request spans.
const OperationType = "http"

// SpanNameFormatter names the span of an incoming request.
type SpanNameFormatter func(r *http.Request) string

func defaultSpanName(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// Middleware starts a server span for every request handled by next. The
// propagated trace context, if any, becomes the remote parent.
func Middleware(tracerServer *tracer.Server, next http.Handler, formatter SpanNameFormatter) http.Handler {
	if formatter == nil {
		formatter = defaultSpanName
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracerServer.Propagators.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracerServer.StartSpan(ctx, formatter(r),
			tracer.WithSpanKind(trace.SpanKindServer),
			tracer.WithOperationType(OperationType),
			tracer.WithTag(string(semconv.HTTPMethodKey), r.Method),
			tracer.WithTag(string(semconv.HTTPTargetKey), r.URL.Path),
		)
		defer span.Finish()

		metrics := httpsnoop.CaptureMetrics(next, w, r.WithContext(ctx))
		span.SetTag(string(semconv.HTTPStatusCodeKey), metrics.Code)
		span.SetTag("http.response_content_length", metrics.Written)
		if metrics.Code >= http.StatusInternalServerError {
			span.RecordError(fmt.Errorf("%d %s", metrics.Code, http.StatusText(metrics.Code)))
		}
	})
}
