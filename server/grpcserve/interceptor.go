package grpcserve

import (
	"context"

	"github.com/donetkit/contrib-apm/tracer"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// OperationType is the type tag of incoming call spans.
const OperationType = "grpc"

type metadataCarrier metadata.MD

var _ propagation.TextMapCarrier = metadataCarrier{}

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func startSpan(ctx context.Context, tracerServer *tracer.Server, method string) (context.Context, *tracer.Span) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = tracerServer.Propagators.Extract(ctx, metadataCarrier(md))
	}
	return tracerServer.StartSpan(ctx, method,
		tracer.WithSpanKind(trace.SpanKindServer),
		tracer.WithOperationType(OperationType),
		tracer.WithTag(string(semconv.RPCSystemKey), "grpc"),
	)
}

func finishSpan(span *tracer.Span, err error) {
	code := status.Code(err)
	span.SetTag(string(semconv.RPCGRPCStatusCodeKey), int64(code))
	span.RecordError(err)
	span.Finish()
}

// UnaryServerInterceptor starts a server span for every unary call.
func UnaryServerInterceptor(tracerServer *tracer.Server) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, span := startSpan(ctx, tracerServer, info.FullMethod)
		resp, err := handler(ctx, req)
		finishSpan(span, err)
		return resp, err
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

// StreamServerInterceptor starts a server span covering a whole stream.
func StreamServerInterceptor(tracerServer *tracer.Server) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span := startSpan(ss.Context(), tracerServer, info.FullMethod)
		err := handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
		finishSpan(span, err)
		return err
	}
}
