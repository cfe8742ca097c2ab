package grpcserve

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/donetkit/contrib-apm/profiler"
	"github.com/donetkit/contrib-apm/tracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
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

func newTestTracer() (*tracer.Server, *spanRecorder) {
	rec := &spanRecorder{}
	return tracer.New(tracer.WithReporter(rec), tracer.WithPropagators(propagation.TraceContext{})), rec
}

func TestUnaryServerInterceptor(t *testing.T) {
	tr, rec := newTestTracer()
	interceptor := UnaryServerInterceptor(tr)
	info := &grpc.UnaryServerInfo{FullMethod: "/orders.v1.Orders/Get"}

	var inner *tracer.Span
	resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		inner = tracer.SpanFromContext(ctx)
		return "resp", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "resp", resp)

	_, err = interceptor(context.Background(), "req", info, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "no order")
	})
	assert.Error(t, err)

	require.Len(t, rec.spans, 2)
	span := rec.spans[0]
	assert.Same(t, span, inner)
	assert.Equal(t, "/orders.v1.Orders/Get", span.OperationName())
	assert.Equal(t, OperationType, span.OperationType())
	assert.Equal(t, trace.SpanKindServer, span.Kind())
	assert.True(t, span.IsRoot())
	assert.Equal(t, int64(codes.OK), span.Tag("rpc.grpc.status_code"))
	assert.Equal(t, int64(codes.NotFound), rec.spans[1].Tag("rpc.grpc.status_code"))
	assert.Error(t, rec.spans[1].Err())
}

func TestUnaryServerInterceptorRemoteParent(t *testing.T) {
	tr, rec := newTestTracer()
	md := metadata.Pairs("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	_, err := UnaryServerInterceptor(tr)(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/a"},
		func(ctx context.Context, _ interface{}) (interface{}, error) {
			span := tracer.SpanFromContext(ctx)
			assert.False(t, span.IsRoot())
			assert.False(t, span.IsSampled(), "remote caller sampled the trace out")
			return nil, nil
		})
	require.NoError(t, err)
	assert.Empty(t, rec.spans)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestStreamServerInterceptor(t *testing.T) {
	tr, rec := newTestTracer()
	err := StreamServerInterceptor(tr)(nil, fakeStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: "/orders.v1.Orders/Watch"},
		func(_ interface{}, ss grpc.ServerStream) error {
			assert.NotNil(t, tracer.SpanFromContext(ss.Context()))
			return errors.New("stream broken")
		})
	assert.EqualError(t, err, "stream broken")
	require.Len(t, rec.spans, 1)
	assert.Equal(t, int64(codes.Unknown), rec.spans[0].Tag("rpc.grpc.status_code"))
}

func TestNewServer(t *testing.T) {
	tr, _ := newTestTracer()
	s := New(WithTracer(tr), WithHost("127.0.0.1"), WithPort(0))
	require.NoError(t, s.Start())
	assert.NotNil(t, s.Options.listener)
	s.stop()
}
