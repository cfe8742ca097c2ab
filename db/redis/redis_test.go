package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/donetkit/contrib-apm/profiler"
	"github.com/donetkit/contrib-apm/tracer"
	"github.com/donetkit/contrib-log/glog"
	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func newTestTracer() (*tracer.Server, *spanRecorder) {
	rec := &spanRecorder{}
	return tracer.New(tracer.WithReporter(rec)), rec
}

func TestTracingHookCommand(t *testing.T) {
	server, rec := newTestTracer()
	hook := NewTracingHook(server, glog.New())

	ctx, root := server.StartSpan(context.Background(), "GET /orders")
	ctx = WithDB(ctx, 2)
	cmd := redis.NewStringCmd(ctx, "get", "orders:1")
	hookCtx, err := hook.BeforeProcess(ctx, cmd)
	require.NoError(t, err)
	require.NoError(t, hook.AfterProcess(hookCtx, cmd))
	root.Finish()

	require.Len(t, rec.spans, 2)
	span := rec.spans[0]
	assert.Equal(t, "db[2]:redis:get", span.OperationName())
	assert.Equal(t, OperationType, span.OperationType())
	assert.Equal(t, trace.SpanKindClient, span.Kind())
	assert.Equal(t, "db[2]:redis:get => orders:1", span.Tag("db.statement"))
	assert.Same(t, root, span.Parent())

	tree := rec.spans[1].CallTree()
	require.NotNil(t, tree)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "db[2]:redis:get", tree.Children[0].Signature)
}

func TestTracingHookWithoutTrace(t *testing.T) {
	server, rec := newTestTracer()
	hook := NewTracingHook(server, nil)

	ctx := context.Background()
	cmd := redis.NewStatusCmd(ctx, "ping")
	hookCtx, err := hook.BeforeProcess(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, ctx, hookCtx)
	require.NoError(t, hook.AfterProcess(hookCtx, cmd))
	assert.Empty(t, rec.spans)

	// a hook without tracer only logs
	hook = NewTracingHook(nil, glog.New())
	hookCtx, err = hook.BeforeProcess(ctx, cmd)
	require.NoError(t, err)
	assert.NoError(t, hook.AfterProcess(hookCtx, cmd))
}

func TestTracingHookPipeline(t *testing.T) {
	server, rec := newTestTracer()
	hook := NewTracingHook(server, nil)

	ctx, root := server.StartSpan(context.Background(), "GET /orders")
	get := redis.NewStringCmd(ctx, "get", "a")
	get.SetErr(redis.Nil)
	set := redis.NewStatusCmd(ctx, "set", "b", "1")
	set.SetErr(errors.New("READONLY"))
	cmds := []redis.Cmder{get, set}

	hookCtx, err := hook.BeforeProcessPipeline(ctx, cmds)
	require.NoError(t, err)
	require.NoError(t, hook.AfterProcessPipeline(hookCtx, cmds))
	root.Finish()

	require.Len(t, rec.spans, 2)
	span := rec.spans[0]
	assert.Equal(t, "db:redis:pipeline get set", span.OperationName())
	assert.Equal(t, "db:redis:get => a, db:redis:set => b", span.Tag("db.statement"))
	assert.Equal(t, 2, span.Tag("db.redis.num_cmd"))
	assert.EqualError(t, span.Err(), "READONLY")
}

func TestNewDocument(t *testing.T) {
	server, rec := newTestTracer()
	ctx, span := server.StartSpan(context.Background(), "GET /orders", tracer.WithOperationType("http"), tracer.WithTag("http.status_code", 200))
	server.Profiler().Trace(ctx, "loadOrders", func(context.Context) {})
	span.Finish()
	require.Len(t, rec.spans, 1)

	doc := NewDocument(span, span.CallTree(), "host@1")
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "GET /orders", doc.Name)
	assert.Equal(t, "http", doc.Type)
	assert.Equal(t, "internal", doc.Kind)
	assert.True(t, doc.Root)
	assert.Equal(t, "host@1", doc.Host)
	assert.Equal(t, map[string]interface{}{"http.status_code": 200}, doc.Tags)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "GET /orders", decoded["name"])
	assert.Contains(t, decoded, "callTree")
}

func TestStreamReporterDropsWhenFull(t *testing.T) {
	server, _ := newTestTracer()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	reporter := NewStreamReporter(client, "apm:spans", WithBufferSize(1), WithReporterLogger(glog.New()))
	_, span := server.StartSpan(context.Background(), "GET /orders")
	span.Finish()

	reporter.Report(context.Background(), span, nil)
	reporter.Report(context.Background(), span, nil)
	assert.Equal(t, int64(1), reporter.Dropped())
	reporter.Close()
}

func TestStreamReporterCloseFlushes(t *testing.T) {
	server, _ := newTestTracer()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()

	reporter := NewStreamReporter(client, "apm:spans", WithFlushInterval(time.Hour), WithBatchSize(10))
	reporter.Start(context.Background())
	_, span := server.StartSpan(context.Background(), "GET /orders")
	span.Finish()
	reporter.Report(context.Background(), span, nil)

	closed := make(chan struct{})
	go func() {
		reporter.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Empty(t, reporter.queue)
}
