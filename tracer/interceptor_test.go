package tracer

import (
	"testing"
	"time"

	"github.com/donetkit/contrib-apm/config"
	"github.com/donetkit/contrib-apm/profiler"
	"github.com/donetkit/contrib-apm/tracer/internal"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func newTestSpan(name string, opts ...SpanOption) *Span {
	s := &Span{name: name, kind: trace.SpanKindInternal, tags: map[string]interface{}{}, report: true, sampled: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// finishedAfter sets start and end so that Duration returns d.
func finishedAfter(s *Span, d time.Duration) *Span {
	s.start = time.Unix(100, 0)
	s.end = s.start.Add(d)
	return s
}

type fakeTimers struct {
	percentiles map[string]time.Duration
	observed    map[string][]time.Duration
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{percentiles: map[string]time.Duration{}, observed: map[string][]time.Duration{}}
}

func (f *fakeTimers) Percentile(operation string, p float64) (time.Duration, bool) {
	d, ok := f.percentiles[operation]
	return d, ok
}

func (f *fakeTimers) Observe(operation string, d time.Duration) {
	f.observed[operation] = append(f.observed[operation], d)
}

func TestRegistryOrder(t *testing.T) {
	var order []string
	pre := func(name string) PreInterceptor {
		return PreInterceptorFunc{ID: name, Fn: func(*PreExecutionContext) { order = append(order, name) }}
	}
	r := NewRegistry()
	r.AddPre(pre("a"), pre("b"))
	snapshot := r.PreInterceptors()
	r.AddPre(pre("c"))

	assert.Len(t, snapshot, 2, "snapshots are not affected by later registrations")
	for _, in := range r.PreInterceptors() {
		in.InterceptPre(nil)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)

	r.AddPost(NameFilteringInterceptor{})
	r.Remove("b")
	r.Remove("NameFilteringInterceptor")
	assert.Len(t, r.PreInterceptors(), 2)
	assert.Empty(t, r.PostInterceptors())
}

func TestNameFilteringInterceptor(t *testing.T) {
	tests := []struct {
		name    string
		span    string
		allowed []string
		report  bool
	}{
		{"empty name", "", nil, false},
		{"no allow list", "search", nil, true},
		{"listed", "checkout", []string{"checkout"}, true},
		{"not listed", "search", []string{"checkout"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.OnlyReportSpansWithName = tt.allowed
			ctx := newPostExecutionContext(newTestSpan(tt.span), cfg, nil)
			NameFilteringInterceptor{}.InterceptPost(ctx)
			assert.Equal(t, tt.report, ctx.IsReport())
		})
	}
}

func TestCallTreeExcludingInterceptor(t *testing.T) {
	timers := newFakeTimers()
	timers.percentiles["GET /orders"] = 100 * time.Millisecond
	tree := profiler.NewCallStackElement(nil, "GET /orders", time.Unix(100, 0))

	tests := []struct {
		name       string
		percentile float64
		duration   time.Duration
		tree       *profiler.CallStackElement
		exclude    bool
	}{
		{"disabled", 0, time.Millisecond, tree, false},
		{"faster than percentile", 0.5, 50 * time.Millisecond, tree, true},
		{"slower than percentile", 0.5, 150 * time.Millisecond, tree, false},
		{"percentile of one excludes all", 1, time.Hour, tree, true},
		{"no call tree", 1, time.Millisecond, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.ExcludeCallTreeFromReportWhenFasterThanXPercentOfRequests = tt.percentile
			span := finishedAfter(newTestSpan("GET /orders"), tt.duration)
			ctx := newPostExecutionContext(span, cfg, tt.tree)
			NewCallTreeExcludingInterceptor(timers).InterceptPost(ctx)
			assert.Equal(t, tt.exclude, ctx.IsExcludeCallTree())
			assert.True(t, ctx.IsReport(), "only the call tree is affected")
		})
	}

	// nothing recorded yet for this operation
	cfg := config.Default()
	cfg.ExcludeCallTreeFromReportWhenFasterThanXPercentOfRequests = 0.5
	ctx := newPostExecutionContext(finishedAfter(newTestSpan("GET /users"), time.Millisecond), cfg, tree)
	NewCallTreeExcludingInterceptor(timers).InterceptPost(ctx)
	assert.False(t, ctx.IsExcludeCallTree())
}

func TestExternalRequestThresholdInterceptor(t *testing.T) {
	timers := newFakeTimers()
	timers.percentiles[ExternalTimerName("sql")] = 20 * time.Millisecond

	tests := []struct {
		name       string
		kind       trace.SpanKind
		floorMs    float64
		percentile float64
		duration   time.Duration
		report     bool
	}{
		{"not external", trace.SpanKindServer, 50, 0, 10 * time.Millisecond, true},
		{"below floor", trace.SpanKindClient, 50, 0, 10 * time.Millisecond, false},
		{"above floor", trace.SpanKindClient, 50, 0, 60 * time.Millisecond, true},
		{"below percentile", trace.SpanKindClient, 0, 0.5, 10 * time.Millisecond, false},
		{"above percentile", trace.SpanKindClient, 0, 0.5, 30 * time.Millisecond, true},
		{"disabled", trace.SpanKindClient, 0, 0, time.Nanosecond, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.ExcludeExternalRequestsFasterThanMs = tt.floorMs
			cfg.ExcludeExternalRequestsWhenFasterThanXPercent = tt.percentile
			span := finishedAfter(newTestSpan("SELECT", WithSpanKind(tt.kind), WithOperationType("sql")), tt.duration)
			ctx := newPostExecutionContext(span, cfg, nil)
			NewExternalRequestThresholdInterceptor(timers).InterceptPost(ctx)
			assert.Equal(t, tt.report, ctx.IsReport())
		})
	}
}

func TestRateLimitingInterceptorOnlyVetoesRoots(t *testing.T) {
	clock := internal.NewManualClock(time.Unix(0, 0))
	cfg := config.Default()
	cfg.DefaultRateLimitSpansPerMinute = 60
	store := config.NewStore(cfg)
	ri := NewRateLimitingInterceptor(store, clock)

	root := newTestSpan("GET /orders")
	child := newTestSpan("SELECT")
	child.parent = root

	ctx := newPreExecutionContext(root, cfg)
	ri.InterceptPre(ctx)
	assert.True(t, ctx.IsReport(), "bucket starts full")

	// the child spends the next credit but is never vetoed itself
	ctx = newPreExecutionContext(child, cfg)
	ri.InterceptPre(ctx)
	assert.True(t, ctx.IsReport())

	ctx = newPreExecutionContext(root, cfg)
	ri.InterceptPre(ctx)
	assert.False(t, ctx.IsReport())

	clock.Advance(time.Second)
	ctx = newPreExecutionContext(root, cfg)
	ri.InterceptPre(ctx)
	assert.True(t, ctx.IsReport())
}

func TestRateLimitingInterceptorPerType(t *testing.T) {
	clock := internal.NewManualClock(time.Unix(0, 0))
	cfg := config.Default()
	cfg.RateLimitSpansPerMinutePerType = map[string]float64{"sql": 0}
	store := config.NewStore(cfg)
	ri := NewRateLimitingInterceptor(store, clock)

	ctx := newPreExecutionContext(newTestSpan("SELECT", WithOperationType("sql")), cfg)
	ri.InterceptPre(ctx)
	assert.False(t, ctx.IsReport(), "a zero rate rejects everything")

	for i := 0; i < 100; i++ {
		ctx = newPreExecutionContext(newTestSpan("GET /orders", WithOperationType("http")), cfg)
		ri.InterceptPre(ctx)
		assert.True(t, ctx.IsReport(), "default limit is unlimited")
	}

	// reconfiguration swaps the limiters
	next := cfg.Clone()
	next.RateLimitSpansPerMinutePerType = map[string]float64{}
	assert.NoError(t, store.Update(next))
	ctx = newPreExecutionContext(newTestSpan("SELECT", WithOperationType("sql")), next)
	ri.InterceptPre(ctx)
	assert.True(t, ctx.IsReport())
}

func TestCallTreeRateLimitingInterceptor(t *testing.T) {
	clock := internal.NewManualClock(time.Unix(0, 0))
	cfg := config.Default()
	cfg.OnlyCollectNCallTreesPerMinute = 1
	ci := NewCallTreeRateLimitingInterceptor(config.NewStore(cfg), clock)

	ctx := newPreExecutionContext(newTestSpan("a"), cfg)
	ci.InterceptPre(ctx)
	assert.True(t, ctx.IsCollectCallTree())

	ctx = newPreExecutionContext(newTestSpan("b"), cfg)
	ci.InterceptPre(ctx)
	assert.False(t, ctx.IsCollectCallTree())
	assert.True(t, ctx.IsReport(), "the span is still reported")

	// spans that collect no call tree do not spend credits
	clock.Advance(time.Minute)
	off := cfg.Clone()
	off.ProfilerActive = false
	ci.InterceptPre(newPreExecutionContext(newTestSpan("c"), off))
	ctx = newPreExecutionContext(newTestSpan("d"), cfg)
	ci.InterceptPre(ctx)
	assert.True(t, ctx.IsCollectCallTree())
}
