package tracer

import (
	"context"
	"time"

	"github.com/donetkit/contrib-apm/config"
	"github.com/donetkit/contrib-apm/metrics"
	"github.com/donetkit/contrib-apm/profiler"
	"github.com/donetkit/contrib-apm/tracer/internal"
	"github.com/donetkit/contrib-log/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"

	otelBaggage "go.opentelemetry.io/otel/baggage"
	otelTrace "go.opentelemetry.io/otel/trace"
)

// Timers records span durations and answers percentile queries over them.
type Timers interface {
	DurationDistribution
	Observe(operation string, d time.Duration)
}

// Server starts spans and runs the sampling pipeline on them.
type Server struct {
	TracerProvider otelTrace.TracerProvider
	Tracer         otelTrace.Tracer
	Propagators    propagation.TextMapPropagator

	tracerName    string
	logger        glog.ILogger
	meterProvider metric.MeterProvider
	store         *config.Store
	clock         Clock
	timers        Timers
	reporter      Reporter
	extraPre      []PreInterceptor
	extraPost     []PostInterceptor
	noBuiltins    bool

	sampler      *ProbabilisticSampler
	registry     *Registry
	profiler     *profiler.Profiler
	orchestrator *Orchestrator
}

// New returns *tracer.Server
func New(opts ...Option) *Server {
	cfg := &Server{
		tracerName: "Service",
	}
	for _, opt := range opts {
		opt.apply(cfg)
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	cfg.Tracer = cfg.TracerProvider.Tracer(
		cfg.tracerName,
		otelTrace.WithInstrumentationVersion(SemVersion()),
	)
	if cfg.Propagators == nil {
		cfg.Propagators = otel.GetTextMapPropagator()
	}
	if cfg.logger == nil {
		cfg.logger = glog.New()
	}
	if cfg.meterProvider == nil {
		cfg.meterProvider = global.MeterProvider()
	}
	if cfg.store == nil {
		cfg.store = config.NewStore(nil, config.WithLogger(cfg.logger))
	}
	if cfg.clock == nil {
		cfg.clock = internal.DefaultClock{}
	}
	if cfg.timers == nil {
		timers, err := metrics.NewTimers()
		if err != nil {
			cfg.logger.WithField("Tracer", "Tracer").Errorf("percentile rules disabled: %s", err.Error())
		} else {
			cfg.timers = timers
		}
	}

	current := cfg.store.Load()
	cfg.sampler = NewProbabilisticSampler(current.DefaultSamplePercentage, current.SamplePercentagePerType)
	trackPercentiles(cfg.timers, current)
	cfg.store.OnChange(func(c *config.Config) {
		cfg.sampler.Reconfigure(c.DefaultSamplePercentage, c.SamplePercentagePerType)
		trackPercentiles(cfg.timers, c)
	})

	cfg.registry = NewRegistry()
	if !cfg.noBuiltins {
		cfg.registry.AddPre(
			NewRateLimitingInterceptor(cfg.store, cfg.clock),
			NewCallTreeRateLimitingInterceptor(cfg.store, cfg.clock),
		)
		cfg.registry.AddPost(builtinPostInterceptors(cfg.timers)...)
	}
	cfg.registry.AddPre(cfg.extraPre...)
	cfg.registry.AddPost(cfg.extraPost...)

	cfg.profiler = profiler.New(profiler.WithClock(cfg.clock.Now))
	meter := cfg.meterProvider.Meter(cfg.tracerName, metric.WithInstrumentationVersion(SemVersion()))
	cfg.orchestrator = newOrchestrator(cfg.store, cfg.sampler, cfg.registry, cfg.profiler, cfg.reporter,
		meter, cfg.logger.WithField("Orchestrator", "Orchestrator"))
	return cfg
}

// quantileTracker is implemented by timers that can track extra quantiles.
type quantileTracker interface {
	TrackQuantiles(quantiles ...float64)
}

// trackPercentiles makes timers track the percentiles the exclusion rules of c read.
func trackPercentiles(timers Timers, c *config.Config) {
	tracker, ok := timers.(quantileTracker)
	if !ok {
		return
	}
	tracker.TrackQuantiles(
		c.ExcludeCallTreeFromReportWhenFasterThanXPercentOfRequests,
		c.ExcludeExternalRequestsWhenFasterThanXPercent,
	)
}

// builtinPostInterceptors returns the default post interceptors. The
// percentile based ones need timers and are left out without them.
func builtinPostInterceptors(timers Timers) []PostInterceptor {
	interceptors := []PostInterceptor{NameFilteringInterceptor{}}
	if timers == nil {
		return interceptors
	}
	return append(interceptors,
		NewCallTreeExcludingInterceptor(timers),
		NewExternalRequestThresholdInterceptor(timers),
	)
}

// StartSpan starts a span named name as a child of the span on ctx, if any.
// The returned context carries the span and, when profiling was activated,
// its call stack. Callers must Finish the span.
func (s *Server) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	span := &Span{
		server: s,
		name:   name,
		kind:   otelTrace.SpanKindInternal,
		tags:   map[string]interface{}{},
		start:  s.clock.Now(),
		report: true,
		parent: SpanFromContext(ctx),
	}
	for _, opt := range opts {
		opt(span)
	}
	if span.parent == nil {
		span.remoteParent = otelTrace.SpanContextFromContext(ctx)
	}

	ctx = s.orchestrator.OnStart(ctx, span)

	priority := 1
	if !span.IsReportable() {
		priority = 0
	}
	ctx, span.otel = s.Tracer.Start(ctx, name,
		otelTrace.WithSpanKind(span.kind),
		otelTrace.WithTimestamp(span.start),
		otelTrace.WithAttributes(
			attribute.String(TypeTag, span.OperationType()),
			attribute.Int(SamplingPriorityTag, priority),
		),
	)
	ctx = context.WithValue(ctx, spanKey{}, span)
	span.ctx = ctx
	return ctx, span
}

// StartSpanFromParent is StartSpan for code that only holds the parent span.
func (s *Server) StartSpanFromParent(parent *Span, name string, opts ...SpanOption) (context.Context, *Span) {
	if parent == nil {
		return s.StartSpan(context.Background(), name, opts...)
	}
	return s.StartSpan(parent.Context(), name, opts...)
}

func (s *Server) finish(span *Span) {
	span.end = s.clock.Now()
	s.orchestrator.OnFinish(span.ctx, span)

	// recorded after the decision so percentiles only cover earlier spans
	if s.timers != nil {
		s.timers.Observe(span.OperationName(), span.Duration())
		if span.IsExternal() {
			s.timers.Observe(ExternalTimerName(span.OperationType()), span.Duration())
		}
	}
	span.endOtel()
}

// Registry returns the interceptor registry, extensions may be added at any time.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Profiler returns the profiler that records nested calls into call trees.
func (s *Server) Profiler() *profiler.Profiler {
	return s.profiler
}

// ConfigStore returns the configuration the pipeline reads.
func (s *Server) ConfigStore() *config.Store {
	return s.store
}

func (s *Server) Stop(ctx context.Context) {
	tp, ok := s.TracerProvider.(*trace.TracerProvider)
	if ok {
		tp.Shutdown(ctx)
	}
}

func (s *Server) SpanFromContext(ctx context.Context) otelTrace.Span {
	return otelTrace.SpanFromContext(ctx)
}

func (s *Server) FromContext(ctx context.Context) otelBaggage.Baggage {
	return otelBaggage.FromContext(ctx)
}

// WithAttributes adds the attributes related to a span life-cycle event.
func (s *Server) WithAttributes(attributes ...attribute.KeyValue) otelTrace.SpanStartEventOption {
	return otelTrace.WithAttributes(attributes...)
}
