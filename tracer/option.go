package tracer

import (
	"time"

	"github.com/donetkit/contrib-apm/config"
	"github.com/donetkit/contrib-log/glog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Option specifies instrumentation configuration options.
type Option interface {
	apply(*Server)
}

type optionFunc func(*Server)

func (o optionFunc) apply(s *Server) {
	o(s)
}

// WithTracerProvider specifies a tracer provider to use for creating a tracer.
// If none is specified, the global provider is used.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return optionFunc(func(s *Server) {
		if provider != nil {
			s.TracerProvider = provider
		}
	})
}

// WithPropagators specifies propagators to use for extracting
// information from the HTTP requests. If none are specified, global
// ones will be used.
func WithPropagators(propagators propagation.TextMapPropagator) Option {
	return optionFunc(func(s *Server) {
		if propagators != nil {
			s.Propagators = propagators
		}
	})
}

// WithMeterProvider specifies the provider of the decision counters.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return optionFunc(func(s *Server) {
		s.meterProvider = provider
	})
}

// WithServiceName sets the instrumentation name.
func WithServiceName(name string) Option {
	return optionFunc(func(s *Server) {
		s.tracerName = name
	})
}

// WithLogger sets the logger.
func WithLogger(logger glog.ILogger) Option {
	return optionFunc(func(s *Server) {
		s.logger = logger
	})
}

// WithConfigStore sets where sampling configuration is read from. Without it
// config.Default() is used and never changes.
func WithConfigStore(store *config.Store) Option {
	return optionFunc(func(s *Server) {
		s.store = store
	})
}

// WithClock replaces the wall clock, for tests.
func WithClock(clock Clock) Option {
	return optionFunc(func(s *Server) {
		s.clock = clock
	})
}

// WithTimers sets the duration distribution spans are recorded into and the
// percentile interceptors read from.
func WithTimers(timers Timers) Option {
	return optionFunc(func(s *Server) {
		s.timers = timers
	})
}

// WithReporter sets the transport for reported spans.
func WithReporter(reporter Reporter) Option {
	return optionFunc(func(s *Server) {
		s.reporter = reporter
	})
}

// WithPreInterceptors registers pre interceptors after the built in ones.
func WithPreInterceptors(in ...PreInterceptor) Option {
	return optionFunc(func(s *Server) {
		s.extraPre = append(s.extraPre, in...)
	})
}

// WithPostInterceptors registers post interceptors after the built in ones.
func WithPostInterceptors(in ...PostInterceptor) Option {
	return optionFunc(func(s *Server) {
		s.extraPost = append(s.extraPost, in...)
	})
}

// WithoutBuiltinInterceptors leaves the registry with only the interceptors
// passed through WithPreInterceptors and WithPostInterceptors.
func WithoutBuiltinInterceptors() Option {
	return optionFunc(func(s *Server) {
		s.noBuiltins = true
	})
}
