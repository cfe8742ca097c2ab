package tracer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/donetkit/contrib-apm/profiler"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TypeTag holds the operation type, e.g. http, sql or redis.
	TypeTag = "type"
	// SamplingPriorityTag is set to 0 on spans that must not be reported.
	SamplingPriorityTag = "sampling.priority"
	// CallTreeAttribute carries the JSON encoded call tree of reported spans.
	CallTreeAttribute = "apm.call_tree"
)

type spanKey struct{}

// Span is one timed unit of monitored work. A Span is used by the goroutine
// that started it; Finish must be called exactly once.
type Span struct {
	server *Server
	otel   trace.Span
	ctx    context.Context

	parent       *Span
	remoteParent trace.SpanContext

	mu   sync.Mutex
	name string
	kind trace.SpanKind
	tags map[string]interface{}
	err  error

	start time.Time
	end   time.Time

	// sampled is the probabilistic verdict, report the current reporting verdict.
	sampled bool
	report  bool

	// ownsCallTree is set on the span that activated profiling, profiled on
	// spans recorded as a node of an outer span's tree.
	ownsCallTree bool
	profiled     bool
	profileNode  *profiler.CallStackElement
	callTree     *profiler.CallStackElement

	finishOnce sync.Once
}

// SpanOption configures a span when it is started.
type SpanOption func(*Span)

// WithSpanKind sets the span kind. Client spans are external requests.
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(s *Span) {
		s.kind = kind
	}
}

// WithOperationType sets the TypeTag.
func WithOperationType(operationType string) SpanOption {
	return func(s *Span) {
		s.tags[TypeTag] = operationType
	}
}

// WithTag sets a tag at start, so pre interceptors see it.
func WithTag(key string, value interface{}) SpanOption {
	return func(s *Span) {
		s.tags[key] = value
	}
}

// SpanFromContext returns the span started on ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// OperationName returns the current name.
func (s *Span) OperationName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetOperationName renames the span. The name at Finish is the reported one.
func (s *Span) SetOperationName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// OperationType returns the TypeTag value.
func (s *Span) OperationType() string {
	t, _ := s.Tag(TypeTag).(string)
	return t
}

// SetTag sets a tag.
func (s *Span) SetTag(key string, value interface{}) {
	s.mu.Lock()
	s.tags[key] = value
	s.mu.Unlock()
}

// Tag returns a tag value, nil when unset.
func (s *Span) Tag(key string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[key]
}

// Tags returns a copy of all tags.
func (s *Span) Tags() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

// RecordError marks the span as failed.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Err returns the error recorded on the span.
func (s *Span) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Kind returns the span kind.
func (s *Span) Kind() trace.SpanKind {
	return s.kind
}

// IsRoot reports whether the span starts a trace: it has neither a local
// parent span nor a propagated remote parent.
func (s *Span) IsRoot() bool {
	return s.parent == nil && !s.remoteParent.IsValid()
}

// IsExternal reports whether the span is an outbound request.
func (s *Span) IsExternal() bool {
	return s.kind == trace.SpanKindClient
}

// Parent returns the local parent span, nil for roots and remote children.
func (s *Span) Parent() *Span {
	return s.parent
}

// StartTime returns when the span started.
func (s *Span) StartTime() time.Time {
	return s.start
}

// Duration is the execution time of a finished span, zero before Finish.
func (s *Span) Duration() time.Duration {
	if s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.start)
}

// CallTree returns the call tree attached at Finish.
func (s *Span) CallTree() *profiler.CallStackElement {
	return s.callTree
}

// IsSampled returns the probabilistic sampling verdict.
func (s *Span) IsSampled() bool {
	return s.sampled
}

// IsReportable returns the reporting verdict. It is final after Finish.
func (s *Span) IsReportable() bool {
	return s.sampled && s.report
}

// Context returns the context the span was started with.
func (s *Span) Context() context.Context {
	return s.ctx
}

// OtelSpan returns the underlying OpenTelemetry span.
func (s *Span) OtelSpan() trace.Span {
	return s.otel
}

// Finish ends the span and runs the reporting decision.
func (s *Span) Finish() {
	s.finishOnce.Do(func() {
		s.server.finish(s)
	})
}

func (s *Span) markNotReportable() {
	s.report = false
	s.SetTag(SamplingPriorityTag, 0)
}

// attributes converts tags into otel attributes.
func (s *Span) attributes() []attribute.KeyValue {
	tags := s.Tags()
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, toAttribute(k, v))
	}
	return attrs
}

func (s *Span) endOtel() {
	if s.otel == nil {
		return
	}
	s.otel.SetName(s.OperationName())
	s.otel.SetAttributes(s.attributes()...)
	if s.err != nil {
		s.otel.RecordError(s.err)
		s.otel.SetStatus(codes.Error, s.err.Error())
	}
	if s.callTree != nil {
		if data, err := profiler.MarshalCallTree(s.callTree); err == nil {
			s.otel.SetAttributes(attribute.String(CallTreeAttribute, string(data)))
		}
	}
	s.otel.End(trace.WithTimestamp(s.end))
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	case fmt.Stringer:
		return attribute.Stringer(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
