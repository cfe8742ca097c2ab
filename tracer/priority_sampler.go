package tracer

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// prioritySampler lets the sampling pipeline decide which otel spans are
// recorded. Spans started by Server carry SamplingPriorityTag; a priority of 0
// is dropped at start. Spans started elsewhere go to the fallback sampler.
type prioritySampler struct {
	fallback sdktrace.Sampler
}

// Compile time assertion that prioritySampler implements the Sampler interface.
var _ sdktrace.Sampler = (*prioritySampler)(nil)

// NewPrioritySampler returns a sampler for a TracerProvider used by Server.
// fallback decides spans without a priority; nil means parent based always on.
func NewPrioritySampler(fallback sdktrace.Sampler) sdktrace.Sampler {
	if fallback == nil {
		fallback = sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return &prioritySampler{fallback: fallback}
}

// ShouldSample drops spans the pipeline already marked as not reportable.
func (ps *prioritySampler) ShouldSample(parameters sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, attr := range parameters.Attributes {
		if string(attr.Key) != SamplingPriorityTag {
			continue
		}
		decision := sdktrace.RecordAndSample
		if attr.Value.AsInt64() <= 0 {
			decision = sdktrace.Drop
		}
		return sdktrace.SamplingResult{
			Decision:   decision,
			Tracestate: trace.SpanContextFromContext(parameters.ParentContext).TraceState(),
		}
	}
	return ps.fallback.ShouldSample(parameters)
}

// Description returns description of the sampler being used.
func (ps *prioritySampler) Description() string {
	return "PrioritySampler{" + ps.fallback.Description() + "}"
}
