package tracer

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ReportingProcessor forwards ended spans to next unless the sampling pipeline
// set SamplingPriorityTag to 0 on them. It is the transport boundary for
// exporters: spans vetoed after they started are dropped here.
type ReportingProcessor struct {
	next sdktrace.SpanProcessor
}

var _ sdktrace.SpanProcessor = (*ReportingProcessor)(nil)

// NewReportingProcessor wraps next, typically a batch span processor.
func NewReportingProcessor(next sdktrace.SpanProcessor) *ReportingProcessor {
	return &ReportingProcessor{next: next}
}

// NewExportPipeline returns a ReportingProcessor batching into exporter.
func NewExportPipeline(exporter sdktrace.SpanExporter, opts ...sdktrace.BatchSpanProcessorOption) *ReportingProcessor {
	return NewReportingProcessor(sdktrace.NewBatchSpanProcessor(exporter, opts...))
}

func (p *ReportingProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	p.next.OnStart(parent, s)
}

func (p *ReportingProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !isReportable(s) {
		return
	}
	p.next.OnEnd(s)
}

func (p *ReportingProcessor) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}

func (p *ReportingProcessor) ForceFlush(ctx context.Context) error {
	return p.next.ForceFlush(ctx)
}

func isReportable(s sdktrace.ReadOnlySpan) bool {
	priority := int64(1)
	// the last value wins, Finish may overwrite the one set at start
	for _, attr := range s.Attributes() {
		if string(attr.Key) == SamplingPriorityTag {
			priority = attr.Value.AsInt64()
		}
	}
	return priority > 0
}
