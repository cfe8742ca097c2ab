package tracer

import (
	"context"
	"time"

	"github.com/donetkit/contrib-apm/config"
	"github.com/donetkit/contrib-apm/profiler"
	"github.com/donetkit/contrib-log/glog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/instrument/syncint64"
)

// Reporter receives spans with a positive verdict together with their call
// tree, which is nil when none was collected or it was excluded.
type Reporter interface {
	Report(ctx context.Context, span *Span, callTree *profiler.CallStackElement)
}

// ReporterFunc adapts a function to a Reporter.
type ReporterFunc func(ctx context.Context, span *Span, callTree *profiler.CallStackElement)

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, span *Span, callTree *profiler.CallStackElement) {
	f(ctx, span, callTree)
}

var (
	decisionKey = attribute.Key("decision")
	phaseKey    = attribute.Key("phase")
)

// Orchestrator runs the interceptor phases of every span and turns their
// verdicts into the report decision and the call tree to attach.
type Orchestrator struct {
	store    *config.Store
	sampler  *ProbabilisticSampler
	registry *Registry
	profiler *profiler.Profiler
	reporter Reporter
	logger   glog.ILoggerEntry

	decisions syncint64.Counter
	panics    syncint64.Counter
}

func newOrchestrator(store *config.Store, sampler *ProbabilisticSampler, registry *Registry, p *profiler.Profiler,
	reporter Reporter, meter metric.Meter, logger glog.ILoggerEntry) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		sampler:  sampler,
		registry: registry,
		profiler: p,
		reporter: reporter,
		logger:   logger,
	}
	var err error
	if o.decisions, err = meter.SyncInt64().Counter("apm.sampling.decisions",
		instrument.WithDescription("Sampling decisions per span by outcome")); err != nil {
		logger.Warnf("create decision counter: %s", err.Error())
	}
	if o.panics, err = meter.SyncInt64().Counter("apm.sampling.interceptor_panics",
		instrument.WithDescription("Interceptor panics recovered by the sampling pipeline")); err != nil {
		logger.Warnf("create panic counter: %s", err.Error())
	}
	return o
}

// OnStart runs the pre phase. The returned context carries the call stack
// when the span activated profiling.
func (o *Orchestrator) OnStart(ctx context.Context, span *Span) context.Context {
	if profiler.IsActive(ctx) {
		// recorded as a node of the enclosing span's call tree
		ctx, span.profileNode = o.profiler.Enter(ctx, span.OperationName())
		span.profiled = span.profileNode != nil
	}

	span.sampled = o.isSampled(span)
	if !span.sampled {
		span.markNotReportable()
		o.count(ctx, "pre", "sampled_out")
		o.logger.Debugf("span %q sampled out", span.OperationName())
		return ctx
	}

	pre := newPreExecutionContext(span, o.store.Load())
	for _, in := range o.registry.PreInterceptors() {
		o.runPre(in, pre)
	}

	span.report = pre.IsReport()
	if !span.report {
		span.markNotReportable()
		o.count(ctx, "pre", "vetoed")
		o.logger.Debugf("span %q not reported: vetoed by %s", span.OperationName(), pre.ReportVetoedBy())
		return ctx
	}

	if pre.IsCollectCallTree() && pre.CanOwnCallTree() {
		var root *profiler.CallStackElement
		ctx, root = o.profiler.Activate(ctx, span.OperationName())
		span.ownsCallTree = root != nil
		if by := pre.CallTreeForcedBy(); by != "" {
			o.logger.Debugf("call tree of %q forced by %s", span.OperationName(), by)
		}
	}
	return ctx
}

// isSampled combines the trace level verdict with the probabilistic sampler.
// Children of a sampled out span are sampled out too.
func (o *Orchestrator) isSampled(span *Span) bool {
	switch {
	case span.parent != nil:
		if !span.parent.sampled {
			return false
		}
	case span.remoteParent.IsValid():
		if !span.remoteParent.IsSampled() {
			return false
		}
	}
	return o.sampler.IsSampled(span.OperationType(), span.IsRoot())
}

// OnFinish runs the post phase on a finished span and hands it to the reporter
// when the verdict is positive. ctx is the context returned by OnStart.
func (o *Orchestrator) OnFinish(ctx context.Context, span *Span) {
	if span.ownsCallTree {
		defer profiler.Clear(ctx)
	}
	if span.profiled {
		o.profiler.Exit(ctx, span.profileNode, span.OperationName())
	}
	if !span.IsReportable() {
		return
	}

	var callTree *profiler.CallStackElement
	if span.ownsCallTree {
		callTree = o.profiler.StopProfiling(ctx)
	}

	cfg := o.store.Load()
	post := newPostExecutionContext(span, cfg, callTree)
	for _, in := range o.registry.PostInterceptors() {
		o.runPost(in, post)
	}

	if callTree != nil {
		if post.IsExcludeCallTree() {
			o.logger.Debugf("call tree of %q excluded: %s", span.OperationName(), post.excludeReason)
			callTree = nil
		} else {
			if by := post.CallTreePreservedBy(); by != "" {
				o.logger.Debugf("call tree of %q preserved by %s", span.OperationName(), by)
			}
			callTree.SetSignature(span.OperationName())
			if pct := cfg.MinExecutionTimePercent; pct > 0 {
				callTree.RemoveCallsFasterThan(time.Duration(float64(callTree.ExecutionTime) * pct / 100))
			}
		}
	}
	span.callTree = callTree

	if !post.IsReport() {
		span.markNotReportable()
		o.count(ctx, "post", "vetoed")
		o.logger.Debugf("span %q not reported: vetoed by %s", span.OperationName(), post.ReportVetoedBy())
		return
	}
	if by := post.ReportForcedBy(); by != "" {
		o.logger.Debugf("span %q reported: forced by %s", span.OperationName(), by)
	}
	o.count(ctx, "post", "reported")
	if o.reporter != nil {
		o.reporter.Report(ctx, span, callTree)
	}
}

func (o *Orchestrator) runPre(in PreInterceptor, ctx *PreExecutionContext) {
	defer o.recover(in.Name())
	in.InterceptPre(ctx)
}

func (o *Orchestrator) runPost(in PostInterceptor, ctx *PostExecutionContext) {
	defer o.recover(in.Name())
	in.InterceptPost(ctx)
}

func (o *Orchestrator) recover(name string) {
	if r := recover(); r != nil {
		o.logger.Errorf("interceptor %s panicked: %v", name, r)
		if o.panics != nil {
			o.panics.Add(context.Background(), 1, attribute.String("interceptor", name))
		}
	}
}

func (o *Orchestrator) count(ctx context.Context, phase, decision string) {
	if o.decisions != nil {
		o.decisions.Add(ctx, 1, phaseKey.String(phase), decisionKey.String(decision))
	}
}
