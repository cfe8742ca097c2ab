package tracer

import (
	"time"
)

// DurationDistribution answers percentile queries over the durations recorded
// for an operation. ok is false when nothing is known yet.
type DurationDistribution interface {
	Percentile(operation string, p float64) (d time.Duration, ok bool)
}

// ExternalTimerName is the distribution key of external requests of a type.
func ExternalTimerName(operationType string) string {
	return "external:" + operationType
}

// NameFilteringInterceptor drops spans without a name and, when
// onlyReportSpansWithName is set, spans whose name is not listed.
type NameFilteringInterceptor struct{}

// Name implements PostInterceptor.
func (NameFilteringInterceptor) Name() string {
	return "NameFilteringInterceptor"
}

// InterceptPost implements PostInterceptor.
func (f NameFilteringInterceptor) InterceptPost(ctx *PostExecutionContext) {
	name := ctx.Span().OperationName()
	if name == "" {
		ctx.ShouldNotReport(f.Name())
		return
	}
	allowed := ctx.Config().OnlyReportSpansWithName
	if len(allowed) == 0 {
		return
	}
	for _, n := range allowed {
		if n == name {
			return
		}
	}
	ctx.ShouldNotReport(f.Name())
}

// CallTreeExcludingInterceptor drops the call tree of spans faster than the
// configured percentile of their operation. A percentile of 1 or more drops
// every call tree, 0 disables the check.
type CallTreeExcludingInterceptor struct {
	timers DurationDistribution
}

func NewCallTreeExcludingInterceptor(timers DurationDistribution) *CallTreeExcludingInterceptor {
	return &CallTreeExcludingInterceptor{timers: timers}
}

// Name implements PostInterceptor.
func (ci *CallTreeExcludingInterceptor) Name() string {
	return "CallTreeExcludingInterceptor"
}

// InterceptPost implements PostInterceptor.
func (ci *CallTreeExcludingInterceptor) InterceptPost(ctx *PostExecutionContext) {
	if ctx.CallTree() == nil {
		return
	}
	p := ctx.Config().ExcludeCallTreeFromReportWhenFasterThanXPercentOfRequests
	if p <= 0 {
		return
	}
	if p >= 1 {
		ctx.ExcludeCallTree("excludeCallTreeFromReportWhenFasterThanXPercentOfRequests >= 1")
		return
	}
	span := ctx.Span()
	threshold, ok := ci.timers.Percentile(span.OperationName(), p)
	if ok && span.Duration() < threshold {
		ctx.ExcludeCallTree("faster than percentile")
	}
}

// ExternalRequestThresholdInterceptor drops external request spans that were
// faster than a fixed floor or than a percentile of their request type.
type ExternalRequestThresholdInterceptor struct {
	timers DurationDistribution
}

func NewExternalRequestThresholdInterceptor(timers DurationDistribution) *ExternalRequestThresholdInterceptor {
	return &ExternalRequestThresholdInterceptor{timers: timers}
}

// Name implements PostInterceptor.
func (ei *ExternalRequestThresholdInterceptor) Name() string {
	return "ExternalRequestThresholdInterceptor"
}

// InterceptPost implements PostInterceptor.
func (ei *ExternalRequestThresholdInterceptor) InterceptPost(ctx *PostExecutionContext) {
	span := ctx.Span()
	if !span.IsExternal() {
		return
	}
	cfg := ctx.Config()
	d := span.Duration()

	floor := time.Duration(cfg.ExcludeExternalRequestsFasterThanMs * float64(time.Millisecond))
	if floor > 0 && d < floor {
		ctx.ShouldNotReport(ei.Name())
		return
	}

	p := cfg.ExcludeExternalRequestsWhenFasterThanXPercent
	if p <= 0 {
		return
	}
	threshold, ok := ei.timers.Percentile(ExternalTimerName(span.OperationType()), p)
	if ok && d < threshold {
		ctx.ShouldNotReport(ei.Name())
	}
}
