package tracer

import (
	"github.com/donetkit/contrib-apm/config"
	"github.com/donetkit/contrib-apm/profiler"
)

// verdict is a boolean decision where a forced "yes" cannot be overruled.
type verdict struct {
	sticky   bool
	value    bool
	vetoBy   string
	forcedBy string
}

func (v *verdict) must(by string) {
	if !v.sticky {
		v.forcedBy = by
	}
	v.sticky = true
	v.value = true
}

func (v *verdict) veto(by string) {
	if v.sticky {
		return
	}
	if v.value {
		v.vetoBy = by
	}
	v.value = false
}

// samplingContext holds the reporting verdict shared by both phases.
type samplingContext struct {
	span   *Span
	config *config.Config
	report verdict
}

// Span returns the span being decided on.
func (c *samplingContext) Span() *Span {
	return c.span
}

// Config returns the configuration snapshot taken when the phase started.
func (c *samplingContext) Config() *config.Config {
	return c.config
}

// MustReport forces the span to be reported; later vetoes are ignored.
func (c *samplingContext) MustReport(by string) {
	c.report.must(by)
}

// ShouldNotReport vetoes reporting unless MustReport was called.
func (c *samplingContext) ShouldNotReport(by string) {
	c.report.veto(by)
}

// IsReport returns the current reporting verdict.
func (c *samplingContext) IsReport() bool {
	return c.report.value
}

// ReportVetoedBy names the first interceptor that vetoed reporting.
func (c *samplingContext) ReportVetoedBy() string {
	if c.report.value {
		return ""
	}
	return c.report.vetoBy
}

// ReportForcedBy names the first interceptor that forced reporting.
func (c *samplingContext) ReportForcedBy() string {
	return c.report.forcedBy
}

// PreExecutionContext is handed to pre interceptors when a span starts.
type PreExecutionContext struct {
	samplingContext
	collectCallTree verdict
	canOwnCallTree  bool
}

func newPreExecutionContext(span *Span, cfg *config.Config) *PreExecutionContext {
	return &PreExecutionContext{
		samplingContext: samplingContext{span: span, config: cfg, report: verdict{value: true}},
		collectCallTree: verdict{value: cfg.ProfilerActive, vetoBy: "profilerActive"},
		canOwnCallTree:  !span.profiled,
	}
}

// CanOwnCallTree is false for spans recorded as a node of an enclosing span's
// call tree: whatever the verdict, they never collect a tree of their own.
func (c *PreExecutionContext) CanOwnCallTree() bool {
	return c.canOwnCallTree
}

// MustCollectCallTree forces call tree collection.
func (c *PreExecutionContext) MustCollectCallTree(reason string) {
	c.collectCallTree.must(reason)
}

// ShouldNotCollectCallTree vetoes call tree collection unless it was forced.
func (c *PreExecutionContext) ShouldNotCollectCallTree(reason string) {
	c.collectCallTree.veto(reason)
}

// IsCollectCallTree returns the current call tree verdict.
func (c *PreExecutionContext) IsCollectCallTree() bool {
	return c.collectCallTree.value
}

// CallTreeForcedBy names the first interceptor that forced collection.
func (c *PreExecutionContext) CallTreeForcedBy() string {
	return c.collectCallTree.forcedBy
}

// CallTreeVetoedBy names the first veto on collection, "" while collecting.
func (c *PreExecutionContext) CallTreeVetoedBy() string {
	if c.collectCallTree.value {
		return ""
	}
	return c.collectCallTree.vetoBy
}

// PostExecutionContext is handed to post interceptors when a span finishes.
type PostExecutionContext struct {
	samplingContext
	callTree        *profiler.CallStackElement
	preserveTree    bool
	preserveReason  string
	excludeCallTree bool
	excludeReason   string
}

func newPostExecutionContext(span *Span, cfg *config.Config, callTree *profiler.CallStackElement) *PostExecutionContext {
	return &PostExecutionContext{
		samplingContext: samplingContext{span: span, config: cfg, report: verdict{value: true}},
		callTree:        callTree,
	}
}

// CallTree returns the finished call tree, nil when none was collected.
func (c *PostExecutionContext) CallTree() *profiler.CallStackElement {
	return c.callTree
}

// ExcludeCallTree drops the call tree from the report unless
// MustPreserveCallTree was called. The span itself is unaffected.
func (c *PostExecutionContext) ExcludeCallTree(reason string) {
	if c.preserveTree {
		return
	}
	if !c.excludeCallTree {
		c.excludeReason = reason
	}
	c.excludeCallTree = true
}

// MustPreserveCallTree keeps the call tree regardless of ExcludeCallTree.
func (c *PostExecutionContext) MustPreserveCallTree(reason string) {
	if !c.preserveTree {
		c.preserveReason = reason
	}
	c.preserveTree = true
	c.excludeCallTree = false
	c.excludeReason = ""
}

// IsExcludeCallTree returns the current exclusion verdict.
func (c *PostExecutionContext) IsExcludeCallTree() bool {
	return c.excludeCallTree
}

// CallTreePreservedBy names the first interceptor that preserved the tree.
func (c *PostExecutionContext) CallTreePreservedBy() string {
	return c.preserveReason
}
