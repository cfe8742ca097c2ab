package tracer

import (
	"sync/atomic"

	"github.com/donetkit/contrib-apm/config"
	"github.com/donetkit/contrib-apm/tracer/internal"
)

// RateLimitingInterceptor bounds the number of reported traces per minute,
// per operation type. Every span spends one credit of its type's limiter but
// only root spans are vetoed: children follow the decision of their trace.
type RateLimitingInterceptor struct {
	clock    internal.Clock
	manifest atomic.Value // *internal.Manifest
}

// NewRateLimitingInterceptor builds limiters from the store's current config
// and rebuilds them whenever the configured rates change.
func NewRateLimitingInterceptor(store *config.Store, clock Clock) *RateLimitingInterceptor {
	ri := &RateLimitingInterceptor{clock: clock}
	cfg := store.Load()
	ri.reconfigure(cfg)

	last := rateLimits{cfg.DefaultRateLimitSpansPerMinute, cfg.RateLimitSpansPerMinutePerType}
	store.OnChange(func(cfg *config.Config) {
		next := rateLimits{cfg.DefaultRateLimitSpansPerMinute, cfg.RateLimitSpansPerMinutePerType}
		if next.equal(last) {
			return
		}
		last = next
		ri.reconfigure(cfg)
	})
	return ri
}

func (ri *RateLimitingInterceptor) reconfigure(cfg *config.Config) {
	ri.manifest.Store(internal.NewManifest(cfg.DefaultRateLimitSpansPerMinute, cfg.RateLimitSpansPerMinutePerType, ri.clock))
}

// Name implements PreInterceptor.
func (ri *RateLimitingInterceptor) Name() string {
	return "RateLimitingInterceptor"
}

// InterceptPre implements PreInterceptor.
func (ri *RateLimitingInterceptor) InterceptPre(ctx *PreExecutionContext) {
	span := ctx.Span()
	limiter := ri.manifest.Load().(*internal.Manifest).LimiterFor(span.OperationType())
	if !limiter.CheckCredit(1) && span.IsRoot() {
		ctx.ShouldNotReport(ri.Name())
	}
}

// CallTreeRateLimitingInterceptor bounds how many call trees are collected
// per minute. It never affects whether the span is reported.
type CallTreeRateLimitingInterceptor struct {
	clock   internal.Clock
	limiter atomic.Value // *internal.RateLimiter
}

// NewCallTreeRateLimitingInterceptor reads onlyCollectNCallTreesPerMinute from
// store and follows its changes.
func NewCallTreeRateLimitingInterceptor(store *config.Store, clock Clock) *CallTreeRateLimitingInterceptor {
	ci := &CallTreeRateLimitingInterceptor{clock: clock}
	last := store.Load().OnlyCollectNCallTreesPerMinute
	ci.limiter.Store(internal.NewPerMinuteRateLimiter(last, clock))
	store.OnChange(func(cfg *config.Config) {
		if cfg.OnlyCollectNCallTreesPerMinute == last {
			return
		}
		last = cfg.OnlyCollectNCallTreesPerMinute
		ci.limiter.Store(internal.NewPerMinuteRateLimiter(last, ci.clock))
	})
	return ci
}

// Name implements PreInterceptor.
func (ci *CallTreeRateLimitingInterceptor) Name() string {
	return "CallTreeRateLimitingInterceptor"
}

// InterceptPre implements PreInterceptor.
func (ci *CallTreeRateLimitingInterceptor) InterceptPre(ctx *PreExecutionContext) {
	if !ctx.IsCollectCallTree() || !ctx.CanOwnCallTree() {
		return
	}
	if !ci.limiter.Load().(*internal.RateLimiter).CheckCredit(1) {
		ctx.ShouldNotCollectCallTree(ci.Name())
	}
}

type rateLimits struct {
	byDefault float64
	byType    map[string]float64
}

func (r rateLimits) equal(o rateLimits) bool {
	if r.byDefault != o.byDefault || len(r.byType) != len(o.byType) {
		return false
	}
	for k, v := range r.byType {
		if ov, ok := o.byType[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
