package tracer

import (
	"sync"
	"sync/atomic"

	"github.com/donetkit/contrib-apm/tracer/internal"
)

// reservoirs is one immutable generation of sampling reservoirs.
type reservoirs struct {
	byDefault *internal.Reservoir
	byType    map[string]*internal.Reservoir
}

// ProbabilisticSampler selects a percentage of spans for reporting. Root spans
// use the default percentage, any span whose type has its own percentage uses
// that one, and other child spans are never sampled independently.
type ProbabilisticSampler struct {
	counter int64
	current atomic.Value // *reservoirs

	// serializes Reconfigure, readers never lock
	mu sync.Mutex
}

// NewProbabilisticSampler returns a sampler for percentages in 0..100.
func NewProbabilisticSampler(defaultPercentage float64, percentageByType map[string]float64) *ProbabilisticSampler {
	s := &ProbabilisticSampler{}
	s.Reconfigure(defaultPercentage, percentageByType)
	return s
}

// Reconfigure rebuilds every reservoir and swaps them in at once.
func (s *ProbabilisticSampler) Reconfigure(defaultPercentage float64, percentageByType map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rnd := internal.NewRand()
	next := &reservoirs{
		byDefault: internal.NewReservoir(defaultPercentage/100, rnd),
		byType:    make(map[string]*internal.Reservoir, len(percentageByType)),
	}
	for operationType, pct := range percentageByType {
		next.byType[operationType] = internal.NewReservoir(pct/100, rnd)
	}
	s.current.Store(next)
}

// IsSampled reports whether a span of operationType is sampled.
func (s *ProbabilisticSampler) IsSampled(operationType string, root bool) bool {
	r := s.current.Load().(*reservoirs)
	if reservoir, ok := r.byType[operationType]; ok {
		return s.sample(reservoir)
	}
	if root {
		return s.sample(r.byDefault)
	}
	return true
}

func (s *ProbabilisticSampler) sample(reservoir *internal.Reservoir) bool {
	if reservoir == nil {
		return true
	}
	return reservoir.IsSampled(atomic.AddInt64(&s.counter, 1))
}
