package tracer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSamplerDistribution(t *testing.T) {
	s := NewProbabilisticSampler(30, nil)
	const calls = 10000
	sampled := 0
	for i := 0; i < calls; i++ {
		if s.IsSampled("http", true) {
			sampled++
		}
	}
	assert.InDelta(t, 0.3, float64(sampled)/calls, 0.02)
}

func TestSamplerSteadyRate(t *testing.T) {
	s := NewProbabilisticSampler(50, nil)
	// every full turn of the ring samples exactly half
	for turn := 0; turn < 5; turn++ {
		sampled := 0
		for i := 0; i < 100; i++ {
			if s.IsSampled("http", true) {
				sampled++
			}
		}
		assert.Equal(t, 50, sampled)
	}
}

func TestSamplerAlwaysAndNever(t *testing.T) {
	always := NewProbabilisticSampler(100, nil)
	never := NewProbabilisticSampler(0, nil)
	for i := 0; i < 200; i++ {
		assert.True(t, always.IsSampled("http", true))
		assert.False(t, never.IsSampled("http", true))
	}
	assert.Zero(t, always.counter, "always sample skips the counter")
}

func TestSamplerChildSpans(t *testing.T) {
	s := NewProbabilisticSampler(0, map[string]float64{"redis": 0, "sql": 100})

	// children without an override are never re-sampled
	assert.True(t, s.IsSampled("http", false))
	// per type overrides apply to children too
	assert.False(t, s.IsSampled("redis", false))
	assert.True(t, s.IsSampled("sql", false))
	// roots fall back to the default
	assert.False(t, s.IsSampled("http", true))
	assert.True(t, s.IsSampled("sql", true))
}

func TestSamplerReconfigure(t *testing.T) {
	s := NewProbabilisticSampler(100, nil)
	assert.True(t, s.IsSampled("http", true))

	s.Reconfigure(0, nil)
	assert.False(t, s.IsSampled("http", true))

	s.Reconfigure(0, map[string]float64{"http": 100})
	assert.True(t, s.IsSampled("http", true))
}

func TestSamplerConcurrentReconfigure(t *testing.T) {
	s := NewProbabilisticSampler(30, nil)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.IsSampled("http", true)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		s.Reconfigure(float64(i), map[string]float64{"sql": float64(100 - i)})
	}
	wg.Wait()
}
