package internal

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countTrue(slots []bool) int {
	n := 0
	for _, s := range slots {
		if s {
			n++
		}
	}
	return n
}

func TestReservoirCardinality(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for _, p := range []float64{0, 0.001, 0.1, 0.125, 0.3, 0.5, 0.555, 0.99} {
		r := NewReservoir(p, rnd)
		require.NotNil(t, r)
		slots := r.Slots()
		assert.Len(t, slots, ReservoirSize)
		expected := int(p*ReservoirSize + 0.5)
		assert.Equal(t, expected, countTrue(slots), "probability %v", p)
		assert.Equal(t, expected, r.Cardinality())
	}
}

func TestReservoirAlwaysSample(t *testing.T) {
	r := NewReservoir(1, nil)
	assert.Nil(t, r)
	assert.True(t, r.IsSampled(7))
	assert.Equal(t, ReservoirSize, r.Cardinality())
}

func TestReservoirIsSpreadOut(t *testing.T) {
	// The chance that every sample slot of a 50% reservoir ends up in the first
	// half of the ring is astronomically small.
	r := NewReservoir(0.5, rand.New(rand.NewSource(1)))
	slots := r.Slots()
	assert.Less(t, countTrue(slots[:50]), 50)
	assert.Greater(t, countTrue(slots[50:]), 0)
}

func TestReservoirNegativeCounter(t *testing.T) {
	r := NewReservoir(0.5, rand.New(rand.NewSource(3)))
	slots := r.Slots()
	assert.Equal(t, slots[5], r.IsSampled(-5))
	assert.Equal(t, slots[5], r.IsSampled(105))
}
