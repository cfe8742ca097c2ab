package internal

import (
	"math"
	"math/rand"
)

// ReservoirSize is the number of decision slots of a Reservoir.
const ReservoirSize = 100

// Reservoir is a fixed ring of sample/skip decisions with exactly cardinality
// sample slots spread randomly over the ring. A rolling counter picks the slot.
//
// A nil *Reservoir samples everything.
type Reservoir struct {
	slots       [ReservoirSize]bool
	cardinality int
}

// NewReservoir builds a reservoir for probability. Probabilities of 1 and above
// return nil.
func NewReservoir(probability float64, rnd *rand.Rand) *Reservoir {
	if probability >= 1 {
		return nil
	}
	if rnd == nil {
		rnd = NewRand()
	}
	cardinality := int(math.Round(probability * ReservoirSize))
	if cardinality < 0 {
		cardinality = 0
	}
	r := &Reservoir{cardinality: cardinality}

	// Reservoir sampling over the slot indexes: the first cardinality slots are
	// chosen, every later slot replaces a random chosen one with probability
	// cardinality/(i+1).
	chosen := make([]int, cardinality)
	for i := 0; i < cardinality; i++ {
		chosen[i] = i
		r.slots[i] = true
	}
	for i := cardinality; i < ReservoirSize; i++ {
		j := rnd.Intn(i + 1)
		if j < cardinality {
			r.slots[chosen[j]] = false
			r.slots[i] = true
			chosen[j] = i
		}
	}
	return r
}

// IsSampled returns the decision stored in the slot selected by counter.
func (r *Reservoir) IsSampled(counter int64) bool {
	if r == nil {
		return true
	}
	idx := counter % ReservoirSize
	if idx < 0 {
		idx = -idx
	}
	return r.slots[idx]
}

// Cardinality returns the number of sample slots.
func (r *Reservoir) Cardinality() int {
	if r == nil {
		return ReservoirSize
	}
	return r.cardinality
}

// Slots returns a copy of the decision ring.
func (r *Reservoir) Slots() []bool {
	if r == nil {
		return nil
	}
	out := make([]bool, ReservoirSize)
	copy(out, r.slots[:])
	return out
}
