package rosca

import (
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"sync"
)

// =============================================================================
// ROTATION ORDER - Who gets the pot in which period
// =============================================================================

// RandSource is the randomness a ballot draw consumes.
// *rand.Rand from math/rand/v2 satisfies it.
type RandSource interface {
	IntN(n int) int
}

// RotationGenerator produces permutations of payout slots.
// It is safe for concurrent use. A zero value draws from a fresh
// crypto-seeded source on each ballot.
type RotationGenerator struct {
	mu   sync.Mutex
	Rand RandSource
}

func NewRotationGenerator(src RandSource) *RotationGenerator {
	return &RotationGenerator{Rand: src}
}

// NewSecureRotationGenerator seeds a ChaCha8 stream from crypto/rand.
func NewSecureRotationGenerator() *RotationGenerator {
	return &RotationGenerator{Rand: newSecureRand()}
}

func newSecureRand() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is gone.
		panic(fmt.Sprintf("rosca: reading random seed: %v", err))
	}
	return rand.New(rand.NewChaCha8(seed))
}

// NewSeededRotationGenerator is deterministic for a given seed.
func NewSeededRotationGenerator(seed uint64) *RotationGenerator {
	return &RotationGenerator{Rand: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate returns a permutation of [0, memberCount).
//
// fixed_order yields the identity. ballot_draw runs Fisher-Yates over the
// identity so every permutation is equally likely.
func (g *RotationGenerator) Generate(memberCount int, mode RotationMode) ([]int, error) {
	if memberCount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMemberCount, memberCount)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRotationMode, mode)
	}

	order := make([]int, memberCount)
	for i := range order {
		order[i] = i
	}

	if mode == RotationBallotDraw {
		g.mu.Lock()
		src := g.Rand
		if src == nil {
			src = newSecureRand()
		}
		for i := memberCount - 1; i > 0; i-- {
			j := src.IntN(i + 1)
			order[i], order[j] = order[j], order[i]
		}
		g.mu.Unlock()
	}

	if err := ValidateRotationOrder(order, memberCount); err != nil {
		return nil, err
	}
	return order, nil
}

// ValidateRotationOrder checks that order is a permutation of [0, n).
func ValidateRotationOrder(order []int, n int) error {
	if len(order) != n {
		return &RotationOrderError{
			Order:  order,
			Slot:   -1,
			Reason: fmt.Sprintf("has %d slots, want %d", len(order), n),
		}
	}
	seen := make([]bool, n)
	for _, slot := range order {
		if slot < 0 || slot >= n {
			return &RotationOrderError{Order: order, Slot: slot, Reason: fmt.Sprintf("slot %d out of range", slot)}
		}
		if seen[slot] {
			return &RotationOrderError{Order: order, Slot: slot, Reason: fmt.Sprintf("slot %d assigned twice", slot)}
		}
		seen[slot] = true
	}
	return nil
}
