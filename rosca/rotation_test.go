package rosca_test

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/rosca"
)

// =============================================================================
// GENERATE
// =============================================================================

func TestGenerate_FixedOrderIsIdentity(t *testing.T) {
	g := rosca.NewSeededRotationGenerator(42)

	order, err := g.Generate(5, rosca.RotationFixedOrder)

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestGenerate_BallotIsPermutation(t *testing.T) {
	g := rosca.NewSecureRotationGenerator()

	for n := 1; n <= 12; n++ {
		order, err := g.Generate(n, rosca.RotationBallotDraw)
		require.NoError(t, err)
		require.NoError(t, rosca.ValidateRotationOrder(order, n))

		sorted := append([]int(nil), order...)
		sort.Ints(sorted)
		for i, v := range sorted {
			assert.Equal(t, i, v)
		}
	}
}

func TestGenerate_SeededIsDeterministic(t *testing.T) {
	a, err := rosca.NewSeededRotationGenerator(7).Generate(10, rosca.RotationBallotDraw)
	require.NoError(t, err)
	b, err := rosca.NewSeededRotationGenerator(7).Generate(10, rosca.RotationBallotDraw)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestGenerate_BallotIsRoughlyUniform(t *testing.T) {
	// GIVEN: 6000 draws over 3 members (6 permutations)
	g := rosca.NewSeededRotationGenerator(2025)
	counts := map[string]int{}

	// WHEN: Counting each permutation
	for i := 0; i < 6000; i++ {
		order, err := g.Generate(3, rosca.RotationBallotDraw)
		require.NoError(t, err)
		counts[fmt.Sprint(order)]++
	}

	// THEN: Every permutation shows up close to 1000 times
	require.Len(t, counts, 6)
	for perm, c := range counts {
		assert.InDelta(t, 1000, c, 200, "permutation %s", perm)
	}
}

func TestGenerate_InjectedSource(t *testing.T) {
	// IntN always returning 0 swaps slot i with slot 0 on every step.
	g := rosca.NewRotationGenerator(zeroSource{})

	order, err := g.Generate(4, rosca.RotationBallotDraw)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 0}, order)
}

type zeroSource struct{}

func (zeroSource) IntN(int) int { return 0 }

func TestGenerate_Errors(t *testing.T) {
	g := rosca.NewSeededRotationGenerator(1)

	_, err := g.Generate(0, rosca.RotationFixedOrder)
	assert.ErrorIs(t, err, rosca.ErrInvalidMemberCount)

	_, err = g.Generate(-3, rosca.RotationBallotDraw)
	assert.ErrorIs(t, err, rosca.ErrInvalidMemberCount)

	_, err = g.Generate(3, "auction")
	assert.ErrorIs(t, err, rosca.ErrInvalidRotationMode)
}

func TestGenerate_ZeroValueGenerator(t *testing.T) {
	var g rosca.RotationGenerator

	order, err := g.Generate(6, rosca.RotationBallotDraw)

	require.NoError(t, err)
	assert.NoError(t, rosca.ValidateRotationOrder(order, 6))
}

// =============================================================================
// VALIDATE
// =============================================================================

func TestValidateRotationOrder(t *testing.T) {
	tests := []struct {
		name     string
		order    []int
		n        int
		wantSlot int
		wantErr  bool
	}{
		{"identity", []int{0, 1, 2}, 3, 0, false},
		{"shuffled", []int{2, 0, 1}, 3, 0, false},
		{"duplicate", []int{0, 0, 2}, 3, 0, true},
		{"out of range", []int{0, 1, 3}, 3, 3, true},
		{"negative", []int{-1, 0, 1}, 3, -1, true},
		{"too short", []int{0, 1}, 3, -1, true},
		{"too long", []int{0, 1, 2, 3}, 3, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rosca.ValidateRotationOrder(tt.order, tt.n)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, rosca.ErrDuplicateRotationAssignment)

			var roe *rosca.RotationOrderError
			require.True(t, errors.As(err, &roe))
			assert.Equal(t, tt.wantSlot, roe.Slot)
			assert.True(t, rosca.IsClientError(err))
		})
	}
}
