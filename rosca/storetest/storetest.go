// Package storetest is the conformance suite every rosca.PoolStore runs.
//
// A backend test only needs a constructor:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) rosca.PoolStore { return NewMemory() })
//	}
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/rosca"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) rosca.PoolStore

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// NewFormingPool returns a forming pool with the organizer already joined.
func NewFormingPool(t *testing.T, id rosca.PoolID, members int, createdAt time.Time) *rosca.Pool {
	t.Helper()
	pool, err := rosca.NewPool(id, "pool "+string(id), "m0", rosca.Settings{
		ContributionAmount: decimal.NewFromInt(100),
		MemberLimit:        members,
		Frequency:          rosca.FrequencyMonthly,
		RotationMode:       rosca.RotationFixedOrder,
		StartDate:          base.AddDate(0, 1, 0),
	}, createdAt)
	require.NoError(t, err)
	require.NoError(t, pool.Join(rosca.Participant{UserID: "m0", Name: "Member 0", JoinedAt: createdAt}))
	return pool
}

// NewActivePool returns a full, activated pool with members m0..m{n-1}.
func NewActivePool(t *testing.T, id rosca.PoolID, members int) *rosca.Pool {
	t.Helper()
	pool := NewFormingPool(t, id, members, base)
	for i := 1; i < members; i++ {
		require.NoError(t, pool.Join(rosca.Participant{
			UserID:   rosca.MemberID(fmt.Sprintf("m%d", i)),
			Name:     fmt.Sprintf("Member %d", i),
			JoinedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, pool.Activate(rosca.NewScheduler(rosca.NewSeededRotationGenerator(1))))
	return pool
}

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s rosca.PoolStore)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"GetMissing", testGetMissing},
		{"ListOrderedByCreation", testList},
		{"UpdateCommits", testUpdateCommits},
		{"UpdateErrorWritesNothing", testUpdateRollback},
		{"UpdateMissing", testUpdateMissing},
		{"UpdateReturnsCopy", testUpdateReturnsCopy},
		{"Delete", testDelete},
		{"ConcurrentContributions", testConcurrentContributions},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

// requireSamePool compares everything except Version.
func requireSamePool(t *testing.T, want, got *rosca.Pool) {
	t.Helper()
	w, g := *want, *got
	w.Version, g.Version = 0, 0
	wantJSON, err := json.Marshal(w)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(g)
	require.NoError(t, err)
	require.JSONEq(t, string(wantJSON), string(gotJSON))
}

func testCreateAndGet(t *testing.T, s rosca.PoolStore) {
	ctx := context.Background()

	// GIVEN: an active pool with a recorded contribution
	pool := NewActivePool(t, "p-create", 3)
	require.NoError(t, pool.RecordContribution(1, "m1", decimal.RequireFromString("100.50"), base.Add(time.Hour)))

	// WHEN: it is stored and read back
	require.NoError(t, s.Create(ctx, pool))
	got, err := s.Get(ctx, pool.ID)

	// THEN: nothing is lost
	require.NoError(t, err)
	requireSamePool(t, pool, got)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, []int{0, 1, 2}, got.Config.RotationOrder)
	assert.True(t, got.Config.Periods[0].Contributions[0].AmountPaid.Equal(decimal.RequireFromString("100.5")))
}

func testCreateDuplicate(t *testing.T, s rosca.PoolStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewFormingPool(t, "p-dup", 3, base)))

	err := s.Create(ctx, NewFormingPool(t, "p-dup", 3, base))
	assert.ErrorIs(t, err, rosca.ErrPoolExists)
}

func testGetMissing(t *testing.T, s rosca.PoolStore) {
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, rosca.ErrPoolNotFound)
}

func testList(t *testing.T, s rosca.PoolStore) {
	ctx := context.Background()
	for i, id := range []rosca.PoolID{"p-b", "p-c", "p-a"} {
		require.NoError(t, s.Create(ctx, NewFormingPool(t, id, 2, base.Add(time.Duration(i)*time.Hour))))
	}

	pools, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 3)
	assert.Equal(t, rosca.PoolID("p-b"), pools[0].ID)
	assert.Equal(t, rosca.PoolID("p-c"), pools[1].ID)
	assert.Equal(t, rosca.PoolID("p-a"), pools[2].ID)
}

func testUpdateCommits(t *testing.T, s rosca.PoolStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewActivePool(t, "p-upd", 2)))

	updated, err := s.Update(ctx, "p-upd", func(p *rosca.Pool) error {
		return p.RecordContribution(1, "m0", decimal.NewFromInt(100), base)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := s.Get(ctx, "p-upd")
	require.NoError(t, err)
	requireSamePool(t, updated, got)
	assert.Equal(t, int64(2), got.Version)
	require.Len(t, got.Config.Periods[0].Contributions, 1)
}

func testUpdateRollback(t *testing.T, s rosca.PoolStore) {
	ctx := context.Background()
	pool := NewActivePool(t, "p-rb", 2)
	require.NoError(t, s.Create(ctx, pool))

	// GIVEN: fn mutates the pool and then fails
	boom := errors.New("boom")
	_, err := s.Update(ctx, "p-rb", func(p *rosca.Pool) error {
		p.Name = "changed"
		require.NoError(t, p.RecordContribution(1, "m0", decimal.NewFromInt(100), base))
		return boom
	})

	// THEN: the error comes back unchanged and nothing was written
	assert.ErrorIs(t, err, boom)
	got, err := s.Get(ctx, "p-rb")
	require.NoError(t, err)
	requireSamePool(t, pool, got)
	assert.Equal(t, int64(1), got.Version)
}

func testUpdateMissing(t *testing.T, s rosca.PoolStore) {
	called := false
	_, err := s.Update(context.Background(), "nope", func(*rosca.Pool) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, rosca.ErrPoolNotFound)
	assert.False(t, called)
}

func testUpdateReturnsCopy(t *testing.T, s rosca.PoolStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewFormingPool(t, "p-copy", 3, base)))

	updated, err := s.Update(ctx, "p-copy", func(p *rosca.Pool) error {
		return p.Join(rosca.Participant{UserID: "m1", Name: "Member 1", JoinedAt: base})
	})
	require.NoError(t, err)

	// Mutating the returned pool must not reach the store.
	updated.Participants[0].Name = "mutated"
	got, err := s.Get(ctx, "p-copy")
	require.NoError(t, err)
	assert.Equal(t, "Member 0", got.Participants[0].Name)
	assert.Len(t, got.Participants, 2)
}

func testDelete(t *testing.T, s rosca.PoolStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewActivePool(t, "p-del", 2)))

	require.NoError(t, s.Delete(ctx, "p-del"))
	_, err := s.Get(ctx, "p-del")
	assert.ErrorIs(t, err, rosca.ErrPoolNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "p-del"), rosca.ErrPoolNotFound)
}

// testConcurrentContributions has every member pay into period 1 at once.
// A lost update would leave fewer than n contributions behind.
func testConcurrentContributions(t *testing.T, s rosca.PoolStore) {
	const n = 8
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewActivePool(t, "p-race", n)))

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(member rosca.MemberID) {
			defer wg.Done()
			errs <- rosca.Retry(ctx, 50, func() error {
				_, err := s.Update(ctx, "p-race", func(p *rosca.Pool) error {
					return p.RecordContribution(1, member, decimal.NewFromInt(100), base)
				})
				return err
			})
		}(rosca.MemberID(fmt.Sprintf("m%d", i)))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, "p-race")
	require.NoError(t, err)
	assert.Len(t, got.Config.Periods[0].Contributions, n)
	assert.True(t, rosca.IsComplete(got.Config.Periods[0], n))
	assert.Equal(t, int64(1+n), got.Version)
}
