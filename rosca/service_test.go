package rosca_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/rosca"
	"github.com/warp/rosca-engine/rosca/store"
)

var serviceNow = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) *rosca.Service {
	t.Helper()
	svc := rosca.NewService(store.NewMemory())
	svc.Clock = func() time.Time { return serviceNow }
	svc.Scheduler = rosca.NewScheduler(rosca.NewSeededRotationGenerator(5))
	svc.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { _ = svc.Store.Close() })
	return svc
}

func createPool(t *testing.T, svc *rosca.Service, mode rosca.RotationMode) *rosca.Pool {
	t.Helper()
	s := validSettings()
	s.RotationMode = mode
	pool, err := svc.CreatePool(context.Background(), rosca.CreatePoolInput{
		Name:          "Family Pot",
		CreatedBy:     "A",
		OrganizerName: "Ada",
		Settings:      s,
	})
	require.NoError(t, err)
	return pool
}

func fillAndActivate(t *testing.T, svc *rosca.Service, id rosca.PoolID) *rosca.Pool {
	t.Helper()
	ctx := context.Background()
	for _, m := range []rosca.MemberID{"B", "C"} {
		_, err := svc.Join(ctx, id, m, string(m))
		require.NoError(t, err)
	}
	pool, err := svc.Activate(ctx, id)
	require.NoError(t, err)
	return pool
}

func TestService_CreatePool(t *testing.T) {
	svc := newService(t)

	pool := createPool(t, svc, rosca.RotationFixedOrder)

	assert.NotEmpty(t, pool.ID)
	assert.Equal(t, serviceNow, pool.CreatedAt)
	require.Len(t, pool.Participants, 1)
	assert.Equal(t, rosca.Participant{UserID: "A", Name: "Ada", JoinedAt: serviceNow}, pool.Participants[0])

	stored, err := svc.GetPool(context.Background(), pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
}

func TestService_CreatePool_SkipOrganizer(t *testing.T) {
	svc := newService(t)

	pool, err := svc.CreatePool(context.Background(), rosca.CreatePoolInput{
		Name: "Admin made", CreatedBy: "admin", SkipOrganizer: true, Settings: validSettings(),
	})

	require.NoError(t, err)
	assert.Empty(t, pool.Participants)
}

func TestService_CreatePool_Invalid(t *testing.T) {
	svc := newService(t)
	s := validSettings()
	s.MemberLimit = 0

	_, err := svc.CreatePool(context.Background(), rosca.CreatePoolInput{Name: "x", CreatedBy: "A", Settings: s})

	assert.ErrorIs(t, err, rosca.ErrInvalidMemberCount)
	pools, _ := svc.ListPools(context.Background())
	assert.Empty(t, pools)
}

func TestService_FullLifecycle(t *testing.T) {
	// GIVEN: A 3-member fixed-order pool, activated
	svc := newService(t)
	ctx := context.Background()
	pool := createPool(t, svc, rosca.RotationFixedOrder)
	pool = fillAndActivate(t, svc, pool.ID)
	require.Equal(t, rosca.StatusActive, pool.Status)

	// WHEN: Everybody pays every period and each is paid out
	for idx := 1; idx <= 3; idx++ {
		for _, m := range []rosca.MemberID{"A", "B", "C"} {
			_, err := svc.RecordContribution(ctx, pool.ID, idx, m, decimal.NewFromInt(100), time.Time{})
			require.NoError(t, err)
		}
		var err error
		pool, err = svc.MarkPaidOut(ctx, pool.ID, idx)
		require.NoError(t, err)
	}

	// THEN: Completed, every member whole, version counts every write
	assert.Equal(t, rosca.StatusCompleted, pool.Status)
	positions, err := svc.Positions(ctx, pool.ID)
	require.NoError(t, err)
	for _, p := range positions {
		assert.True(t, p.Net.IsZero())
		assert.True(t, p.PaidOut)
	}
	// create + 2 joins + activate + 9 contributions + 3 payouts
	assert.Equal(t, int64(1+2+1+9+3), pool.Version)

	_, ok, err := svc.NextPeriod(ctx, pool.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_RecordContribution_DefaultsPaidAt(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	pool := fillAndActivate(t, svc, createPool(t, svc, rosca.RotationFixedOrder).ID)

	pool, err := svc.RecordContribution(ctx, pool.ID, 1, "B", decimal.NewFromInt(100), time.Time{})
	require.NoError(t, err)

	c, ok := rosca.ContributionOf(pool.Config.Periods[0], "B")
	require.True(t, ok)
	assert.Equal(t, serviceNow, c.PaidAt)
	assert.Equal(t, serviceNow, pool.UpdatedAt)
}

func TestService_FailedMutationWritesNothing(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	pool := fillAndActivate(t, svc, createPool(t, svc, rosca.RotationFixedOrder).ID)

	_, err := svc.MarkPaidOut(ctx, pool.ID, 1)
	require.ErrorIs(t, err, rosca.ErrIncompletePeriod)

	stored, err := svc.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, pool.Version, stored.Version)
	assert.Equal(t, 1, stored.Config.CurrentPeriod)
}

func TestService_BallotDrawHappensOnce(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	pool := fillAndActivate(t, svc, createPool(t, svc, rosca.RotationBallotDraw).ID)
	order := pool.Config.RotationOrder

	_, err := svc.Activate(ctx, pool.ID)
	assert.ErrorIs(t, err, rosca.ErrPoolNotForming)

	stored, err := svc.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, order, stored.Config.RotationOrder)
	assert.NoError(t, rosca.ValidateRotationOrder(order, 3))
}

func TestService_ConcurrentJoins(t *testing.T) {
	// GIVEN: A pool with 9 free seats
	svc := newService(t)
	ctx := context.Background()
	s := validSettings()
	s.MemberLimit = 10
	pool, err := svc.CreatePool(ctx, rosca.CreatePoolInput{Name: "Big", CreatedBy: "m0", Settings: s})
	require.NoError(t, err)

	// WHEN: 12 members race to join
	var wg sync.WaitGroup
	var mu sync.Mutex
	var full int
	for i := 1; i <= 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Join(ctx, pool.ID, rosca.MemberID(fmt.Sprintf("m%d", i)), "")
			if errors.Is(err, rosca.ErrPoolFull) {
				mu.Lock()
				full++
				mu.Unlock()
				return
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// THEN: Exactly 9 got in, the rest were turned away
	stored, err := svc.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Participants, 10)
	assert.Equal(t, 3, full)
}

func TestService_Queries(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	pool := fillAndActivate(t, svc, createPool(t, svc, rosca.RotationFixedOrder).ID)

	next, ok, err := svc.NextPeriod(ctx, pool.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, next.Index)

	overdue, err := svc.Overdue(ctx, pool.ID)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	summary, err := svc.Summary(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, "300", summary.Pot.String())

	timeline, err := svc.Timeline(ctx, pool.ID)
	require.NoError(t, err)
	assert.Len(t, timeline, 3)

	// Later in time, the first period is overdue.
	svc.Clock = func() time.Time { return pool.Config.Periods[0].DueDate.Add(time.Hour) }
	overdue, err = svc.Overdue(ctx, pool.ID)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, 1, overdue[0].Index)
}

func TestService_MissingPool(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Join(ctx, "nope", "A", "")
	assert.ErrorIs(t, err, rosca.ErrPoolNotFound)
	_, _, err = svc.NextPeriod(ctx, "nope")
	assert.ErrorIs(t, err, rosca.ErrPoolNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "nope"), rosca.ErrPoolNotFound)
}

func TestService_DisbandAndDelete(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	pool := createPool(t, svc, rosca.RotationFixedOrder)

	pool, err := svc.Disband(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, rosca.StatusDisbanded, pool.Status)

	_, err = svc.Join(ctx, pool.ID, "B", "")
	assert.ErrorIs(t, err, rosca.ErrPoolNotForming)

	require.NoError(t, svc.Delete(ctx, pool.ID))
	_, err = svc.GetPool(ctx, pool.ID)
	assert.ErrorIs(t, err, rosca.ErrPoolNotFound)
}
