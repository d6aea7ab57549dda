package rosca_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/rosca"
	"github.com/warp/rosca-engine/rosca/storetest"
)

// payAll records a full contribution from every member into period idx.
func payAll(t *testing.T, pool *rosca.Pool, idx int) {
	t.Helper()
	for _, m := range pool.MemberIDs() {
		require.NoError(t, pool.RecordContribution(idx, m, pool.Config.ContributionAmount, paidAt))
	}
}

func snapshot(t *testing.T, pool *rosca.Pool) string {
	t.Helper()
	b, err := json.Marshal(pool)
	require.NoError(t, err)
	return string(b)
}

// =============================================================================
// PERIOD STATE
// =============================================================================

func TestStateOf(t *testing.T) {
	due := time.Date(2025, time.March, 30, 0, 0, 0, 0, time.UTC)
	p := rosca.Period{Index: 1, DueDate: due}

	assert.Equal(t, rosca.StateScheduled, rosca.StateOf(p, due.Add(-time.Second)))
	assert.Equal(t, rosca.StateCollecting, rosca.StateOf(p, due))
	assert.Equal(t, rosca.StateCollecting, rosca.StateOf(p, due.AddDate(0, 1, 0)))

	p.PayoutComplete = true
	assert.Equal(t, rosca.StatePaidOut, rosca.StateOf(p, due.Add(-time.Hour)))
}

func TestIsOverdue(t *testing.T) {
	due := time.Date(2025, time.March, 30, 0, 0, 0, 0, time.UTC)
	p := rosca.Period{DueDate: due}

	assert.False(t, rosca.IsOverdue(p, due))
	assert.True(t, rosca.IsOverdue(p, due.Add(time.Second)))

	p.PayoutComplete = true
	assert.False(t, rosca.IsOverdue(p, due.AddDate(1, 0, 0)))
}

func TestNextPeriod(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 3)
	first := pool.Config.Periods[0]

	next, ok := rosca.NextPeriod(pool, first.DueDate.Add(-time.Hour))
	require.True(t, ok)
	assert.Equal(t, 1, next.Index)

	// Period 1 overdue: the next period still ahead is 2.
	next, ok = rosca.NextPeriod(pool, first.DueDate.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, 2, next.Index)

	// Past every due date.
	_, ok = rosca.NextPeriod(pool, pool.Config.Periods[2].DueDate.AddDate(0, 0, 1))
	assert.False(t, ok)
}

func TestOverduePeriods(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 3)
	afterSecond := pool.Config.Periods[1].DueDate.Add(time.Minute)

	overdue := rosca.OverduePeriods(pool, afterSecond)
	require.Len(t, overdue, 2)
	assert.Equal(t, 1, overdue[0].Index)
	assert.Equal(t, 2, overdue[1].Index)

	// Overdue periods are reported, never resolved.
	assert.Equal(t, 1, pool.Config.CurrentPeriod)
	assert.False(t, pool.Config.Periods[0].PayoutComplete)

	assert.Empty(t, rosca.OverduePeriods(pool, pool.Config.Periods[0].DueDate.Add(-time.Minute)))
}

// =============================================================================
// MARK PAID OUT
// =============================================================================

func TestMarkPaidOut_ExampleScenario(t *testing.T) {
	// GIVEN: A, B, C each pay 100 into period 1 of a 3-member monthly pool
	pool := storetest.NewActivePool(t, "p", 3)
	payAll(t, pool, 1)
	require.True(t, rosca.IsComplete(pool.Config.Periods[0], 3))

	// WHEN: Period 1 is paid out
	require.NoError(t, rosca.MarkPaidOut(pool, 1))

	// THEN: The pointer advances and m0 is a net beneficiary of 200
	assert.True(t, pool.Config.Periods[0].PayoutComplete)
	assert.Equal(t, 2, pool.Config.CurrentPeriod)
	assert.Equal(t, rosca.StatusActive, pool.Status)

	acct := rosca.NewAccountant(pool)
	assert.Equal(t, "300", acct.TotalPayoutReceived("m0").String())
	assert.Equal(t, "100", acct.TotalContributed("m0").String())
	assert.Equal(t, "-200", acct.NetPosition("m0").String())
}

func TestMarkPaidOut_Incomplete(t *testing.T) {
	// GIVEN: Only m0 and m2 have paid period 1
	pool := storetest.NewActivePool(t, "p", 3)
	require.NoError(t, pool.RecordContribution(1, "m0", hundred(), paidAt))
	require.NoError(t, pool.RecordContribution(1, "m2", hundred(), paidAt))
	before := snapshot(t, pool)

	// WHEN: Paying out
	err := rosca.MarkPaidOut(pool, 1)

	// THEN: Refused, naming m1, and nothing changed
	require.ErrorIs(t, err, rosca.ErrIncompletePeriod)
	var inc *rosca.IncompletePeriodError
	require.True(t, errors.As(err, &inc))
	assert.Equal(t, 1, inc.PeriodIndex)
	assert.Equal(t, []rosca.MemberID{"m1"}, inc.Outstanding)
	assert.JSONEq(t, before, snapshot(t, pool))
}

func TestMarkPaidOut_OutOfOrder(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 3)
	payAll(t, pool, 2)
	before := snapshot(t, pool)

	err := rosca.MarkPaidOut(pool, 2)

	require.ErrorIs(t, err, rosca.ErrIncompletePeriod)
	var ooo *rosca.OutOfOrderPayoutError
	require.True(t, errors.As(err, &ooo))
	assert.Equal(t, 1, ooo.Blocking)
	assert.JSONEq(t, before, snapshot(t, pool))
}

func TestMarkPaidOut_Idempotent(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 3)
	payAll(t, pool, 1)
	require.NoError(t, rosca.MarkPaidOut(pool, 1))
	after := snapshot(t, pool)

	require.NoError(t, rosca.MarkPaidOut(pool, 1))
	assert.JSONEq(t, after, snapshot(t, pool))
}

func TestMarkPaidOut_UnknownPeriod(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 3)

	for _, idx := range []int{0, 4, -1} {
		t.Run(fmt.Sprint(idx), func(t *testing.T) {
			err := rosca.MarkPaidOut(pool, idx)
			assert.ErrorIs(t, err, rosca.ErrPeriodNotFound)
			assert.True(t, rosca.IsNotFound(err))
		})
	}
}

func TestMarkPaidOut_LastPeriodCompletesPool(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 3)
	for idx := 1; idx <= 3; idx++ {
		payAll(t, pool, idx)
		require.NoError(t, rosca.MarkPaidOut(pool, idx))
	}

	assert.Equal(t, rosca.StatusCompleted, pool.Status)
	assert.Equal(t, 4, pool.Config.CurrentPeriod)

	// A retried final payout still succeeds on the completed pool.
	assert.NoError(t, rosca.MarkPaidOut(pool, 3))
}

func TestMarkPaidOut_FormingPool(t *testing.T) {
	pool := storetest.NewFormingPool(t, "p", 3, paidAt)
	assert.ErrorIs(t, rosca.MarkPaidOut(pool, 1), rosca.ErrPoolNotActive)
}

func TestCurrentPeriodOnlyMovesForward(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 4)
	var seen []int
	for idx := 1; idx <= 4; idx++ {
		payAll(t, pool, idx)
		require.NoError(t, pool.MarkPaidOut(idx))
		require.NoError(t, pool.MarkPaidOut(idx))
		seen = append(seen, pool.Config.CurrentPeriod)
	}
	assert.Equal(t, []int{2, 3, 4, 5}, seen)
}

// =============================================================================
// TIMELINE
// =============================================================================

func TestTimeline(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 3)
	payAll(t, pool, 1)
	require.NoError(t, pool.MarkPaidOut(1))
	require.NoError(t, pool.RecordContribution(2, "m1", hundred(), paidAt))
	now := pool.Config.Periods[1].DueDate.Add(time.Hour)

	tl := rosca.Timeline(pool, now)

	require.Len(t, tl, 3)
	assert.Equal(t, rosca.StatePaidOut, tl[0].State)
	assert.Empty(t, tl[0].Outstanding)

	assert.Equal(t, rosca.StateCollecting, tl[1].State)
	assert.True(t, tl[1].Overdue)
	assert.True(t, tl[1].Current)
	assert.Equal(t, "100", tl[1].Collected.String())
	assert.Equal(t, []rosca.MemberID{"m0", "m2"}, tl[1].Outstanding)

	assert.Equal(t, rosca.StateScheduled, tl[2].State)
	assert.False(t, tl[2].Current)
}
