package rosca_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/rosca"
	"github.com/warp/rosca-engine/rosca/storetest"
)

func TestPositions_ZeroBeforeAnyPayment(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 3)

	positions := rosca.NewAccountant(pool).Positions()

	require.Len(t, positions, 3)
	for i, p := range positions {
		assert.True(t, p.Net.IsZero())
		assert.Equal(t, i+1, p.PayoutPeriod)
		require.NotNil(t, p.PayoutDate)
		assert.Equal(t, pool.Config.Periods[i].PayoutDate, *p.PayoutDate)
		assert.False(t, p.PaidOut)
	}
}

func TestPositions_SumToZeroAfterEveryPayout(t *testing.T) {
	// GIVEN: A 4-member pool mid-way through its rotation
	pool := storetest.NewActivePool(t, "p", 4)
	payAll(t, pool, 1)
	require.NoError(t, pool.MarkPaidOut(1))
	payAll(t, pool, 2)
	require.NoError(t, pool.MarkPaidOut(2))

	// WHEN: Positions are derived
	acct := rosca.NewAccountant(pool)
	sum := decimal.Zero
	for _, p := range acct.Positions() {
		sum = sum.Add(p.Net)
	}

	// THEN: Everything paid in has been paid out, so nets cancel
	assert.True(t, sum.IsZero(), "sum of net positions %s", sum)
	assert.Equal(t, "-200", acct.NetPosition("m0").String())
	assert.Equal(t, "-200", acct.NetPosition("m1").String())
	assert.Equal(t, "200", acct.NetPosition("m2").String())
	assert.Equal(t, "200", acct.NetPosition("m3").String())
}

func TestPositions_HeldMoneyWhileCollecting(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 3)
	require.NoError(t, pool.RecordContribution(1, "m1", hundred(), paidAt))

	s := rosca.NewAccountant(pool).Summary()

	assert.Equal(t, "300", s.Pot.String())
	assert.Equal(t, "100", s.TotalCollected.String())
	assert.Equal(t, "0", s.TotalPaidOut.String())
	assert.Equal(t, "100", s.Held.String())
	assert.Equal(t, 3, s.PeriodCount)
	assert.Equal(t, 0, s.PeriodsPaidOut)
	assert.Equal(t, 1, s.CurrentPeriod)
	assert.Equal(t, []rosca.MemberID{"m0", "m2"}, s.CurrentOutstanding)
}

func TestPositions_FormingPool(t *testing.T) {
	pool := storetest.NewFormingPool(t, "p", 3, paidAt)

	positions := rosca.NewAccountant(pool).Positions()

	require.Len(t, positions, 1)
	assert.Equal(t, rosca.MemberID("m0"), positions[0].MemberID)
	assert.Zero(t, positions[0].PayoutPeriod)
	assert.Nil(t, positions[0].PayoutDate)
}

func TestAccountant_UnknownMember(t *testing.T) {
	pool := storetest.NewActivePool(t, "p", 3)
	payAll(t, pool, 1)

	acct := rosca.NewAccountant(pool)
	assert.True(t, acct.TotalContributed("nobody").IsZero())
	assert.True(t, acct.NetPosition("nobody").IsZero())
}
