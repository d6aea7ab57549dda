package rosca_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/rosca"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func days(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Format(time.DateOnly)
	}
	return out
}

// =============================================================================
// PAYOUT DATES
// =============================================================================

func TestPayoutDates(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		freq  rosca.Frequency
		count int
		want  []string
	}{
		{
			name:  "weekly",
			start: date(2025, time.April, 1),
			freq:  rosca.FrequencyWeekly,
			count: 3,
			want:  []string{"2025-04-01", "2025-04-08", "2025-04-15"},
		},
		{
			name:  "monthly mid-month",
			start: date(2025, time.April, 15),
			freq:  rosca.FrequencyMonthly,
			count: 3,
			want:  []string{"2025-04-15", "2025-05-15", "2025-06-15"},
		},
		{
			name:  "monthly on the 31st clamps to month end",
			start: date(2025, time.January, 31),
			freq:  rosca.FrequencyMonthly,
			count: 4,
			want:  []string{"2025-01-31", "2025-02-28", "2025-03-31", "2025-04-30"},
		},
		{
			name:  "leap year february",
			start: date(2024, time.January, 31),
			freq:  rosca.FrequencyMonthly,
			count: 2,
			want:  []string{"2024-01-31", "2024-02-29"},
		},
		{
			name:  "monthly on the 30th",
			start: date(2025, time.January, 30),
			freq:  rosca.FrequencyMonthly,
			count: 3,
			want:  []string{"2025-01-30", "2025-02-28", "2025-03-30"},
		},
		{
			name:  "single period",
			start: date(2025, time.June, 1),
			freq:  rosca.FrequencyWeekly,
			count: 1,
			want:  []string{"2025-06-01"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rosca.PayoutDates(tt.start, tt.freq, tt.count)
			require.NoError(t, err)
			assert.Equal(t, tt.want, days(got))
		})
	}
}

func TestPayoutDates_KeepsTimeOfDay(t *testing.T) {
	start := time.Date(2025, time.April, 1, 9, 30, 0, 0, time.UTC)

	got, err := rosca.PayoutDates(start, rosca.FrequencyMonthly, 2)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.May, 1, 9, 30, 0, 0, time.UTC), got[1])
}

func TestPayoutDates_Errors(t *testing.T) {
	_, err := rosca.PayoutDates(date(2025, 1, 1), rosca.FrequencyWeekly, 0)
	assert.ErrorIs(t, err, rosca.ErrInvalidMemberCount)

	_, err = rosca.PayoutDates(time.Time{}, rosca.FrequencyWeekly, 3)
	assert.ErrorIs(t, err, rosca.ErrInvalidStartDate)

	_, err = rosca.PayoutDates(date(2025, 1, 1), "daily", 3)
	assert.ErrorIs(t, err, rosca.ErrInvalidFrequency)
}

// =============================================================================
// INITIALIZE PERIODS
// =============================================================================

func threeMemberConfig() rosca.Config {
	return rosca.Config{
		ContributionAmount: decimal.NewFromInt(100),
		MemberLimit:        3,
		Frequency:          rosca.FrequencyMonthly,
		RotationMode:       rosca.RotationFixedOrder,
		StartDate:          date(2025, time.April, 1),
	}
}

func TestInitializePeriods_FixedOrder(t *testing.T) {
	// GIVEN: 3 members paying 100 monthly, fixed order
	s := rosca.NewScheduler(rosca.NewSeededRotationGenerator(1))

	// WHEN: The schedule is materialized
	periods, order, err := s.InitializePeriods(threeMemberConfig(), []rosca.MemberID{"A", "B", "C"})

	// THEN: One period per member, pot 300, paying A then B then C
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, order)
	require.Len(t, periods, 3)
	for i, p := range periods {
		assert.Equal(t, i+1, p.Index)
		assert.True(t, decimal.NewFromInt(300).Equal(p.PayoutAmount))
		assert.Equal(t, p.PayoutDate.AddDate(0, 0, -rosca.DueLeadDays), p.DueDate)
		assert.False(t, p.PayoutComplete)
		assert.Empty(t, p.Contributions)
	}
	assert.Equal(t, []rosca.MemberID{"A", "B", "C"},
		[]rosca.MemberID{periods[0].PayoutTo, periods[1].PayoutTo, periods[2].PayoutTo})
	assert.Equal(t, date(2025, time.March, 30), periods[0].DueDate)
}

func TestInitializePeriods_GivenOrderIsDeterministic(t *testing.T) {
	cfg := threeMemberConfig()
	cfg.RotationMode = rosca.RotationBallotDraw
	cfg.RotationOrder = []int{2, 0, 1}
	members := []rosca.MemberID{"A", "B", "C"}

	first, _, err := rosca.NewScheduler(nil).InitializePeriods(cfg, members)
	require.NoError(t, err)
	second, _, err := rosca.NewScheduler(nil).InitializePeriods(cfg, members)
	require.NoError(t, err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, rosca.MemberID("C"), first[0].PayoutTo)
	assert.Equal(t, rosca.MemberID("A"), first[1].PayoutTo)
}

func TestInitializePeriods_BallotCoversEveryMember(t *testing.T) {
	cfg := threeMemberConfig()
	cfg.MemberLimit = 6
	cfg.RotationMode = rosca.RotationBallotDraw
	members := []rosca.MemberID{"a", "b", "c", "d", "e", "f"}

	periods, order, err := rosca.NewScheduler(rosca.NewSeededRotationGenerator(99)).InitializePeriods(cfg, members)

	require.NoError(t, err)
	require.NoError(t, rosca.ValidateRotationOrder(order, 6))
	seen := map[rosca.MemberID]int{}
	for _, p := range periods {
		seen[p.PayoutTo]++
	}
	assert.Len(t, seen, 6)
	for m, n := range seen {
		assert.Equal(t, 1, n, "member %s paid %d times", m, n)
	}
}

func TestInitializePeriods_Errors(t *testing.T) {
	s := rosca.NewScheduler(rosca.NewSeededRotationGenerator(1))

	cfg := threeMemberConfig()
	_, _, err := s.InitializePeriods(cfg, []rosca.MemberID{"A", "B"})
	assert.ErrorIs(t, err, rosca.ErrMemberCountMismatch)

	_, _, err = s.InitializePeriods(cfg, []rosca.MemberID{"A", "B", "A"})
	assert.ErrorIs(t, err, rosca.ErrAlreadyMember)

	cfg.RotationOrder = []int{0, 1, 1}
	_, _, err = s.InitializePeriods(cfg, []rosca.MemberID{"A", "B", "C"})
	assert.ErrorIs(t, err, rosca.ErrDuplicateRotationAssignment)

	cfg = threeMemberConfig()
	cfg.MemberLimit = 0
	_, _, err = s.InitializePeriods(cfg, nil)
	assert.ErrorIs(t, err, rosca.ErrInvalidMemberCount)
}
