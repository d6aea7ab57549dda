package rosca_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/rosca"
)

var paidAt = time.Date(2025, time.March, 20, 12, 0, 0, 0, time.UTC)

func hundred() decimal.Decimal { return decimal.NewFromInt(100) }

func TestLedger_RecordReplacesEarlierEntry(t *testing.T) {
	// GIVEN: An empty period
	p := rosca.Period{Index: 1, Contributions: []rosca.Contribution{}}
	ledger := rosca.LedgerFor(&p)

	// WHEN: Alice pays, Bob underpays, then Bob corrects
	ledger.Record("alice", hundred(), paidAt)
	ledger.Record("bob", decimal.NewFromInt(50), paidAt)
	ledger.Record("bob", hundred(), paidAt.Add(time.Hour))

	// THEN: One entry per member, Bob's latest value wins
	require.Len(t, p.Contributions, 2)
	bob, ok := rosca.ContributionOf(p, "bob")
	require.True(t, ok)
	assert.True(t, hundred().Equal(bob.AmountPaid))
	assert.Equal(t, paidAt.Add(time.Hour), bob.PaidAt)
	assert.True(t, decimal.NewFromInt(200).Equal(ledger.Total()))
	assert.True(t, ledger.IsComplete(2))
}

func TestLedger_RecordIsReplaySafe(t *testing.T) {
	p := rosca.Period{Index: 1}
	once := rosca.RecordContribution(p, "alice", hundred(), paidAt)
	twice := rosca.RecordContribution(once, "alice", hundred(), paidAt)

	assert.Equal(t, once, twice)
	assert.Empty(t, p.Contributions, "the pure form leaves its input alone")
}

func TestIsComplete(t *testing.T) {
	members := []rosca.MemberID{"a", "b", "c"}
	tests := []struct {
		name        string
		record      map[rosca.MemberID]string
		complete    bool
		outstanding []rosca.MemberID
	}{
		{"nobody paid", nil, false, []rosca.MemberID{"a", "b", "c"}},
		{"two of three", map[rosca.MemberID]string{"a": "100", "c": "100"}, false, []rosca.MemberID{"b"}},
		{"everyone", map[rosca.MemberID]string{"a": "100", "b": "100", "c": "100"}, true, []rosca.MemberID{}},
		{"zero amount does not count", map[rosca.MemberID]string{"a": "100", "b": "0", "c": "100"}, false, []rosca.MemberID{"b"}},
		{"underpayment still counts", map[rosca.MemberID]string{"a": "1", "b": "100", "c": "100"}, true, []rosca.MemberID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := rosca.Period{Index: 1}
			for _, m := range members {
				if amt, ok := tt.record[m]; ok {
					p = rosca.RecordContribution(p, m, decimal.RequireFromString(amt), paidAt)
				}
			}

			assert.Equal(t, tt.complete, rosca.IsComplete(p, len(members)))
			assert.Equal(t, tt.outstanding, rosca.OutstandingMembers(p, members))
		})
	}
}

func TestIsComplete_CountMustMatch(t *testing.T) {
	p := rosca.RecordContribution(rosca.Period{}, "a", hundred(), paidAt)

	assert.True(t, rosca.IsComplete(p, 1))
	assert.False(t, rosca.IsComplete(p, 2))
}

func TestTotalContributed_Decimal(t *testing.T) {
	p := rosca.Period{}
	p = rosca.RecordContribution(p, "a", decimal.RequireFromString("0.10"), paidAt)
	p = rosca.RecordContribution(p, "b", decimal.RequireFromString("0.20"), paidAt)

	assert.Equal(t, "0.3", rosca.TotalContributed(p).String())
}
