/*
ledger.go - Contribution bookkeeping for a single period

PURPOSE:
  The ContributionLedger is the only code that writes to a period's
  contribution list. Everything that reads contributions (completeness,
  outstanding members, accounting) goes through the pure functions below,
  so derivation never mutates and mutation never derives.

INVARIANTS:
  1. ONE ENTRY PER MEMBER: recording twice replaces, last write wins
  2. NO AMOUNT POLICY: over- and under-payments are recorded as declared;
     judging them is a reporting concern
  3. REPLAY SAFE: recording the same value twice leaves the same state,
     so a retried write after a storage conflict is harmless

EXAMPLE FLOW:
  1. Alice pays 100:          [alice:100]
  2. Bob pays 50:             [alice:100, bob:50]
  3. Bob corrects to 100:     [alice:100, bob:100]
  4. IsComplete(period, 2) => true

SEE ALSO:
  - state.go: MarkPaidOut requires IsComplete
  - accountant.go: sums contributions across periods
*/
package rosca

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContributionLedger records contributions into a period in place.
// Callers persist the period afterwards (normally inside PoolStore.Update).
type ContributionLedger struct {
	period *Period
}

func LedgerFor(p *Period) ContributionLedger {
	return ContributionLedger{period: p}
}

// Record stores memberID's contribution, replacing any earlier entry.
func (l ContributionLedger) Record(memberID MemberID, amount decimal.Decimal, paidAt time.Time) {
	for i := range l.period.Contributions {
		if l.period.Contributions[i].MemberID == memberID {
			l.period.Contributions[i].AmountPaid = amount
			l.period.Contributions[i].PaidAt = paidAt
			return
		}
	}
	l.period.Contributions = append(l.period.Contributions, Contribution{
		MemberID:   memberID,
		AmountPaid: amount,
		PaidAt:     paidAt,
	})
}

func (l ContributionLedger) IsComplete(memberCount int) bool {
	return IsComplete(*l.period, memberCount)
}

func (l ContributionLedger) Outstanding(allMemberIDs []MemberID) []MemberID {
	return OutstandingMembers(*l.period, allMemberIDs)
}

func (l ContributionLedger) Total() decimal.Decimal {
	return TotalContributed(*l.period)
}

// =============================================================================
// READ-ONLY QUERIES
// =============================================================================

// RecordContribution returns a copy of p with the contribution applied.
func RecordContribution(p Period, memberID MemberID, amount decimal.Decimal, paidAt time.Time) Period {
	out := p.Clone()
	LedgerFor(&out).Record(memberID, amount, paidAt)
	return out
}

// IsComplete reports whether exactly memberCount members have paid a
// positive amount into p.
func IsComplete(p Period, memberCount int) bool {
	if len(p.Contributions) != memberCount {
		return false
	}
	for _, c := range p.Contributions {
		if !c.AmountPaid.IsPositive() {
			return false
		}
	}
	return true
}

// OutstandingMembers returns the members of allMemberIDs with no entry in p
// or a non-positive amount, in the order given.
func OutstandingMembers(p Period, allMemberIDs []MemberID) []MemberID {
	paid := make(map[MemberID]bool, len(p.Contributions))
	for _, c := range p.Contributions {
		if c.AmountPaid.IsPositive() {
			paid[c.MemberID] = true
		}
	}
	outstanding := []MemberID{}
	for _, id := range allMemberIDs {
		if !paid[id] {
			outstanding = append(outstanding, id)
		}
	}
	return outstanding
}

// TotalContributed sums every amount recorded in p.
func TotalContributed(p Period) decimal.Decimal {
	total := decimal.Zero
	for _, c := range p.Contributions {
		total = total.Add(c.AmountPaid)
	}
	return total
}

// ContributionOf returns memberID's entry in p, if any.
func ContributionOf(p Period, memberID MemberID) (Contribution, bool) {
	for _, c := range p.Contributions {
		if c.MemberID == memberID {
			return c, true
		}
	}
	return Contribution{}, false
}
