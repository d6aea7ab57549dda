/*
state.go - Period state machine

PURPOSE:
  Decides which period is next, when a period may be paid out, and moves
  the pool's CurrentPeriod pointer. Period states are derived from dates and
  contributions; only the terminal PayoutComplete flag is stored.

STATES:
  scheduled  --(due date reached)-->  collecting  --(MarkPaidOut)-->  paid_out

RULES:
  1. A payout needs every member's positive contribution (IsComplete)
  2. Payouts happen in period order; an open earlier period blocks later ones
  3. CurrentPeriod only moves forward
  4. Overdue-but-incomplete periods are reported, never auto-resolved

SEE ALSO:
  - ledger.go: IsComplete / OutstandingMembers
  - notify/sweeper.go: turns overdue periods into notifications
*/
package rosca

import (
	"time"

	"github.com/shopspring/decimal"
)

type PeriodState string

const (
	StateScheduled  PeriodState = "scheduled"
	StateCollecting PeriodState = "collecting"
	StatePaidOut    PeriodState = "paid_out"
)

// StateOf derives p's state at now.
func StateOf(p Period, now time.Time) PeriodState {
	switch {
	case p.PayoutComplete:
		return StatePaidOut
	case !now.Before(p.DueDate):
		return StateCollecting
	default:
		return StateScheduled
	}
}

// IsOverdue reports an open period whose due date has passed.
func IsOverdue(p Period, now time.Time) bool {
	return !p.PayoutComplete && p.DueDate.Before(now)
}

// NextPeriod returns the first open period whose due date is still ahead
// of now (or equal to it). It reports false once every period is paid out or
// every open period is already overdue.
func NextPeriod(pool *Pool, now time.Time) (Period, bool) {
	for _, p := range pool.Config.Periods {
		if !p.PayoutComplete && !p.DueDate.Before(now) {
			return p.Clone(), true
		}
	}
	return Period{}, false
}

// OverduePeriods lists open periods past their due date, oldest first.
func OverduePeriods(pool *Pool, now time.Time) []Period {
	out := []Period{}
	for _, p := range pool.Config.Periods {
		if IsOverdue(p, now) {
			out = append(out, p.Clone())
		}
	}
	return out
}

// MarkPaidOut flips period periodIndex to paid out.
//
// On any error the pool is left untouched. Marking a period that is already
// paid out is a no-op, so a retried request succeeds.
func MarkPaidOut(pool *Pool, periodIndex int) error {
	if pool.Status != StatusActive && pool.Status != StatusCompleted {
		return ErrPoolNotActive
	}
	period, err := pool.period(periodIndex)
	if err != nil {
		return err
	}
	if period.PayoutComplete {
		return nil
	}

	for _, earlier := range pool.Config.Periods[:periodIndex-1] {
		if !earlier.PayoutComplete {
			return &OutOfOrderPayoutError{PeriodIndex: periodIndex, Blocking: earlier.Index}
		}
	}

	if !IsComplete(*period, pool.Config.MemberLimit) {
		return &IncompletePeriodError{
			PeriodIndex: periodIndex,
			Outstanding: OutstandingMembers(*period, pool.MemberIDs()),
		}
	}

	period.PayoutComplete = true
	if pool.Config.CurrentPeriod == periodIndex {
		pool.Config.CurrentPeriod = periodIndex + 1
	}
	if periodIndex == len(pool.Config.Periods) {
		pool.Status = StatusCompleted
	}
	return nil
}

// =============================================================================
// TIMELINE - Read-only view for reporting consumers
// =============================================================================

type TimelineEntry struct {
	Period      Period          `json:"period"`
	State       PeriodState     `json:"state"`
	Overdue     bool            `json:"overdue"`
	Current     bool            `json:"current"`
	Collected   decimal.Decimal `json:"collected"`
	Outstanding []MemberID      `json:"outstanding"`
}

// Timeline describes every period of pool as of now.
func Timeline(pool *Pool, now time.Time) []TimelineEntry {
	members := pool.MemberIDs()
	out := make([]TimelineEntry, 0, len(pool.Config.Periods))
	for _, p := range pool.Config.Periods {
		out = append(out, TimelineEntry{
			Period:      p.Clone(),
			State:       StateOf(p, now),
			Overdue:     IsOverdue(p, now),
			Current:     p.Index == pool.Config.CurrentPeriod,
			Collected:   TotalContributed(p),
			Outstanding: OutstandingMembers(p, members),
		})
	}
	return out
}
