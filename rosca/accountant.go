package rosca

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNTANT - Read-only derivations over a pool snapshot
// =============================================================================

// Accountant derives per-member money positions from a pool.
// It holds no state of its own; every call walks the periods again, so
// results can never go stale relative to the snapshot it was given.
type Accountant struct {
	pool *Pool
}

func NewAccountant(pool *Pool) Accountant {
	return Accountant{pool: pool}
}

// TotalContributed sums memberID's contributions across every period.
func (a Accountant) TotalContributed(memberID MemberID) decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.pool.Config.Periods {
		if c, ok := ContributionOf(p, memberID); ok {
			total = total.Add(c.AmountPaid)
		}
	}
	return total
}

// TotalPayoutReceived is the pot of the period paying memberID, once that
// period is paid out. Zero before then.
func (a Accountant) TotalPayoutReceived(memberID MemberID) decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.pool.Config.Periods {
		if p.PayoutTo == memberID && p.PayoutComplete {
			total = total.Add(p.PayoutAmount)
		}
	}
	return total
}

// NetPosition is contributed minus received. Positive means the member has
// put in more than they took out so far.
func (a Accountant) NetPosition(memberID MemberID) decimal.Decimal {
	return a.TotalContributed(memberID).Sub(a.TotalPayoutReceived(memberID))
}

// MemberPosition is one row of the pool's accounting report.
type MemberPosition struct {
	MemberID     MemberID        `json:"member_id"`
	Name         string          `json:"name"`
	Contributed  decimal.Decimal `json:"contributed"`
	Received     decimal.Decimal `json:"received"`
	Net          decimal.Decimal `json:"net"`
	PayoutPeriod int             `json:"payout_period,omitempty"`
	PayoutDate   *time.Time      `json:"payout_date,omitempty"`
	PaidOut      bool            `json:"paid_out"`
}

// Positions reports every participant in join order.
func (a Accountant) Positions() []MemberPosition {
	out := make([]MemberPosition, 0, len(a.pool.Participants))
	for _, part := range a.pool.Participants {
		pos := MemberPosition{
			MemberID:    part.UserID,
			Name:        part.Name,
			Contributed: a.TotalContributed(part.UserID),
			Received:    a.TotalPayoutReceived(part.UserID),
		}
		pos.Net = pos.Contributed.Sub(pos.Received)
		for _, p := range a.pool.Config.Periods {
			if p.PayoutTo == part.UserID {
				date := p.PayoutDate
				pos.PayoutPeriod = p.Index
				pos.PayoutDate = &date
				pos.PaidOut = p.PayoutComplete
				break
			}
		}
		out = append(out, pos)
	}
	return out
}

// Summary is the pool-wide view used by the timeline.
type Summary struct {
	Pot                decimal.Decimal `json:"pot"`
	TotalCollected     decimal.Decimal `json:"total_collected"`
	TotalPaidOut       decimal.Decimal `json:"total_paid_out"`
	Held               decimal.Decimal `json:"held"` // collected but not yet paid out
	PeriodCount        int             `json:"period_count"`
	PeriodsPaidOut     int             `json:"periods_paid_out"`
	CurrentPeriod      int             `json:"current_period"`
	CurrentOutstanding []MemberID      `json:"current_outstanding"`
}

func (a Accountant) Summary() Summary {
	cfg := a.pool.Config
	s := Summary{
		Pot:                cfg.Pot(),
		TotalCollected:     decimal.Zero,
		TotalPaidOut:       decimal.Zero,
		PeriodCount:        len(cfg.Periods),
		CurrentPeriod:      cfg.CurrentPeriod,
		CurrentOutstanding: []MemberID{},
	}
	for _, p := range cfg.Periods {
		s.TotalCollected = s.TotalCollected.Add(TotalContributed(p))
		if p.PayoutComplete {
			s.TotalPaidOut = s.TotalPaidOut.Add(p.PayoutAmount)
			s.PeriodsPaidOut++
		}
		if p.Index == cfg.CurrentPeriod {
			s.CurrentOutstanding = OutstandingMembers(p, a.pool.MemberIDs())
		}
	}
	s.Held = s.TotalCollected.Sub(s.TotalPaidOut)
	return s
}
