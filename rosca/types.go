/*
Package rosca provides the rotating savings and credit association engine.

PURPOSE:
  A ROSCA ("money pool") is a fixed group of participants who each contribute
  a fixed amount every period. Each period one participant receives the whole
  pot, until everybody has been paid exactly once. This package holds the
  rules for running such a pool: rotation order, period schedule,
  contribution tracking, payout eligibility and per-member accounting.

KEY CONCEPTS IN THIS FILE (types.go):
  - Participant:  a pool member, fixed once the schedule exists
  - Contribution: one member's declared payment into one period
  - Period:       one rotation cycle (due date, payout date, payee, pot)
  - Config:       pool-level parameters plus the materialized periods

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. Derivation: balances and states are computed from periods, not stored
  3. Copies: stores hand out clones, mutation happens inside PoolStore.Update
  4. No settlement: the engine only records what members declare they paid

USAGE:
  pool, _ := rosca.NewPool("pool-1", "Family pot", "alice", rosca.Settings{
      ContributionAmount: decimal.NewFromInt(100),
      MemberLimit:        3,
      Frequency:          rosca.FrequencyMonthly,
      RotationMode:       rosca.RotationFixedOrder,
      StartDate:          start,
  }, now)

SEE ALSO:
  - rotation.go:   slot permutation
  - schedule.go:   period materialization
  - ledger.go:     contribution recording
  - accountant.go: read-only derivations
  - state.go:      payout state machine
*/
package rosca

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PoolID string
type MemberID string

// =============================================================================
// ENUMS
// =============================================================================

// Frequency is how often a period comes around.
type Frequency string

const (
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	return f == FrequencyWeekly || f == FrequencyMonthly
}

// RotationMode decides how payout slots are assigned to participants.
type RotationMode string

const (
	RotationFixedOrder RotationMode = "fixed_order" // slot i goes to the i-th joiner
	RotationBallotDraw RotationMode = "ballot_draw" // uniform random permutation
)

func (m RotationMode) Valid() bool {
	return m == RotationFixedOrder || m == RotationBallotDraw
}

// PoolStatus is the lifecycle stage of a pool.
type PoolStatus string

const (
	StatusForming   PoolStatus = "forming"   // accepting members, no schedule yet
	StatusActive    PoolStatus = "active"    // schedule materialized, collecting
	StatusCompleted PoolStatus = "completed" // every period paid out
	StatusDisbanded PoolStatus = "disbanded" // stopped by the organizer
)

// =============================================================================
// PARTICIPANT & CONTRIBUTION
// =============================================================================

type Participant struct {
	UserID   MemberID  `json:"user_id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

type Contribution struct {
	MemberID   MemberID        `json:"member_id"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	PaidAt     time.Time       `json:"paid_at"`
}

// =============================================================================
// PERIOD - One rotation cycle
// =============================================================================

// Period is one rotation cycle of a pool.
//
// INVARIANTS:
//   - Index is 1-based and sequential across the pool
//   - DueDate is PayoutDate minus DueLeadDays
//   - Contributions holds at most one entry per member
//   - PayoutComplete only flips once the period is complete (see IsComplete)
type Period struct {
	Index          int             `json:"period_index"`
	DueDate        time.Time       `json:"due_date"`
	PayoutDate     time.Time       `json:"payout_date"`
	PayoutTo       MemberID        `json:"payout_to"`
	PayoutAmount   decimal.Decimal `json:"payout_amount"`
	Contributions  []Contribution  `json:"contributions"`
	PayoutComplete bool            `json:"payout_complete"`
}

// Clone returns a copy that shares no slices with p.
func (p Period) Clone() Period {
	out := p
	out.Contributions = make([]Contribution, len(p.Contributions))
	copy(out.Contributions, p.Contributions)
	return out
}

// =============================================================================
// CONFIG - Pool-level parameters
// =============================================================================

// Config holds the parameters fixed at creation plus the schedule
// materialized at activation.
type Config struct {
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
	MemberLimit        int             `json:"member_limit"`
	Frequency          Frequency       `json:"frequency"`
	RotationMode       RotationMode    `json:"rotation_mode"`
	RotationOrder      []int           `json:"rotation_order,omitempty"`
	StartDate          time.Time       `json:"start_date"`
	CurrentPeriod      int             `json:"current_period"`
	Periods            []Period        `json:"periods"`
}

// Pot is the amount paid out every period: ContributionAmount * MemberLimit.
func (c Config) Pot() decimal.Decimal {
	return c.ContributionAmount.Mul(decimal.NewFromInt(int64(c.MemberLimit)))
}

func (c Config) clone() Config {
	out := c
	if c.RotationOrder != nil {
		out.RotationOrder = append([]int(nil), c.RotationOrder...)
	}
	out.Periods = make([]Period, len(c.Periods))
	for i, p := range c.Periods {
		out.Periods[i] = p.Clone()
	}
	return out
}
