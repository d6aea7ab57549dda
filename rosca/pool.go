package rosca

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POOL - The aggregate persisted by a PoolStore
// =============================================================================

// Pool is one money pool and everything the engine knows about it.
//
// LIFECYCLE:
//
//	forming --Activate--> active --last MarkPaidOut--> completed
//	forming|active --Disband--> disbanded
//
// Membership is frozen at activation; the schedule is created exactly once,
// at the same moment.
type Pool struct {
	ID           PoolID        `json:"id"`
	Name         string        `json:"name"`
	CreatedBy    MemberID      `json:"created_by"`
	Status       PoolStatus    `json:"status"`
	Participants []Participant `json:"participants"`
	Config       Config        `json:"config"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	// Version is bumped by the store on every committed Update.
	Version int64 `json:"version"`
}

// Settings are the parameters chosen when a pool is created.
type Settings struct {
	ContributionAmount decimal.Decimal
	MemberLimit        int
	Frequency          Frequency
	RotationMode       RotationMode
	RotationOrder      []int // optional; drawn at activation when empty
	StartDate          time.Time
}

// Validate checks the settings without touching any pool.
func (s Settings) Validate() error {
	if s.MemberLimit <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMemberCount, s.MemberLimit)
	}
	if !s.ContributionAmount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, s.ContributionAmount)
	}
	if !s.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, s.Frequency)
	}
	if !s.RotationMode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRotationMode, s.RotationMode)
	}
	if s.StartDate.IsZero() {
		return ErrInvalidStartDate
	}
	if len(s.RotationOrder) > 0 {
		if err := ValidateRotationOrder(s.RotationOrder, s.MemberLimit); err != nil {
			return err
		}
	}
	return nil
}

// NewPool returns a forming pool. The start date is normalized to UTC at
// second precision so schedules are reproducible across stores.
func NewPool(id PoolID, name string, createdBy MemberID, s Settings, now time.Time) (*Pool, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var order []int
	if len(s.RotationOrder) > 0 {
		order = append([]int(nil), s.RotationOrder...)
	}
	return &Pool{
		ID:           id,
		Name:         name,
		CreatedBy:    createdBy,
		Status:       StatusForming,
		Participants: []Participant{},
		Config: Config{
			ContributionAmount: s.ContributionAmount,
			MemberLimit:        s.MemberLimit,
			Frequency:          s.Frequency,
			RotationMode:       s.RotationMode,
			RotationOrder:      order,
			StartDate:          s.StartDate.UTC().Truncate(time.Second),
			Periods:            []Period{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

func (p *Pool) Join(part Participant) error {
	if p.Status != StatusForming {
		return ErrPoolNotForming
	}
	if p.IsMember(part.UserID) {
		return fmt.Errorf("%w: %s", ErrAlreadyMember, part.UserID)
	}
	if len(p.Participants) >= p.Config.MemberLimit {
		return ErrPoolFull
	}
	p.Participants = append(p.Participants, part)
	return nil
}

// MemberIDs returns participant ids in join order.
func (p *Pool) MemberIDs() []MemberID {
	ids := make([]MemberID, len(p.Participants))
	for i, part := range p.Participants {
		ids[i] = part.UserID
	}
	return ids
}

func (p *Pool) IsMember(id MemberID) bool {
	for _, part := range p.Participants {
		if part.UserID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Activate freezes membership and materializes the schedule. The rotation
// order is drawn here, once, and stored on the config.
func (p *Pool) Activate(s *Scheduler) error {
	if p.Status != StatusForming {
		return ErrPoolNotForming
	}
	if len(p.Participants) != p.Config.MemberLimit {
		return fmt.Errorf("%w: have %d, want %d", ErrMemberCountMismatch, len(p.Participants), p.Config.MemberLimit)
	}

	periods, order, err := s.InitializePeriods(p.Config, p.MemberIDs())
	if err != nil {
		return err
	}

	p.Config.RotationOrder = order
	p.Config.Periods = periods
	p.Config.CurrentPeriod = 1
	p.Status = StatusActive
	return nil
}

func (p *Pool) Disband() error {
	if p.Status != StatusForming && p.Status != StatusActive {
		return fmt.Errorf("cannot disband a %s pool: %w", p.Status, ErrPoolNotActive)
	}
	p.Status = StatusDisbanded
	return nil
}

// RecordContribution records memberID's payment into period periodIndex.
func (p *Pool) RecordContribution(periodIndex int, memberID MemberID, amount decimal.Decimal, paidAt time.Time) error {
	if p.Status != StatusActive {
		return ErrPoolNotActive
	}
	period, err := p.period(periodIndex)
	if err != nil {
		return err
	}
	if !p.IsMember(memberID) {
		return fmt.Errorf("%w: %s", ErrNotMember, memberID)
	}
	if period.PayoutComplete {
		return fmt.Errorf("%w: period %d", ErrPeriodClosed, periodIndex)
	}
	LedgerFor(period).Record(memberID, amount, paidAt)
	return nil
}

func (p *Pool) MarkPaidOut(periodIndex int) error {
	return MarkPaidOut(p, periodIndex)
}

// Period returns a copy of period periodIndex.
func (p *Pool) Period(periodIndex int) (Period, error) {
	period, err := p.period(periodIndex)
	if err != nil {
		return Period{}, err
	}
	return period.Clone(), nil
}

func (p *Pool) period(periodIndex int) (*Period, error) {
	n := len(p.Config.Periods)
	if periodIndex < 1 || periodIndex > n {
		return nil, &PeriodNotFoundError{PeriodIndex: periodIndex, PeriodCount: n}
	}
	return &p.Config.Periods[periodIndex-1], nil
}

// Recurrence returns the pool's payout rule in RFC 5545 form.
func (p *Pool) Recurrence() (string, error) {
	rule, err := Recurrence(p.Config.StartDate, p.Config.Frequency, p.Config.MemberLimit)
	if err != nil {
		return "", err
	}
	return rule.String(), nil
}

// Clone returns a deep copy.
func (p *Pool) Clone() *Pool {
	out := *p
	out.Participants = make([]Participant, len(p.Participants))
	copy(out.Participants, p.Participants)
	out.Config = p.Config.clone()
	return &out
}
