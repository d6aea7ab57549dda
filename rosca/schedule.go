package rosca

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// DueLeadDays is how long before the payout contributions are due.
const DueLeadDays = 2

// =============================================================================
// RECURRENCE - Payout dates as an RFC 5545 rule
// =============================================================================

// Recurrence returns the payout rule for a pool starting at start.
//
// Weekly pools step seven days. Monthly pools keep the start day of month;
// when a month is too short (a pool starting on the 31st) the payout falls on
// that month's last day instead of spilling into the next month.
func Recurrence(start time.Time, freq Frequency, count int) (*rrule.RRule, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMemberCount, count)
	}
	if start.IsZero() {
		return nil, ErrInvalidStartDate
	}

	opt := rrule.ROption{Dtstart: start, Count: count}
	switch freq {
	case FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
	case FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		if day := start.Day(); day > 28 {
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFrequency, freq)
	}

	return rrule.NewRRule(opt)
}

// PayoutDates returns the first count payout dates, oldest first.
func PayoutDates(start time.Time, freq Frequency, count int) ([]time.Time, error) {
	rule, err := Recurrence(start, freq, count)
	if err != nil {
		return nil, err
	}
	dates := rule.All()
	if len(dates) != count {
		return nil, fmt.Errorf("recurrence produced %d dates, want %d", len(dates), count)
	}
	return dates, nil
}

// =============================================================================
// SCHEDULER - Materializes the period array
// =============================================================================

// Scheduler turns a pool configuration into its periods.
type Scheduler struct {
	Rotation *RotationGenerator
}

func NewScheduler(rotation *RotationGenerator) *Scheduler {
	if rotation == nil {
		rotation = NewSecureRotationGenerator()
	}
	return &Scheduler{Rotation: rotation}
}

// InitializePeriods builds one period per member slot and returns them with
// the rotation order that produced them.
//
// If cfg.RotationOrder is set it is used as-is, which makes the result a
// pure function of its inputs. Otherwise an order is drawn according to
// cfg.RotationMode; callers must persist the returned order so the draw is
// never repeated.
//
// Period i (0-based) pays participantIDs[order[i]] on StartDate + i steps.
func (s *Scheduler) InitializePeriods(cfg Config, participantIDs []MemberID) ([]Period, []int, error) {
	n := cfg.MemberLimit
	if n <= 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidMemberCount, n)
	}
	if len(participantIDs) != n {
		return nil, nil, fmt.Errorf("%w: have %d, want %d", ErrMemberCountMismatch, len(participantIDs), n)
	}
	seen := make(map[MemberID]bool, n)
	for _, id := range participantIDs {
		if seen[id] {
			return nil, nil, fmt.Errorf("%w: %s listed twice", ErrAlreadyMember, id)
		}
		seen[id] = true
	}

	order := cfg.RotationOrder
	if len(order) == 0 {
		gen := s.Rotation
		if gen == nil {
			gen = &RotationGenerator{}
		}
		var err error
		if order, err = gen.Generate(n, cfg.RotationMode); err != nil {
			return nil, nil, err
		}
	} else if err := ValidateRotationOrder(order, n); err != nil {
		return nil, nil, err
	}

	dates, err := PayoutDates(cfg.StartDate, cfg.Frequency, n)
	if err != nil {
		return nil, nil, err
	}

	pot := cfg.Pot()
	periods := make([]Period, n)
	for i := 0; i < n; i++ {
		periods[i] = Period{
			Index:         i + 1,
			DueDate:       dates[i].AddDate(0, 0, -DueLeadDays),
			PayoutDate:    dates[i],
			PayoutTo:      participantIDs[order[i]],
			PayoutAmount:  pot,
			Contributions: []Contribution{},
		}
	}

	return periods, append([]int(nil), order...), nil
}
