package rosca

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SERVICE - Pool operations on top of a PoolStore
// =============================================================================

// Service runs every mutation inside PoolStore.Update, so each operation is
// one atomic read-modify-write. It never retries; wrap calls in Retry when a
// backend can report ErrConcurrentModification.
type Service struct {
	Store     PoolStore
	Scheduler *Scheduler
	Clock     func() time.Time
	Logger    *slog.Logger
	NewID     func() PoolID
}

// NewService wires defaults: secure ballot draws, wall clock, slog.Default
// and random UUID pool ids.
func NewService(store PoolStore) *Service {
	return &Service{
		Store:     store,
		Scheduler: NewScheduler(nil),
		Clock:     time.Now,
		Logger:    slog.Default(),
		NewID:     func() PoolID { return PoolID(uuid.NewString()) },
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// CreatePoolInput is what an organizer chooses. The organizer joins the pool
// as its first participant unless SkipOrganizer is set.
type CreatePoolInput struct {
	Name          string
	CreatedBy     MemberID
	OrganizerName string
	SkipOrganizer bool
	Settings      Settings
}

func (s *Service) CreatePool(ctx context.Context, in CreatePoolInput) (*Pool, error) {
	now := s.now()
	id := PoolID(uuid.NewString())
	if s.NewID != nil {
		id = s.NewID()
	}

	pool, err := NewPool(id, in.Name, in.CreatedBy, in.Settings, now)
	if err != nil {
		return nil, err
	}
	if !in.SkipOrganizer && in.CreatedBy != "" {
		if err := pool.Join(Participant{UserID: in.CreatedBy, Name: in.OrganizerName, JoinedAt: now}); err != nil {
			return nil, err
		}
	}

	if err := s.Store.Create(ctx, pool); err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	s.log().Info("pool created",
		"pool_id", pool.ID,
		"member_limit", pool.Config.MemberLimit,
		"frequency", pool.Config.Frequency,
		"rotation_mode", pool.Config.RotationMode)
	return pool, nil
}

func (s *Service) GetPool(ctx context.Context, id PoolID) (*Pool, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) ListPools(ctx context.Context) ([]*Pool, error) {
	return s.Store.List(ctx)
}

// update stamps UpdatedAt on every successful mutation.
func (s *Service) update(ctx context.Context, id PoolID, fn func(*Pool) error) (*Pool, error) {
	pool, err := s.Store.Update(ctx, id, func(p *Pool) error {
		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = s.now()
		return nil
	})
	if IsRetryable(err) {
		s.log().Warn("pool update conflict", "pool_id", id, "error", err)
	}
	return pool, err
}

func (s *Service) Join(ctx context.Context, id PoolID, memberID MemberID, name string) (*Pool, error) {
	pool, err := s.update(ctx, id, func(p *Pool) error {
		return p.Join(Participant{UserID: memberID, Name: name, JoinedAt: s.now()})
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("member joined", "pool_id", id, "member_id", memberID, "members", len(pool.Participants))
	return pool, nil
}

// Activate draws the rotation order and materializes the schedule. The draw
// happens inside the atomic update, so a pool is never scheduled twice.
func (s *Service) Activate(ctx context.Context, id PoolID) (*Pool, error) {
	sched := s.Scheduler
	if sched == nil {
		sched = NewScheduler(nil)
	}
	pool, err := s.update(ctx, id, func(p *Pool) error {
		return p.Activate(sched)
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("pool activated",
		"pool_id", id,
		"rotation_order", pool.Config.RotationOrder,
		"first_payout", pool.Config.Periods[0].PayoutDate)
	return pool, nil
}

// RecordContribution records a member's declared payment. A zero paidAt is
// replaced with the service clock.
func (s *Service) RecordContribution(ctx context.Context, id PoolID, periodIndex int, memberID MemberID, amount decimal.Decimal, paidAt time.Time) (*Pool, error) {
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	pool, err := s.update(ctx, id, func(p *Pool) error {
		return p.RecordContribution(periodIndex, memberID, amount, paidAt)
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("contribution recorded",
		"pool_id", id,
		"period", periodIndex,
		"member_id", memberID,
		"amount", amount.String())
	return pool, nil
}

func (s *Service) MarkPaidOut(ctx context.Context, id PoolID, periodIndex int) (*Pool, error) {
	pool, err := s.update(ctx, id, func(p *Pool) error {
		return p.MarkPaidOut(periodIndex)
	})
	if err != nil {
		return nil, err
	}
	period, _ := pool.Period(periodIndex)
	s.log().Info("period paid out",
		"pool_id", id,
		"period", periodIndex,
		"payout_to", period.PayoutTo,
		"amount", period.PayoutAmount.String(),
		"status", pool.Status)
	return pool, nil
}

func (s *Service) Disband(ctx context.Context, id PoolID) (*Pool, error) {
	pool, err := s.update(ctx, id, func(p *Pool) error {
		return p.Disband()
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("pool disbanded", "pool_id", id)
	return pool, nil
}

func (s *Service) Delete(ctx context.Context, id PoolID) error {
	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}
	s.log().Info("pool deleted", "pool_id", id)
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// NextPeriod returns the pool's next open period as of the service clock.
func (s *Service) NextPeriod(ctx context.Context, id PoolID) (Period, bool, error) {
	pool, err := s.Store.Get(ctx, id)
	if err != nil {
		return Period{}, false, err
	}
	p, ok := NextPeriod(pool, s.now())
	return p, ok, nil
}

func (s *Service) Overdue(ctx context.Context, id PoolID) ([]Period, error) {
	pool, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return OverduePeriods(pool, s.now()), nil
}

func (s *Service) Positions(ctx context.Context, id PoolID) ([]MemberPosition, error) {
	pool, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewAccountant(pool).Positions(), nil
}

func (s *Service) Summary(ctx context.Context, id PoolID) (Summary, error) {
	pool, err := s.Store.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return NewAccountant(pool).Summary(), nil
}

func (s *Service) Timeline(ctx context.Context, id PoolID) ([]TimelineEntry, error) {
	pool, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return Timeline(pool, s.now()), nil
}
