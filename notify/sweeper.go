package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/rosca-engine/rosca"
)

// DefaultReminderLead is how far ahead of a due date members are reminded.
const DefaultReminderLead = 48 * time.Hour

// Sweeper scans active pools and emits notifications.
//
// RULES (per open period, evaluated at the sweep time):
//  1. Overdue: every outstanding member gets KindOverdue
//  2. Due within ReminderLead: every outstanding member gets KindDueSoon
//  3. Current period complete: the payee gets KindPayoutReady
//
// A (pool, period, kind, member) combination is sent at most once for the
// lifetime of the Sweeper. Failed sends are retried on the next sweep.
type Sweeper struct {
	Store        rosca.PoolStore
	Notifier     Notifier
	Clock        func() time.Time
	ReminderLead time.Duration
	Logger       *slog.Logger

	mu   sync.Mutex
	sent map[sentKey]bool
}

type sentKey struct {
	pool   rosca.PoolID
	period int
	kind   Kind
	member rosca.MemberID
}

func NewSweeper(store rosca.PoolStore, n Notifier) *Sweeper {
	return &Sweeper{
		Store:        store,
		Notifier:     n,
		Clock:        time.Now,
		ReminderLead: DefaultReminderLead,
		Logger:       slog.Default(),
	}
}

// Sweep runs one pass and returns how many notifications were delivered.
// Delivery errors are joined and returned after the whole pass.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	pools, err := s.Store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: list pools: %w", err)
	}

	now := s.now()
	var errs []error
	sent := 0
	for _, pool := range pools {
		if pool.Status != rosca.StatusActive {
			continue
		}
		for _, n := range s.pending(pool, now) {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			if !s.claim(n) {
				continue
			}
			if err := s.Notifier.Notify(ctx, n); err != nil {
				s.release(n)
				errs = append(errs, fmt.Errorf("notify %s %s: %w", n.Kind, n.MemberID, err))
				continue
			}
			sent++
		}
	}

	s.logger().Debug("sweep finished", "pools", len(pools), "sent", sent, "failed", len(errs))
	return sent, errors.Join(errs...)
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := s.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger().Error("sweep failed", "error", err, "sent", n)
		} else if n > 0 {
			s.logger().Info("notifications sent", "count", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// pending lists every notification the pool warrants at now.
func (s *Sweeper) pending(pool *rosca.Pool, now time.Time) []Notification {
	members := pool.MemberIDs()
	lead := s.ReminderLead
	if lead <= 0 {
		lead = DefaultReminderLead
	}

	var out []Notification
	for _, p := range pool.Config.Periods {
		if p.PayoutComplete {
			continue
		}
		base := Notification{
			PoolID:      pool.ID,
			PoolName:    pool.Name,
			PeriodIndex: p.Index,
			DueDate:     p.DueDate,
			PayoutDate:  p.PayoutDate,
			Amount:      pool.Config.ContributionAmount,
		}

		var kind Kind
		switch {
		case rosca.IsOverdue(p, now):
			kind = KindOverdue
		case !p.DueDate.After(now.Add(lead)):
			kind = KindDueSoon
		}
		if kind != "" {
			for _, m := range rosca.OutstandingMembers(p, members) {
				n := base
				n.Kind = kind
				n.MemberID = m
				out = append(out, n)
			}
		}

		if p.Index == pool.Config.CurrentPeriod && rosca.IsComplete(p, pool.Config.MemberLimit) {
			n := base
			n.Kind = KindPayoutReady
			n.MemberID = p.PayoutTo
			n.Amount = p.PayoutAmount
			out = append(out, n)
		}
	}
	return out
}

func (s *Sweeper) claim(n Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[sentKey]bool)
	}
	k := sentKey{pool: n.PoolID, period: n.PeriodIndex, kind: n.Kind, member: n.MemberID}
	if s.sent[k] {
		return false
	}
	s.sent[k] = true
	return true
}

func (s *Sweeper) release(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sent, sentKey{pool: n.PoolID, period: n.PeriodIndex, kind: n.Kind, member: n.MemberID})
}

func (s *Sweeper) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
