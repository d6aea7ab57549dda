/*
reminders.go - In-process reminder scheduler

PURPOSE:
  Runs notify.Sweeper on a ticker inside the API server, for deployments
  that do not run cmd/worker separately.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on Start
  - Stop waits for the running sweep to finish

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 5 minutes)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  reminders := NewReminderScheduler(sweeper)
  reminders.Start()
  // ... later
  reminders.Stop()

SEE ALSO:
  - notify/sweeper.go: what a sweep sends
  - cmd/worker/main.go: the same sweep as a standalone process
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/rosca-engine/notify"
)

// DefaultCheckInterval is how often the in-process scheduler sweeps.
const DefaultCheckInterval = 5 * time.Minute

// ReminderScheduler handles periodic due-date and overdue reminders.
type ReminderScheduler struct {
	Sweeper       *notify.Sweeper
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewReminderScheduler(sweeper *notify.Sweeper) *ReminderScheduler {
	return &ReminderScheduler{
		Sweeper:       sweeper,
		CheckInterval: DefaultCheckInterval,
		Enabled:       true,
		Logger:        slog.Default(),
	}
}

// Start begins sweeping. Calling Start twice is a no-op.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("reminder scheduler disabled")
		return
	}
	if rs.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		rs.Sweeper.Run(ctx, rs.CheckInterval)
	}()

	rs.Logger.Info("reminder scheduler started", "interval", rs.CheckInterval)
}

// Stop cancels the loop and waits for it to exit.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cancel == nil {
		return
	}
	rs.cancel()
	rs.wg.Wait()
	rs.cancel = nil
	rs.Logger.Info("reminder scheduler stopped")
}
