// Package notify tells pool members about deadlines and payouts.
//
// The engine only reports state; delivering a message (email, chat, push) is
// a collaborator behind the Notifier interface. LogNotifier is the default
// and writes structured log lines.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rosca-engine/rosca"
)

type Kind string

const (
	KindDueSoon     Kind = "due_soon"     // contribution due within the reminder lead
	KindOverdue     Kind = "overdue"      // due date passed, member still owes
	KindPayoutReady Kind = "payout_ready" // every member paid, payee can be paid out
)

// Notification is addressed to one member about one period.
type Notification struct {
	Kind        Kind            `json:"kind"`
	PoolID      rosca.PoolID    `json:"pool_id"`
	PoolName    string          `json:"pool_name"`
	PeriodIndex int             `json:"period_index"`
	MemberID    rosca.MemberID  `json:"member_id"`
	DueDate     time.Time       `json:"due_date"`
	PayoutDate  time.Time       `json:"payout_date"`
	Amount      decimal.Decimal `json:"amount"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogNotifier writes each notification as one log record.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Kind == KindOverdue {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "notification",
		"kind", n.Kind,
		"pool_id", n.PoolID,
		"pool_name", n.PoolName,
		"period", n.PeriodIndex,
		"member_id", n.MemberID,
		"due_date", n.DueDate.Format(time.DateOnly),
		"amount", n.Amount.String())
	return nil
}
