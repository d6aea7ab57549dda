// Command worker sweeps active pools on an interval and sends due-date,
// overdue and payout-ready reminders.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/rosca-engine/config"
	"github.com/warp/rosca-engine/notify"
	"github.com/warp/rosca-engine/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	cfg.RegisterFlags(flag.CommandLine)
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sweeper := notify.NewSweeper(store, notify.LogNotifier{Logger: slog.Default()})
	sweeper.ReminderLead = cfg.ReminderLead

	if *once {
		n, err := sweeper.Sweep(ctx)
		slog.Info("sweep finished", "sent", n)
		return err
	}

	slog.Info("worker started", "driver", cfg.StoreDriver, "interval", cfg.WorkerInterval, "lead", cfg.ReminderLead)
	err = sweeper.Run(ctx, cfg.WorkerInterval)
	slog.Info("worker stopped")
	return err
}
