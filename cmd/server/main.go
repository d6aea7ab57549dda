/*
main.go - API server entry point

PURPOSE:
  Initializes and starts the pool engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (.env, environment, flags)
  2. Configure logging
  3. Open the PoolStore selected by STORE_DRIVER
  4. Create service, handler and router
  5. Optionally start in-process reminders
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -store      memory | sqlite | postgres | redis | firestore
  -db         SQLite database path (default: rosca.db)
              Use ":memory:" for in-memory database
  -log-level  debug | info | warn | error
  -interval   reminder sweep interval (with -reminders)
  -reminders  run the reminder sweep inside this process

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reminder scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store

EXAMPLES:
  ./server -db="./data/rosca.db"
  ./server -store=memory -port=3000 -reminders
  STORE_DRIVER=redis REDIS_URL=redis://localhost:6379/0 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - cmd/worker/main.go: Standalone reminder worker
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/rosca-engine/api"
	"github.com/warp/rosca-engine/config"
	"github.com/warp/rosca-engine/notify"
	"github.com/warp/rosca-engine/pkg/logging"
	"github.com/warp/rosca-engine/rosca"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	cfg.RegisterFlags(flag.CommandLine)
	reminders := flag.Bool("reminders", false, "run the reminder sweep in-process")
	flag.Parse()

	logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("store opened", "driver", cfg.StoreDriver)

	svc := rosca.NewService(store)
	handler := api.NewHandler(svc)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	if *reminders {
		sweeper := notify.NewSweeper(store, notify.LogNotifier{Logger: slog.Default()})
		sweeper.ReminderLead = cfg.ReminderLead
		scheduler := api.NewReminderScheduler(sweeper)
		scheduler.CheckInterval = cfg.WorkerInterval
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", server.Addr, "api", fmt.Sprintf("http://localhost:%d/api", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
