// Package main is the long-running reminder worker. It runs the reminder
// cycle on a cron schedule and serves the run-now trigger, health and
// metrics endpoints until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"leadflow/internal/app"
	"leadflow/internal/config"
	"leadflow/internal/core"
	"leadflow/internal/scheduler"
	"leadflow/internal/types"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@every 1m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("reminder worker starting",
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"schedule", cfg.Reminder.Schedule,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := core.NewServer(cfg.Server, rt.Cycle, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Trigger = rt.Trigger
	srv.HealthChecks = rt.HealthChecks
	srv.Metrics = rt.MetricsHandler
	srv.MountRoutes()

	sched, err := newScheduler(cfg.Reminder.Schedule, func() {
		runScheduledCycle(ctx, rt.Cycle, logger)
	}, logger)
	if err != nil {
		return err
	}
	sched.Start()

	serveErr := srv.ListenAndServe(ctx, ":"+cfg.Server.Port, cfg.Server.ShutdownTimeout)
	stop()

	// Wait for an in-flight cycle; its finalize writes run on a detached
	// context and are expected to land.
	select {
	case <-sched.Stop().Done():
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn("cron stop timed out with a cycle still running")
	}

	if serveErr != nil {
		return serveErr
	}
	logger.Info("reminder worker stopped cleanly")
	return nil
}

// cycleRunner is the part of scheduler.Cycle the cron job needs.
type cycleRunner interface {
	Run(ctx context.Context) (scheduler.CycleReport, error)
}

// newScheduler builds a cron that runs job on spec. Overlapping ticks are
// skipped rather than queued, and a panicking job is recovered and logged.
func newScheduler(spec string, job func(), logger *slog.Logger) (*cronlib.Cron, error) {
	if _, err := cronParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid REMINDER_SCHEDULE %q: %w", spec, err)
	}

	cl := cronLogger{logger: logger}
	c := cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithLocation(time.UTC),
		cronlib.WithLogger(cl),
		cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("scheduling reminder cycle: %w", err)
	}
	return c, nil
}

func runScheduledCycle(ctx context.Context, cycle cycleRunner, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	ctx = types.WithTriggerSource(ctx, types.TriggerInterval)
	if _, err := cycle.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "scheduled reminder cycle failed", "error", err)
	}
}

// cronLogger adapts *slog.Logger to cron.Logger. Routine scheduling chatter
// goes to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
