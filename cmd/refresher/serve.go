package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/refresher/internal/db"
	"github.com/livinlefevreloca/refresher/internal/scheduler"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var runNow, catchUp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh job on its schedule",
		Long: `Run the refresh job on its cron schedule until interrupted.

A monthly fire missed while the process was down runs once at startup.
SIGHUP queues a manual run. The first SIGINT or SIGTERM stops the scheduler
once the active run finishes; a second one cancels the active run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			ledger, err := openLedger(cfg, logger)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runner, err := newRunner(ctx, cfg, logger, ledger, false)
			if err != nil {
				return err
			}

			sched, err := scheduler.NewScheduler(cfg.Scheduler, runner, logger)
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 2)
			signal.Notify(sigs, syscall.SIGHUP, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go handleSignals(ctx, sigs, sched, cancel, logger)

			if catchUp {
				if err := queueMissedRun(sched, ledger, cfg.Job.Name, logger); err != nil {
					return err
				}
			}
			if runNow {
				sched.TriggerManual()
			}

			err = sched.Start(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "queue a manual run at startup")
	cmd.Flags().BoolVar(&catchUp, "catch-up", true, "run once at startup if a scheduled fire was missed")
	return cmd
}

// missedRunScheduler is the part of the scheduler used for catch-up
type missedRunScheduler interface {
	MissedRuns(since time.Time) []time.Time
	TriggerMissed(at time.Time) bool
}

// latestRunReader reads the newest ledger row
type latestRunReader interface {
	GetLatestJobRun(jobName string) (*db.JobRun, error)
}

// queueMissedRun queues one scheduled run when fire times passed since the
// last recorded run. Several missed fires collapse into the latest one. A
// ledger with no runs is a fresh install and has nothing to catch up.
func queueMissedRun(sched missedRunScheduler, ledger latestRunReader, jobName string, logger *slog.Logger) error {
	latest, err := ledger.GetLatestJobRun(jobName)
	if db.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read last run: %w", err)
	}

	missed := sched.MissedRuns(latest.ScheduledAt)
	if len(missed) == 0 {
		return nil
	}

	at := missed[len(missed)-1]
	logger.Info("queueing missed scheduled run",
		"last_run", latest.ScheduledAt,
		"missed", len(missed),
		"scheduledAt", at)
	sched.TriggerMissed(at)
	return nil
}

// signalTarget is the part of the scheduler driven by signals
type signalTarget interface {
	TriggerManual() bool
	Shutdown()
}

func handleSignals(ctx context.Context, sigs <-chan os.Signal, sched signalTarget, cancel context.CancelFunc, logger *slog.Logger) {
	stopping := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch {
			case sig == syscall.SIGHUP:
				logger.Info("manual run requested", "signal", sig.String())
				sched.TriggerManual()
			case !stopping:
				logger.Info("shutting down after the active run", "signal", sig.String())
				stopping = true
				sched.Shutdown()
			default:
				logger.Warn("cancelling active run", "signal", sig.String())
				cancel()
				return
			}
		}
	}
}
