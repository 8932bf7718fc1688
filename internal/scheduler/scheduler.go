// Package scheduler fires the refresh job on its cron schedule and on manual
// triggers, running at most one job at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/refresher/internal/cron"
	"github.com/livinlefevreloca/refresher/internal/inbox"
	"github.com/livinlefevreloca/refresher/internal/job"
)

// Runner executes a single job run
type Runner interface {
	Run(ctx context.Context, trigger job.Trigger) *job.Report
}

// Scheduler waits for the next cron fire time or a manual trigger and runs
// the job synchronously.
type Scheduler struct {
	// Configuration
	config   Config
	schedule *cron.Schedule
	location *time.Location
	logger   *slog.Logger

	runner Runner
	inbox  *inbox.Inbox[job.Trigger]

	// Control
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// Stats
	mu         sync.Mutex
	runCount   int
	lastReport *job.Report

	// Clock, replaced in tests
	now      func() time.Time
	newTimer func(d time.Duration) (<-chan time.Time, func() bool)
}

// NewScheduler creates a new scheduler instance with validated configuration
func NewScheduler(config Config, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	schedule, err := cron.Parse(config.Schedule)
	if err != nil {
		return nil, err
	}
	location, err := time.LoadLocation(config.Location)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		config:   config,
		schedule: schedule,
		location: location,
		logger:   logger,
		runner:   runner,
		inbox:    inbox.New[job.Trigger](config.InboxBufferSize, config.InboxSendTimeout, logger),
		shutdown: make(chan struct{}),
		now:      time.Now,
		newTimer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}, nil
}

// Start runs the scheduler loop until Shutdown is called or ctx is done. An
// active run is allowed to finish; cancelling ctx cancels it. Triggers still
// queued at shutdown are dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("starting scheduler",
		"schedule", s.schedule.String(),
		"location", s.location.String())

	for {
		if s.stopping() {
			s.drain()
			s.logger.Info("scheduler shut down")
			return nil
		}

		next := s.NextRun()
		if next.IsZero() {
			return fmt.Errorf("schedule %q has no upcoming fire time", s.schedule.String())
		}

		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		s.logger.Info("next scheduled run", "at", next, "in", wait.Round(time.Second))

		timerC, stop := s.newTimer(wait)

		select {
		case <-ctx.Done():
			stop()
			s.logger.Info("scheduler context done", "error", ctx.Err())
			return ctx.Err()

		case <-s.shutdown:
			stop()

		case <-timerC:
			if s.stopping() {
				continue
			}
			s.execute(ctx, job.Trigger{Kind: job.TriggerSchedule, ScheduledAt: next})

		case trigger := <-s.inbox.C():
			stop()
			s.inbox.MarkReceived()
			if s.stopping() {
				s.logger.Info("dropping trigger after shutdown", "trigger", trigger.Kind)
				continue
			}
			s.execute(ctx, trigger)
		}
	}
}

// stopping reports whether Shutdown has been called
func (s *Scheduler) stopping() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// drain discards triggers queued behind a shutdown
func (s *Scheduler) drain() {
	for {
		trigger, ok := s.inbox.TryReceive()
		if !ok {
			return
		}
		s.logger.Info("dropping trigger after shutdown",
			"trigger", trigger.Kind,
			"scheduledAt", trigger.ScheduledAt)
	}
}

// NextRun returns the next fire time after now in the configured location
func (s *Scheduler) NextRun() time.Time {
	return s.schedule.Next(s.now().In(s.location))
}

// MissedRuns returns the fire times after since, excluding since's own
// minute, that are already in the past.
func (s *Scheduler) MissedRuns(since time.Time) []time.Time {
	start := since.In(s.location).Truncate(time.Minute).Add(time.Minute)
	return s.schedule.Between(start, s.now().In(s.location))
}

// TriggerManual queues a manual run. Returns false if the queue stayed full
// for the configured timeout.
func (s *Scheduler) TriggerManual() bool {
	return s.enqueue(job.Trigger{Kind: job.TriggerManual, ScheduledAt: s.now()})
}

// TriggerMissed queues a scheduled run for a fire time that passed while the
// scheduler was not running.
func (s *Scheduler) TriggerMissed(at time.Time) bool {
	return s.enqueue(job.Trigger{Kind: job.TriggerSchedule, ScheduledAt: at})
}

func (s *Scheduler) enqueue(trigger job.Trigger) bool {
	ok := s.inbox.Send(trigger)
	if !ok {
		s.logger.Warn("trigger rejected, queue full", "trigger", trigger.Kind)
	}
	return ok
}

// Shutdown stops the scheduler loop. Safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

// LastReport returns the report of the most recent run, or nil
func (s *Scheduler) LastReport() *job.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

// RunCount returns how many runs have executed
func (s *Scheduler) RunCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCount
}

// execute runs the job under the per-run timeout
func (s *Scheduler) execute(ctx context.Context, trigger job.Trigger) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	s.logger.Info("triggering run", "trigger", trigger.Kind, "scheduledAt", trigger.ScheduledAt)

	report := s.runner.Run(runCtx, trigger)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		s.logger.Error("run exceeded timeout", "runID", report.RunID, "timeout", s.config.RunTimeout)
	}

	s.logger.Info("run finished",
		"runID", report.RunID,
		"outcome", report.Outcome,
		"state", report.FinalState)

	stats := s.inbox.GetStats()
	s.logger.Debug("trigger queue",
		"queued", stats.CurrentDepth,
		"max_queued", stats.MaxDepthSeen,
		"received", stats.TotalReceived,
		"rejected", stats.RejectedCount)

	s.mu.Lock()
	s.runCount++
	s.lastReport = report
	s.mu.Unlock()
}
