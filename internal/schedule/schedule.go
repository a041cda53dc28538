// Package schedule triggers reconciliation passes on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled unit of work. It receives a context bounded by the
// per-run timeout.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a standard 5-field cron schedule. An invocation
// that comes due while the previous one is still running is skipped, and a
// panicking job is logged instead of taking the process down.
type Scheduler struct {
	spec    string
	timeout time.Duration
	job     Job
	log     *zerolog.Logger

	// RunAtStart triggers one pass as soon as Run starts instead of waiting
	// for the first tick.
	RunAtStart bool
}

// New validates spec and returns a Scheduler for job.
func New(spec string, timeout time.Duration, job Job, log *zerolog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("run timeout must be positive, got %s", timeout)
	}
	return &Scheduler{spec: spec, timeout: timeout, job: job, log: log}, nil
}

// RunOnce runs the job once with the configured timeout.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.job(ctx)
	event := s.log.Info()
	if err != nil {
		event = s.log.Error().Err(err)
	}
	event.Dur("elapsed", time.Since(start)).Msg("Scheduled run finished")
	return err
}

// Run starts the schedule and blocks until ctx is cancelled. It then stops
// the scheduler and waits for a running job to return.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	id, err := c.AddFunc(s.spec, func() {
		_ = s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}

	var initial sync.WaitGroup
	if s.RunAtStart {
		// Go through the job chain so a tick landing mid-run is skipped.
		job := c.Entry(id).WrappedJob
		initial.Add(1)
		go func() {
			defer initial.Done()
			job.Run()
		}()
	}

	c.Start()
	s.log.Info().Str("schedule", s.spec).Time("next_run", c.Entry(id).Next).Msg("Scheduler started")

	<-ctx.Done()
	s.log.Info().Msg("Stopping scheduler")
	<-c.Stop().Done()
	initial.Wait()
	return nil
}

// cronLogger adapts zerolog to cron.Logger. Routine messages go to debug,
// skipped invocations to warn.
type cronLogger struct {
	log *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	event := l.log.Debug()
	if msg == "skip" {
		event = l.log.Warn()
		msg = "Skipping run, previous run still in progress"
	}
	event.Fields(keysAndValues).Str("component", "cron").Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Str("component", "cron").Msg(msg)
}
