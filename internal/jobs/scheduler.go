// Package jobs runs periodic maintenance work on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opentrusty/tenancy/internal/observability/metrics"
)

// Job is one unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs with overlap protection and panic recovery.
type Scheduler struct {
	cron     *cron.Cron
	recorder metrics.Recorder
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewScheduler creates a scheduler. Each run gets at most timeout.
func NewScheduler(recorder metrics.Recorder, timeout time.Duration) *Scheduler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := cronLogger{logger: slog.Default().With(slog.String("component", "cron"))}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		recorder: recorder,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Add schedules job on spec, e.g. "@every 15m" or "0 * * * *".
func (s *Scheduler) Add(spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { _ = s.RunNow(s.ctx, job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
	}
	slog.Info("job scheduled", slog.String("job", job.Name()), slog.String("spec", spec))
	return nil
}

// RunNow runs job once and records the outcome.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)
	s.recorder.RecordJobRun(ctx, job.Name(), elapsed, err)
	if err != nil {
		slog.ErrorContext(ctx, "job failed",
			slog.String("job", job.Name()),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		return err
	}
	slog.InfoContext(ctx, "job finished", slog.String("job", job.Name()), slog.Duration("duration", elapsed))
	return nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
