// Package scheduler submits configured tasks as runs on a cron schedule.
// Jobs are declared in the config file; each firing goes through the same
// run engine as an API submission.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bassmang/kiongozi/internal/config"
	"github.com/bassmang/kiongozi/internal/orchestrator"
)

// job is a parsed scheduled job with its next firing time.
type job struct {
	name     string
	task     string
	schedule cron.Schedule
	next     time.Time
}

// Scheduler fires config-defined jobs against the run engine.
type Scheduler struct {
	engine orchestrator.RunEngine
	logger *slog.Logger
	config *config.SchedulerConfig
	parser cron.Parser

	mu   sync.Mutex
	jobs []*job
}

// New creates a Scheduler from the configured job list. Jobs with invalid
// cron expressions are rejected.
func New(engine orchestrator.RunEngine, logger *slog.Logger, cfg *config.SchedulerConfig) (*Scheduler, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Scheduler{
		engine: engine,
		logger: logger,
		config: cfg,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}

	now := time.Now().UTC()
	for _, jc := range cfg.Jobs {
		schedule, err := s.parser.Parse(jc.Cron)
		if err != nil {
			return nil, err
		}
		s.jobs = append(s.jobs, &job{
			name:     jc.Name,
			task:     jc.Task,
			schedule: schedule,
			next:     schedule.Next(now),
		})
	}
	return s, nil
}

// Start begins the scheduler loop. Returns a cancel function.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "cron scheduler started",
			slog.String("poll_interval", s.config.PollInterval().String()),
			slog.Int("jobs", len(s.jobs)),
		)

		ticker := time.NewTicker(s.config.PollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("cron scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx, time.Now().UTC())
			}
		}
	}()

	return cancel
}

// tick fires every job whose next run time has passed and advances it.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, j := range s.due(now) {
		run, err := s.engine.Submit(ctx, &orchestrator.RunRequest{Task: j.task})
		if err != nil {
			s.logger.ErrorContext(ctx, "scheduled run submission failed",
				slog.String("job", j.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.InfoContext(ctx, "scheduled run submitted",
			slog.String("job", j.name),
			slog.String("run_id", run.ID.String()),
		)
	}
}

// due returns the jobs that should fire at now and advances their next
// run times. A job missed for several poll intervals fires once, not once
// per missed interval.
func (s *Scheduler) due(now time.Time) []*job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fired []*job
	for _, j := range s.jobs {
		if j.next.After(now) {
			continue
		}
		fired = append(fired, j)
		j.next = j.schedule.Next(now)
	}
	return fired
}
