// Package scheduler runs saved workflows on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

// Outcomes written to a job's last_run_status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// DefaultTickInterval is how often due jobs are checked.
const DefaultTickInterval = time.Minute

var errStarted = errors.New("scheduler: already started")

// WorkflowRunner runs a saved workflow to completion. A CONFLICT error
// means the workflow is already running and the job is skipped.
type WorkflowRunner interface {
	RunSaved(ctx context.Context, workflowID string) (schema.RunStatus, error)
}

// JobStore is the part of store.Store the scheduler needs.
type JobStore interface {
	CreateScheduledJob(ctx context.Context, job *store.ScheduledJob) error
	UpdateScheduledJob(ctx context.Context, id string, update store.ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error
}

// Scheduler polls the store for due jobs and runs their workflows one at a
// time. A job never runs twice concurrently.
type Scheduler struct {
	jobs     JobStore
	runner   WorkflowRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	clock    func() time.Time

	lifecycle sync.Mutex
	stop      context.CancelFunc
	stopped   chan struct{}

	busyMu sync.Mutex
	busy   map[string]bool
}

func NewScheduler(s JobStore, runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:     s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger.With(slog.String("component", "scheduler")),
		interval: DefaultTickInterval,
		clock:    func() time.Time { return time.Now().UTC() },
		busy:     map[string]bool{},
	}
}

// NextRun returns the first activation of expr strictly after from.
func (s *Scheduler) NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q", expr).WithCause(err)
	}
	return sched.Next(from), nil
}

// Schedule binds a cron expression to a saved workflow. The first run is
// the expression's next activation.
func (s *Scheduler) Schedule(ctx context.Context, workflowID, expr string) (*store.ScheduledJob, error) {
	next, err := s.NextRun(expr, s.clock())
	if err != nil {
		return nil, err
	}
	job := &store.ScheduledJob{WorkflowID: workflowID, CronExpression: expr, Enabled: true, NextRunAt: &next}
	if err := s.jobs.CreateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("workflow scheduled",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", workflowID),
		slog.String("cron", expr),
		slog.Time("next_run", next),
	)
	return job, nil
}

// SetEnabled pauses or resumes a job.
func (s *Scheduler) SetEnabled(ctx context.Context, jobID string, enabled bool) error {
	return s.jobs.UpdateScheduledJob(ctx, jobID, store.ScheduledJobUpdate{Enabled: &enabled})
}

func (s *Scheduler) Unschedule(ctx context.Context, jobID string) error {
	return s.jobs.DeleteScheduledJob(ctx, jobID)
}

// Jobs lists the jobs of a workflow, or every job when workflowID is empty.
func (s *Scheduler) Jobs(ctx context.Context, workflowID string) ([]*store.ScheduledJob, error) {
	return s.jobs.ListScheduledJobs(ctx, store.ScheduledJobFilter{WorkflowID: workflowID})
}

// Start sweeps once immediately and then every tick interval until ctx
// ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.stopped != nil {
		return errStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.stopped = make(chan struct{})

	go func(done chan<- struct{}) {
		defer close(done)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			if _, err := s.sweep(loopCtx, "tick"); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
			select {
			case <-loopCtx.Done():
				return
			case <-t.C:
			}
		}
	}(s.stopped)

	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop cancels the loop and waits for the running sweep to finish. It is a
// no-op when the scheduler is not running.
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.stopped == nil {
		return nil
	}
	s.stop()
	<-s.stopped
	s.stop, s.stopped = nil, nil
	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs once every job whose activation passed while the
// process was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	n, err := s.sweep(ctx, "recovery")
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", n))
	}
	return nil
}

// sweep runs every enabled job that is due and returns how many ran.
func (s *Scheduler) sweep(ctx context.Context, reason string) (int, error) {
	enabled := true
	jobs, err := s.jobs.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return 0, err
	}
	now := s.clock()
	ran := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.claim(job.ID) {
			continue
		}
		err := s.fire(ctx, job, now)
		s.unclaim(job.ID)
		if err != nil {
			s.logger.Error("scheduled job bookkeeping failed",
				slog.String("job_id", job.ID),
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
			continue
		}
		ran++
	}
	return ran, nil
}

// fire runs the job's workflow, then records the outcome and the next
// activation.
func (s *Scheduler) fire(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	log := s.logger.With(slog.String("job_id", job.ID), slog.String("workflow_id", job.WorkflowID))
	log.Info("running scheduled job")

	status := s.outcome(s.runner.RunSaved(ctx, job.WorkflowID))
	switch status {
	case StatusSkipped:
		log.Info("scheduled job skipped, workflow busy")
	case StatusError:
		log.Warn("scheduled job did not complete")
	}

	next, err := s.NextRun(job.CronExpression, now)
	if err != nil {
		return err
	}
	return s.jobs.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &next,
		LastRunStatus: status,
	})
}

func (s *Scheduler) outcome(run schema.RunStatus, err error) string {
	switch {
	case schema.IsCode(err, schema.ErrCodeConflict):
		return StatusSkipped
	case err != nil, run != schema.RunStatusCompleted:
		return StatusError
	}
	return StatusSuccess
}

func (s *Scheduler) claim(jobID string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if s.busy[jobID] {
		return false
	}
	s.busy[jobID] = true
	return true
}

func (s *Scheduler) unclaim(jobID string) {
	s.busyMu.Lock()
	delete(s.busy, jobID)
	s.busyMu.Unlock()
}
