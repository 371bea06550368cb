// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
scheduler.go - Backup Triggers

The scheduler owns the two automatic triggers:

  - Periodic: every interval (hourly, daily, weekly, monthly) a new job runs.
    A "never" frequency disables it.
  - Retry: ScheduleRetry arms a one-shot timer that runs the retry scan.
    Requests coalesce: while a retry is pending, a later request is dropped
    and an earlier one replaces it. A retry that finds the lock held is
    re-armed after the retry delay.

When the scheduler starts it arms a retry, so a PENDING job left by a
previous process is resumed without waiting for the next periodic run.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/drivebackup/internal/logging"
)

// JobRunner is what the scheduler triggers. *Controller implements it.
type JobRunner interface {
	RunJob(ctx context.Context, id string, report Reporter) (RunResult, error)
	RetryScan(ctx context.Context, report Reporter) (RunResult, error)
}

// Scheduler fires periodic runs and coalesced retries.
type Scheduler struct {
	runner     JobRunner
	interval   time.Duration
	retryDelay time.Duration
	now        func() time.Time

	mu         sync.Mutex
	baseCtx    context.Context
	stopped    bool
	retryAt    time.Time
	retryTimer *time.Timer
	nextRun    time.Time
	inflight   sync.WaitGroup
}

// NewScheduler creates a Scheduler. interval <= 0 disables periodic runs.
func NewScheduler(runner JobRunner, interval, retryDelay time.Duration) *Scheduler {
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		retryDelay: retryDelay,
		now:        time.Now,
	}
}

// ScheduleRetry arranges a retry scan after delay.
func (s *Scheduler) ScheduleRetry(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	at := s.now().Add(delay)
	if !s.retryAt.IsZero() && !s.retryAt.After(at) {
		return
	}
	s.retryAt = at
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	// before RunWithContext the request is only recorded; it is armed on start
	if s.baseCtx != nil {
		s.retryTimer = time.AfterFunc(delay, s.fireRetry)
	}
}

// RetryAt returns when the pending retry fires, if one is pending.
func (s *Scheduler) RetryAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryAt, !s.retryAt.IsZero()
}

// NextRun returns the next periodic run, or nil when periodic runs are off
// or the scheduler is not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextRun.IsZero() {
		return nil
	}
	next := s.nextRun
	return &next
}

// RunWithContext runs the triggers until ctx is cancelled and returns ctx.Err().
func (s *Scheduler) RunWithContext(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.stopped = false
	pending := s.retryAt
	s.retryAt = time.Time{}
	s.mu.Unlock()

	defer s.shutdown()

	delay := s.retryDelay
	if !pending.IsZero() {
		delay = pending.Sub(s.now())
	}
	s.ScheduleRetry(delay)

	if s.interval <= 0 {
		logging.Info().Msg("Periodic backups are disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	s.setNextRun(s.now().Add(s.interval))
	logging.Info().Dur("interval", s.interval).Msg("Backup scheduler started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.runScheduled(ctx)
			timer.Reset(s.interval)
			s.setNextRun(s.now().Add(s.interval))
		}
	}
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	res, err := s.runner.RunJob(ctx, "", nil)
	switch {
	case errors.Is(err, ErrLocked):
		logging.Info().Msg("Scheduled backup skipped, another backup is running")
	case err != nil:
		logging.Error().Err(err).Msg("Scheduled backup could not run")
	case res.Job != nil:
		logging.Info().Str("job_id", res.Job.ID).Str("outcome", string(res.Outcome)).Msg("Scheduled backup finished")
	}
}

func (s *Scheduler) fireRetry() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.retryAt = time.Time{}
	s.retryTimer = nil
	if s.stopped || ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	res, err := s.runner.RetryScan(ctx, nil)
	switch {
	case errors.Is(err, ErrNothingToRetry):
		logging.Debug().Msg("Retry trigger found no pending job")
	case errors.Is(err, ErrLocked):
		s.ScheduleRetry(s.retryDelay)
	case err != nil:
		logging.Error().Err(err).Msg("Retry scan failed")
	case res.Job != nil:
		logging.Info().Str("job_id", res.Job.ID).Str("outcome", string(res.Outcome)).Msg("Retried backup finished")
	}
}

// shutdown stops the retry timer and waits for a retry already running.
// A pending retry is kept so a restarted scheduler arms it again.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopped = true
	s.baseCtx = nil
	s.nextRun = time.Time{}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.mu.Unlock()
	s.inflight.Wait()
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()
}
