// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
controller.go - Backup Job Controller

The controller owns the job state machine. One invocation of RunJob:

 1. Takes the backup lock, or returns ErrLocked without touching anything.
 2. Loads the job, or creates and persists a new PENDING one.
 3. Runs the dump, archive and upload phases, each skipped when the field it
    populates is already set.
 4. Finalizes: SUCCEEDED, quota refresh, retention purge.
 5. Releases the lock.

A failed phase goes through the reschedule policy in policy.go. The job record
is saved after every phase so that a new process can pick the job up where
this one stopped.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/drivebackup/internal/archive"
	"github.com/tomtom215/drivebackup/internal/config"
	"github.com/tomtom215/drivebackup/internal/drive"
	"github.com/tomtom215/drivebackup/internal/lock"
	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/metrics"
	"github.com/tomtom215/drivebackup/internal/models"
	"github.com/tomtom215/drivebackup/internal/paths"
	"github.com/tomtom215/drivebackup/internal/retention"
	"github.com/tomtom215/drivebackup/internal/settings"
)

// Settings keys owned by the controller.
const (
	QuotaKey      = "quota"
	LastBackupKey = "backup/last"
)

// ErrLocked is returned when another run holds the backup lock.
var ErrLocked = errors.New("another backup is already running")

// ErrNothingToRetry is returned by RetryScan when no PENDING job exists.
var ErrNothingToRetry = errors.New("no pending backup job to retry")

// Dumper produces the database dump. *archive.Dumper implements it.
type Dumper interface {
	Enabled() bool
	Dump(ctx context.Context) (string, error)
}

// Archiver builds the archive. *archive.Builder implements it.
type Archiver interface {
	Build(ctx context.Context, sources []string, dest string, excludes paths.ExcludeSet) (archive.Result, error)
}

// Uploader is the remote side of a job. *drive.Client implements it.
type Uploader interface {
	BeginUpload(ctx context.Context, path, title, parent string) (*drive.Session, error)
	Resume(ctx context.Context, path string) (*drive.Session, error)
	Upload(ctx context.Context, s *drive.Session) (drive.Result, error)
	Quota(ctx context.Context) (drive.Quota, error)
}

// Authorizer reports whether remote credentials are available.
type Authorizer interface {
	Authorized() bool
}

// Purger applies the retention policy. *retention.Manager implements it.
type Purger interface {
	Purge(ctx context.Context, ledger []*models.Job) ([]*models.Job, retention.Report)
}

// RetryScheduler arranges a future RetryScan.
type RetryScheduler interface {
	ScheduleRetry(delay time.Duration)
}

// Locker is the cooperative backup lock. *lock.Manager implements it.
type Locker interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
	Current(ctx context.Context) (lock.Lease, bool, error)
}

// Dependencies are the collaborators of a Controller. Uploader, Auth,
// Notifier and Retry may be nil.
type Dependencies struct {
	Config   *config.Config
	Store    *settings.Store
	Lock     Locker
	Resolver *paths.Resolver
	Dumper   Dumper
	Archiver Archiver
	Uploader Uploader
	Auth     Authorizer
	Purger   Purger
	Notifier Notifier
	Retry    RetryScheduler
	Now      func() time.Time
}

// Outcome is how a RunJob invocation ended.
type Outcome string

// Outcomes.
const (
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeSuspended   Outcome = "suspended"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
)

// RunResult describes a finished RunJob invocation.
type RunResult struct {
	Job     *models.Job
	Outcome Outcome

	// Err is the phase error that caused a reschedule or failure.
	Err error
}

// Controller runs backup jobs.
type Controller struct {
	cfg      *config.Config
	store    *settings.Store
	ledger   *Ledger
	lock     Locker
	resolver *paths.Resolver
	dumper   Dumper
	archiver Archiver
	uploader Uploader
	auth     Authorizer
	purger   Purger
	notifier Notifier
	now      func() time.Time

	retryMu sync.RWMutex
	retry   RetryScheduler
}

// NewController creates a Controller.
func NewController(deps Dependencies) (*Controller, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.Store == nil {
		return nil, errors.New("settings store is required")
	}
	if deps.Lock == nil || deps.Resolver == nil || deps.Archiver == nil || deps.Purger == nil {
		return nil, errors.New("lock, resolver, archiver and purger are required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	ledger := NewLedger(deps.Store)
	ledger.now = now

	return &Controller{
		cfg:      deps.Config,
		store:    deps.Store,
		ledger:   ledger,
		lock:     deps.Lock,
		resolver: deps.Resolver,
		dumper:   deps.Dumper,
		archiver: deps.Archiver,
		uploader: deps.Uploader,
		auth:     deps.Auth,
		purger:   deps.Purger,
		notifier: deps.Notifier,
		now:      now,
		retry:    deps.Retry,
	}, nil
}

// SetRetryScheduler sets the retry scheduler after construction, since the
// scheduler itself calls back into the controller.
func (c *Controller) SetRetryScheduler(r RetryScheduler) {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()
	c.retry = r
}

// Ledger returns the job ledger.
func (c *Controller) Ledger() *Ledger {
	return c.ledger
}

// RunJob runs the job with the given ID, or a new job when id is empty.
// report, when set, receives every job log entry.
//
// The returned error is reserved for conditions that prevented the run
// (ErrLocked, ErrJobNotFound, store failures). Phase failures are recorded on
// the job and reported through RunResult.
func (c *Controller) RunJob(ctx context.Context, id string, report Reporter) (RunResult, error) {
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}

	acquired, err := c.lock.TryAcquire(ctx, c.cfg.Backup.LockTTL)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to acquire backup lock: %w", err)
	}
	if !acquired {
		metrics.RecordJobOutcome("locked")
		logging.CtxInfo(ctx).Str("job_id", id).Msg("Backup lock is held, skipping run")
		return RunResult{}, ErrLocked
	}
	defer func() {
		if err := c.lock.Release(context.WithoutCancel(ctx)); err != nil {
			logging.CtxWarn(ctx).Err(err).Msg("Failed to release backup lock")
		}
	}()

	var job *models.Job
	if id == "" {
		job, err = c.ledger.Create(ctx, c.cfg.Backup.Title, c.cfg.LogDir(), c.now())
	} else {
		job, err = c.ledger.Get(ctx, id)
	}
	if err != nil {
		return RunResult{}, err
	}
	ctx = logging.ContextWithJobID(ctx, job.ID)

	jlog, err := OpenJobLog(ctx, job.LogPath, report, c.now)
	if err != nil {
		return RunResult{Job: job}, err
	}

	if job.Status.Terminal() {
		jlog.Notice("Backup job %s is already %s, nothing to do", job.ID, job.Status)
		return RunResult{Job: job, Outcome: OutcomeSkipped}, nil
	}

	if id == "" {
		jlog.Notice("Backup job %s started", job.ID)
	} else {
		jlog.Notice("Backup job %s resumed (attempt %d)", job.ID, job.Attempt+1)
	}

	result := c.execute(ctx, job, jlog)
	metrics.RecordJobOutcome(string(result.Outcome))
	return result, nil
}

// RetryScan resumes the newest PENDING job. Only one job is serviced per call.
func (c *Controller) RetryScan(ctx context.Context, report Reporter) (RunResult, error) {
	jobs, err := c.ledger.List(ctx)
	if err != nil {
		return RunResult{}, err
	}
	for i := len(jobs) - 1; i >= 0; i-- {
		if jobs[i].Status == models.JobPending {
			return c.RunJob(ctx, jobs[i].ID, report)
		}
	}
	return RunResult{}, ErrNothingToRetry
}

func (c *Controller) execute(ctx context.Context, job *models.Job, jlog *JobLog) RunResult {
	if err := c.dumpPhase(ctx, job, jlog); err != nil {
		return c.handleFailure(ctx, job, jlog, phaseDump, err)
	}
	if err := c.archivePhase(ctx, job, jlog); err != nil {
		return c.handleFailure(ctx, job, jlog, phaseArchive, err)
	}

	completed, err := c.uploadPhase(ctx, job, jlog)
	if err != nil {
		return c.handleFailure(ctx, job, jlog, phaseUpload, err)
	}
	if !completed {
		return c.suspend(ctx, job, jlog)
	}

	if err := c.finalize(ctx, job, jlog); err != nil {
		return c.handleFailure(ctx, job, jlog, phaseFinalize, err)
	}
	return RunResult{Job: job, Outcome: OutcomeSucceeded}
}

// Status assembles the status endpoint payload. nextRun may be nil.
func (c *Controller) Status(ctx context.Context, nextRun *time.Time, recent int) (models.BackupStatus, error) {
	status := models.BackupStatus{
		Frequency:  c.cfg.Backup.Frequency,
		NextRun:    nextRun,
		RecentJobs: []models.JobSummary{},
	}
	if c.auth != nil {
		status.Authorized = c.auth.Authorized()
	}
	if b, ok := c.uploader.(interface{ BreakerState() string }); ok {
		status.Breaker = b.BreakerState()
	}

	if _, held, err := c.lock.Current(ctx); err == nil {
		status.Running = held
	}

	var last time.Time
	if err := c.store.Get(ctx, LastBackupKey, &last); err == nil {
		status.LastBackup = &last
	} else if !errors.Is(err, settings.ErrNotFound) {
		return status, err
	}

	var quota models.QuotaInfo
	if err := c.store.Get(ctx, QuotaKey, &quota); err == nil {
		status.Quota = &quota
	} else if !errors.Is(err, settings.ErrNotFound) {
		return status, err
	}

	jobs, err := c.ledger.List(ctx)
	if err != nil {
		return status, err
	}
	for i := len(jobs) - 1; i >= 0; i-- {
		if jobs[i].Status == models.JobPending {
			status.PendingJobs++
		}
		if recent <= 0 || len(status.RecentJobs) < recent {
			status.RecentJobs = append(status.RecentJobs, jobs[i].Summary())
		}
	}
	return status, nil
}

// Jobs lists every job in the ledger, newest first.
func (c *Controller) Jobs(ctx context.Context) ([]models.JobSummary, error) {
	jobs, err := c.ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.JobSummary, 0, len(jobs))
	for i := len(jobs) - 1; i >= 0; i-- {
		out = append(out, jobs[i].Summary())
	}
	return out, nil
}

// JobLog returns the last n entries of a job's log.
func (c *Controller) JobLog(ctx context.Context, id string, n int) ([]models.LogEntry, error) {
	job, err := c.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return TailLog(job.LogPath, n)
}
