// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package backup

import (
	"context"
	"errors"

	"github.com/tomtom215/drivebackup/internal/drive"
	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/models"
)

// notifyLogLines is how much of the job log goes into a notification.
const notifyLogLines = 20

// recoverable reports whether err is retried without costing the job an
// attempt. Interrupted uploads lost nothing. Rejected chunks below the
// ceiling were already counted on the upload's resume record. A session held
// by an earlier run only has to wait for its claim to expire. A rejected
// session creation is counted here, nothing else records it.
func recoverable(phase string, err error) bool {
	if phase != phaseUpload || errors.Is(err, drive.ErrSessionRejected) {
		return false
	}
	return errors.Is(err, drive.ErrInterrupted) ||
		errors.Is(err, drive.ErrResumable) ||
		errors.Is(err, drive.ErrRecordInUse)
}

// handleFailure is the reschedule policy. The error reaches the job log
// before anything else happens.
func (c *Controller) handleFailure(ctx context.Context, job *models.Job, jlog *JobLog, phase string, err error) RunResult {
	soft := recoverable(phase, err)
	if soft {
		jlog.Warning("%v", err)
	} else {
		jlog.Error("%v", err)
		job.Attempt++
	}
	job.LastError = err.Error()

	saveCtx := context.WithoutCancel(ctx)

	if job.Attempt >= c.cfg.Backup.MaxAttempts {
		job.Status = models.JobFailed
		if serr := c.ledger.Save(saveCtx, job); serr != nil {
			logging.CtxErr(ctx, serr).Msg("Failed to persist failed job")
		}
		jlog.Error("Backup job %s failed after %d attempts, giving up", job.ID, job.Attempt)
		c.notify(saveCtx, job)
		return RunResult{Job: job, Outcome: OutcomeFailed, Err: err}
	}

	if serr := c.ledger.Save(saveCtx, job); serr != nil {
		logging.CtxErr(ctx, serr).Msg("Failed to persist rescheduled job")
	}
	c.scheduleRetry(jlog)
	return RunResult{Job: job, Outcome: OutcomeRescheduled, Err: err}
}

// suspend handles an upload that stopped ahead of the time limit.
func (c *Controller) suspend(_ context.Context, job *models.Job, jlog *JobLog) RunResult {
	if job.UploadProgress != nil {
		jlog.Notice("The upload paused at %.1f%% ahead of the time limit and will be resumed", job.UploadProgress.Percent)
	} else {
		jlog.Notice("The upload paused ahead of the time limit and will be resumed")
	}
	c.scheduleRetry(jlog)
	return RunResult{Job: job, Outcome: OutcomeSuspended}
}

func (c *Controller) scheduleRetry(jlog *JobLog) {
	c.retryMu.RLock()
	retry := c.retry
	c.retryMu.RUnlock()

	if retry == nil {
		jlog.Notice("No retry scheduler is running, the job waits for the next trigger")
		return
	}
	retry.ScheduleRetry(c.cfg.Backup.RetryDelay)
	jlog.Notice("Retry scheduled in %s", c.cfg.Backup.RetryDelay)
}

func (c *Controller) notify(ctx context.Context, job *models.Job) {
	if c.notifier == nil {
		return
	}
	n := Notification{
		JobID:    job.ID,
		Title:    job.Title,
		Attempts: job.Attempt,
		Error:    job.LastError,
		LogPath:  job.LogPath,
		FailedAt: c.now().UTC(),
	}
	if tail, err := TailLog(job.LogPath, notifyLogLines); err == nil {
		n.Log = tail
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		logging.CtxWarn(ctx).Err(err).Str("job_id", job.ID).Msg("Failed to send failure notification")
		return
	}
	logging.CtxInfo(ctx).Str("job_id", job.ID).Msg("Failure notification sent")
}
