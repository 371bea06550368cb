// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
Package retention enforces the local and remote retention counts over the
job ledger.

Purge walks the ledger newest to oldest:

 1. SUCCEEDED jobs count toward local_number and drive_number. Once a count
    is exceeded the job's artifact on that side is deleted and its field
    cleared; the record survives while the other side still exists.
 2. Any other job older than the newest SUCCEEDED job is superseded: its
    local archive, remote copy and log are deleted and the record dropped.
 3. A record left with neither a local nor a remote artifact is dropped,
    except a PENDING or FAILED job that nothing has superseded yet (it is
    either still running or kept for inspection).

A failed remote delete keeps remote_id so the next purge retries it.
Running Purge on its own output changes nothing.
*/
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/metrics"
	"github.com/tomtom215/drivebackup/internal/models"
)

// RemoteDeleter deletes remote artifacts. *drive.Client implements it.
type RemoteDeleter interface {
	DeleteResource(ctx context.Context, id string) error
}

// Policy holds the retention counts.
type Policy struct {
	LocalNumber int
	DriveNumber int
}

// Report lists what a purge did, for the job log.
type Report struct {
	Notices  []string
	Warnings []string

	LocalDeleted  int
	RemoteDeleted int
	Dropped       int
}

func (r *Report) notice(format string, args ...interface{}) {
	r.Notices = append(r.Notices, fmt.Sprintf(format, args...))
}

func (r *Report) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Manager applies a Policy.
type Manager struct {
	policy Policy
	remote RemoteDeleter
	log    zerolog.Logger
}

// NewManager creates a Manager. remote may be nil when no remote store is
// configured; remote artifacts are then left alone.
func NewManager(policy Policy, remote RemoteDeleter) *Manager {
	return &Manager{policy: policy, remote: remote, log: logging.WithComponent("retention")}
}

// Purge applies the policy to ledger (oldest first) and returns the surviving
// jobs in the same order. Input jobs are not modified; survivors are copies.
func (m *Manager) Purge(ctx context.Context, ledger []*models.Job) ([]*models.Job, Report) {
	var report Report
	var countLocal, countDrive int
	superseded := false

	kept := make([]*models.Job, 0, len(ledger))
	for i := len(ledger) - 1; i >= 0; i-- {
		job := *ledger[i]

		switch {
		case job.Status == models.JobSucceeded:
			if job.HasLocal() {
				countLocal++
				if countLocal > m.policy.LocalNumber {
					m.deleteLocal(&job, &report)
				}
			}
			if job.HasRemote() {
				countDrive++
				if countDrive > m.policy.DriveNumber {
					m.deleteRemote(ctx, &job, &report)
				}
			}
			superseded = true

		case superseded:
			m.deleteLocal(&job, &report)
			m.deleteRemote(ctx, &job, &report)
		}

		if !job.HasLocal() && !job.HasRemote() {
			if job.Status != models.JobSucceeded && !superseded {
				kept = append(kept, &job)
				continue
			}
			m.deleteLog(&job, &report)
			report.Dropped++
			metrics.RecordRetentionDeletion("record")
			m.log.Debug().Str("job_id", job.ID).Str("status", job.Status.String()).Msg("Dropped job record")
			continue
		}
		kept = append(kept, &job)
	}

	// restore oldest-first order
	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}
	return kept, report
}

func (m *Manager) deleteLocal(job *models.Job, report *Report) {
	if !job.HasLocal() {
		return
	}
	if err := os.Remove(job.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		report.warn("Could not delete file %s: %v", job.FilePath, err)
		m.log.Warn().Err(err).Str("path", job.FilePath).Msg("Could not delete backup file")
		return
	}
	report.notice("Purged backup file %s", job.FilePath)
	report.LocalDeleted++
	metrics.RecordRetentionDeletion("local")
	job.FilePath = ""
}

func (m *Manager) deleteRemote(ctx context.Context, job *models.Job, report *Report) {
	if !job.HasRemote() || m.remote == nil {
		return
	}
	if err := m.remote.DeleteResource(ctx, job.RemoteID); err != nil {
		report.warn("Could not delete remote file %s: %v", job.RemoteID, err)
		m.log.Warn().Err(err).Str("resource_id", job.RemoteID).Msg("Could not delete remote backup")
		return
	}
	report.notice("Deleted remote file %s", job.RemoteID)
	report.RemoteDeleted++
	metrics.RecordRetentionDeletion("drive")
	job.RemoteID = ""
}

func (m *Manager) deleteLog(job *models.Job, report *Report) {
	if job.LogPath == "" {
		return
	}
	if err := os.Remove(job.LogPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		report.warn("Could not delete log %s: %v", job.LogPath, err)
		return
	}
	metrics.RecordRetentionDeletion("log")
}
