// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/drivebackup/internal/drive"
	"github.com/tomtom215/drivebackup/internal/metrics"
	"github.com/tomtom215/drivebackup/internal/models"
	"github.com/tomtom215/drivebackup/internal/paths"
)

const (
	phaseDump     = "dump"
	phaseArchive  = "archive"
	phaseUpload   = "upload"
	phaseFinalize = "finalize"
)

func (c *Controller) databaseSelected() bool {
	for _, name := range c.cfg.Backup.SourceList {
		if name == paths.DatabaseSource {
			return true
		}
	}
	return false
}

// needsArchive reports whether the archive phase has work to do. A recorded
// archive that disappeared from disk is forgotten so it gets rebuilt.
func (c *Controller) needsArchive(job *models.Job, jlog *JobLog) bool {
	if job.HasRemote() {
		return false
	}
	if !job.HasLocal() {
		return true
	}
	if info, err := os.Stat(job.FilePath); err == nil && info.Mode().IsRegular() {
		return false
	}
	jlog.Warning("The archive %s is missing and will be created again", job.FilePath)
	job.FilePath = ""
	return true
}

func (c *Controller) dumpPhase(ctx context.Context, job *models.Job, jlog *JobLog) (err error) {
	if !c.databaseSelected() || !c.needsArchive(job, jlog) {
		return nil
	}
	if c.dumper == nil || !c.dumper.Enabled() {
		jlog.Warning("The database is selected for backup but no dump command is configured")
		return nil
	}

	g := c.arm(ctx, job, jlog, phaseDump)
	defer g.done(&err)

	jlog.Notice("Dumping the database")
	start := c.now()
	path, err := c.dumper.Dump(ctx)
	if err != nil {
		return fmt.Errorf("database dump failed: %w", err)
	}
	jlog.Notice("Database dumped to %s in %s", filepath.Base(path), seconds(c.now().Sub(start)))
	return nil
}

func (c *Controller) archivePhase(ctx context.Context, job *models.Job, jlog *JobLog) (err error) {
	if !c.needsArchive(job, jlog) {
		return nil
	}

	g := c.arm(ctx, job, jlog, phaseArchive)
	defer g.done(&err)

	sources := c.resolver.ResolveSources(c.cfg.Backup.SourceList, c.cfg.Backup.IncludeList)
	excludes := c.resolver.ResolveExcludes(c.cfg.Backup.ExcludeList, c.cfg.LocalDir())
	dest := filepath.Join(c.cfg.LocalDir(), archiveName(job))

	jlog.Notice("Creating archive %s from %d sources", filepath.Base(dest), len(sources))
	start := c.now()
	res, err := c.archiver.Build(ctx, sources, dest, excludes)
	c.removeDump(jlog)
	if err != nil {
		return fmt.Errorf("archive failed: %w", err)
	}

	job.FilePath = res.Path
	if err := c.ledger.Save(ctx, job); err != nil {
		return err
	}
	metrics.BackupArchiveBytes.Set(float64(res.Size))
	jlog.Notice("Archive created with %d files (%s) in %s", res.Files, humanBytes(res.Size), seconds(c.now().Sub(start)))
	return nil
}

// removeDump deletes the transient dump file. It is recreated on the next
// archive attempt.
func (c *Controller) removeDump(jlog *JobLog) {
	dump := c.cfg.DumpPath()
	if err := os.Remove(dump); err != nil && !errors.Is(err, os.ErrNotExist) {
		jlog.Warning("Could not delete the database dump %s: %v", dump, err)
	}
}

func (c *Controller) remoteEnabled(jlog *JobLog) bool {
	if c.uploader == nil || c.cfg.Backup.DriveNumber <= 0 {
		return false
	}
	if c.auth == nil || !c.auth.Authorized() {
		jlog.Warning("The remote store is not authorized, skipping the upload")
		return false
	}
	return true
}

// uploadPhase reports completed=false when the upload was suspended ahead of
// the time limit.
func (c *Controller) uploadPhase(ctx context.Context, job *models.Job, jlog *JobLog) (completed bool, err error) {
	if job.HasRemote() || !c.remoteEnabled(jlog) {
		return true, nil
	}

	g := c.arm(ctx, job, jlog, phaseUpload)
	defer g.done(&err)

	s, err := c.uploader.Resume(ctx, job.FilePath)
	switch {
	case err == nil:
		jlog.Notice("Resuming the upload at byte %d of %d", s.Offset, s.Record.ByteSize)
	case errors.Is(err, drive.ErrRecordInUse):
		// a killed run still holds the session; wait for its claim to lapse
		return false, fmt.Errorf("could not resume the upload: %w", err)
	case errors.Is(err, drive.ErrNoResumeRecord):
		jlog.Notice("Uploading %s", filepath.Base(job.FilePath))
		s, err = c.uploader.BeginUpload(ctx, job.FilePath, filepath.Base(job.FilePath), c.cfg.Drive.FolderID)
		if err != nil {
			return false, fmt.Errorf("could not start the upload: %w", err)
		}
	default:
		return false, fmt.Errorf("could not resume the upload: %w", err)
	}

	job.UploadSession = s.Record.SessionURL
	job.UploadProgress = models.NewUploadProgress(s.Offset, s.Record.ByteSize, 0, 0)
	if err := c.ledger.Save(ctx, job); err != nil {
		return false, err
	}

	startOffset := s.Offset
	res, err := c.uploader.Upload(ctx, s)
	job.UploadSession = s.Record.SessionURL
	job.UploadProgress = models.NewUploadProgress(res.Offset, s.Record.ByteSize, res.Offset-startOffset, res.Elapsed)
	if err != nil {
		if errors.Is(err, drive.ErrTerminal) {
			// the client dropped the session; the next attempt starts over
			job.ClearUpload()
		}
		return false, fmt.Errorf("upload failed: %w", err)
	}

	if !res.Completed {
		return false, c.ledger.Save(ctx, job)
	}

	job.RemoteID = res.ResourceID
	job.ClearUpload()
	if err := c.ledger.Save(ctx, job); err != nil {
		return false, err
	}
	jlog.Notice("Uploaded in %d seconds", int(res.Elapsed.Seconds()))
	c.refreshQuota(ctx, jlog)
	return true, nil
}

// refreshQuota stores the remote usage. Failures only warn.
func (c *Controller) refreshQuota(ctx context.Context, jlog *JobLog) {
	if _, err := c.RefreshQuota(ctx); err != nil {
		jlog.Warning("Could not refresh the remote quota: %v", err)
	}
}

// RefreshQuota queries the remote account usage, stores it under QuotaKey and
// publishes the quota gauges.
func (c *Controller) RefreshQuota(ctx context.Context) (models.QuotaInfo, error) {
	if c.uploader == nil {
		return models.QuotaInfo{}, errors.New("no remote store configured")
	}
	q, err := c.uploader.Quota(ctx)
	if err != nil {
		return models.QuotaInfo{}, err
	}
	info := models.QuotaInfo{Used: q.Usage, Total: q.Limit, UpdatedAt: c.now().UTC()}
	if err := c.store.Put(ctx, QuotaKey, &info); err != nil {
		return info, fmt.Errorf("save quota: %w", err)
	}
	metrics.UpdateQuota(q.Usage, q.Limit)
	return info, nil
}

func (c *Controller) finalize(ctx context.Context, job *models.Job, jlog *JobLog) (err error) {
	g := c.arm(ctx, job, jlog, phaseFinalize)
	defer g.done(&err)

	job.Status = models.JobSucceeded
	job.LastError = ""
	job.ClearUpload()
	if err := c.ledger.Save(ctx, job); err != nil {
		job.Status = models.JobPending
		return err
	}
	if err := c.store.Put(ctx, LastBackupKey, c.now().UTC()); err != nil {
		jlog.Warning("Could not record the backup time: %v", err)
	}
	jlog.Notice("Backup job %s succeeded", job.ID)

	c.purge(ctx, jlog)
	if kept, err := c.ledger.Get(ctx, job.ID); err == nil {
		*job = *kept
	}
	return nil
}

// purge applies retention to the whole ledger and writes what it did to the
// job log. Failures only warn; the job already succeeded.
func (c *Controller) purge(ctx context.Context, jlog *JobLog) {
	before, err := c.ledger.List(ctx)
	if err != nil {
		jlog.Warning("Could not load the job ledger for retention: %v", err)
		return
	}
	after, report := c.purger.Purge(ctx, before)
	for _, msg := range report.Notices {
		jlog.Notice("%s", msg)
	}
	for _, msg := range report.Warnings {
		jlog.Warning("%s", msg)
	}
	if err := c.ledger.Replace(ctx, before, after); err != nil {
		jlog.Warning("Could not save the job ledger after retention: %v", err)
	}
}

func archiveName(job *models.Job) string {
	title := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, job.Title)
	title = strings.Trim(title, "-.")
	if title == "" {
		title = "backup"
	}
	return fmt.Sprintf("%s-%s.tar.gz", title, job.ID)
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.1f seconds", d.Seconds())
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
