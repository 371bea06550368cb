// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package backup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/drivebackup/internal/drive"
	"github.com/tomtom215/drivebackup/internal/lock"
	"github.com/tomtom215/drivebackup/internal/models"
)

func TestRunJob_LocalOnlySucceeds(t *testing.T) {
	env := newTestEnv(t)
	c := env.newController(t, nil)

	res, err := c.RunJob(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %s, want succeeded (err %v)", res.Outcome, res.Err)
	}

	job := res.Job
	if job.Status != models.JobSucceeded {
		t.Errorf("status = %s, want succeeded", job.Status)
	}
	wantName := "My-Site-" + job.ID + ".tar.gz"
	if filepath.Base(job.FilePath) != wantName {
		t.Errorf("archive = %s, want %s", filepath.Base(job.FilePath), wantName)
	}
	if _, err := os.Stat(job.FilePath); err != nil {
		t.Errorf("archive missing: %v", err)
	}
	if job.HasRemote() {
		t.Error("remote id set without an uploader")
	}

	log := readLog(t, job)
	if !strings.HasPrefix(log, logHeader+"\n") {
		t.Errorf("log does not start with the header:\n%s", log)
	}
	assertLogContains(t, job, "succeeded")

	var last time.Time
	if err := env.store.Get(context.Background(), LastBackupKey, &last); err != nil {
		t.Errorf("last backup time not stored: %v", err)
	}

	if _, held, _ := env.lock.Current(context.Background()); held {
		t.Error("lock still held after the run")
	}
}

func TestRunJob_JobPersistedBeforeWork(t *testing.T) {
	env := newTestEnv(t)
	var seen *models.Job
	var c *Controller
	env.archiver.hook = func() {
		jobs, err := c.Ledger().List(context.Background())
		if err != nil || len(jobs) != 1 {
			t.Errorf("ledger during archive: %d jobs, err %v", len(jobs), err)
			return
		}
		seen = jobs[0]
	}
	c = env.newController(t, nil)

	if _, err := c.RunJob(context.Background(), "", nil); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if seen == nil || seen.Status != models.JobPending || seen.LogPath == "" {
		t.Errorf("job during archive = %+v, want a persisted PENDING record with a log path", seen)
	}
}

func TestRunJob_MaxAttemptsFailsAndNotifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.archiver.err = errDiskFull
	c := env.newController(t, nil)
	ctx := context.Background()

	res, err := c.RunJob(ctx, "", nil)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	id := res.Job.ID

	wantStatus := []models.JobStatus{models.JobPending, models.JobPending, models.JobFailed}
	for i, want := range wantStatus {
		if i > 0 {
			res, err = c.RunJob(ctx, id, nil)
			if err != nil {
				t.Fatalf("RunJob(%s) #%d error = %v", id, i+1, err)
			}
		}
		if res.Job.Status != want {
			t.Errorf("after attempt %d status = %s, want %s", i+1, res.Job.Status, want)
		}
		if res.Job.Attempt != i+1 {
			t.Errorf("after attempt %d attempt = %d", i+1, res.Job.Attempt)
		}
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("final outcome = %s, want failed", res.Outcome)
	}
	if !errors.Is(res.Err, errDiskFull) {
		t.Errorf("final error = %v, want %v", res.Err, errDiskFull)
	}

	// a failed job is terminal
	res, err = c.RunJob(ctx, id, nil)
	if err != nil || res.Outcome != OutcomeSkipped {
		t.Errorf("rerun of failed job = %s, %v; want skipped", res.Outcome, err)
	}

	if got := env.notifier.count(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
	n := env.notifier.sent[0]
	if n.JobID != id || n.Attempts != 3 || !strings.Contains(n.Error, "no space left") {
		t.Errorf("notification = %+v", n)
	}
	if len(n.Log) == 0 {
		t.Error("notification carries no log lines")
	}
	if got := env.archiver.calls.Load(); got != 3 {
		t.Errorf("archive attempts = %d, want 3", got)
	}
	if got := env.retry.count(); got != 2 {
		t.Errorf("retries scheduled = %d, want 2", got)
	}

	stored, err := c.Ledger().Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Status != models.JobFailed || stored.Attempt != 3 {
		t.Errorf("stored job = %s attempt %d", stored.Status, stored.Attempt)
	}
	assertLogContains(t, stored, "ERROR\tarchive failed: no space left on device")
}

func TestRunJob_LockedDoesNothing(t *testing.T) {
	env := newTestEnv(t)
	c := env.newController(t, nil)
	ctx := context.Background()

	other := lock.New(env.store, lock.DefaultKey)
	acquired, err := other.TryAcquire(ctx, time.Minute)
	if err != nil || !acquired {
		t.Fatalf("TryAcquire() = %v, %v", acquired, err)
	}

	_, err = c.RunJob(ctx, "", nil)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("RunJob() error = %v, want ErrLocked", err)
	}

	jobs, err := c.Ledger().List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("ledger has %d jobs, want 0", len(jobs))
	}
	if got := env.archiver.calls.Load(); got != 0 {
		t.Errorf("archive calls = %d, want 0", got)
	}

	// the other holder keeps its lease
	lease, held, err := other.Current(ctx)
	if err != nil || !held || lease.Holder != other.Holder() {
		t.Errorf("lease = %+v held=%v err=%v", lease, held, err)
	}
}

func TestRunJob_SucceededRerunIsNoop(t *testing.T) {
	env := newTestEnv(t)
	c := env.newController(t, env.withRemote)
	ctx := context.Background()

	res, err := c.RunJob(ctx, "", nil)
	if err != nil || res.Outcome != OutcomeSucceeded {
		t.Fatalf("first run = %s, %v (%v)", res.Outcome, err, res.Err)
	}

	res, err = c.RunJob(ctx, res.Job.ID, nil)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Errorf("second run outcome = %s, want skipped", res.Outcome)
	}
	if got := env.archiver.calls.Load(); got != 1 {
		t.Errorf("archive calls = %d, want 1", got)
	}
	if env.uploader.begins != 1 || env.uploader.uploads != 1 {
		t.Errorf("uploader begins=%d uploads=%d, want 1/1", env.uploader.begins, env.uploader.uploads)
	}
}

func TestRunJob_UploadCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.uploader.quota = drive.Quota{Limit: 1000, Usage: 250}
	c := env.newController(t, env.withRemote)
	ctx := context.Background()

	res, err := c.RunJob(ctx, "", nil)
	if err != nil || res.Outcome != OutcomeSucceeded {
		t.Fatalf("RunJob() = %s, %v (%v)", res.Outcome, err, res.Err)
	}
	job := res.Job
	if want := "remote-" + filepath.Base(job.FilePath); job.RemoteID != want {
		t.Errorf("remote id = %q, want %q", job.RemoteID, want)
	}
	if job.UploadSession != "" || job.UploadProgress != nil {
		t.Errorf("upload fields not cleared: %q %+v", job.UploadSession, job.UploadProgress)
	}
	assertLogContains(t, job, "Uploaded in 2 seconds")

	var quota models.QuotaInfo
	if err := env.store.Get(ctx, QuotaKey, &quota); err != nil {
		t.Fatalf("quota not stored: %v", err)
	}
	if quota.Used != 250 || quota.Total != 1000 {
		t.Errorf("quota = %+v", quota)
	}
}

func TestRunJob_SuspendedUploadResumes(t *testing.T) {
	env := newTestEnv(t)
	env.uploader.uploadResults = []drive.Result{{Completed: false, Offset: 512}}
	c := env.newController(t, env.withRemote)
	ctx := context.Background()

	res, err := c.RunJob(ctx, "", nil)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if res.Outcome != OutcomeSuspended {
		t.Fatalf("outcome = %s, want suspended (err %v)", res.Outcome, res.Err)
	}
	job := res.Job
	if job.Status != models.JobPending || job.Attempt != 0 {
		t.Errorf("suspended job = %s attempt %d, want PENDING attempt 0", job.Status, job.Attempt)
	}
	if job.UploadSession == "" || job.UploadProgress == nil || job.UploadProgress.Offset != 512 {
		t.Errorf("suspended upload state = %q %+v", job.UploadSession, job.UploadProgress)
	}
	if env.retry.count() != 1 {
		t.Errorf("retries scheduled = %d, want 1", env.retry.count())
	}

	res, err = c.RetryScan(ctx, nil)
	if err != nil || res.Outcome != OutcomeSucceeded {
		t.Fatalf("RetryScan() = %s, %v (%v)", res.Outcome, err, res.Err)
	}
	if res.Job.ID != job.ID {
		t.Errorf("retried job %s, want %s", res.Job.ID, job.ID)
	}
	if env.uploader.begins != 1 {
		t.Errorf("upload sessions begun = %d, want 1", env.uploader.begins)
	}
	if got := env.archiver.calls.Load(); got != 1 {
		t.Errorf("archive calls = %d, want 1", got)
	}
	assertLogContains(t, res.Job, "Resuming the upload at byte 512")
}

func TestRunJob_UploadFailureClasses(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantAttempt int
		wantSession bool
		wantType    string
	}{
		{"interrupted", fmt.Errorf("%w: connection reset", drive.ErrInterrupted), 0, true, LogWarning},
		{"rejected below ceiling", fmt.Errorf("%w: status 500", drive.ErrResumable), 0, true, LogWarning},
		{"terminal", fmt.Errorf("%w: gave up", drive.ErrTerminal), 1, false, LogError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.uploader.uploadErrs = []error{tt.err}
			c := env.newController(t, env.withRemote)

			res, err := c.RunJob(context.Background(), "", nil)
			if err != nil {
				t.Fatalf("RunJob() error = %v", err)
			}
			if res.Outcome != OutcomeRescheduled {
				t.Fatalf("outcome = %s, want rescheduled", res.Outcome)
			}
			job := res.Job
			if job.Attempt != tt.wantAttempt {
				t.Errorf("attempt = %d, want %d", job.Attempt, tt.wantAttempt)
			}
			if (job.UploadSession != "") != tt.wantSession {
				t.Errorf("upload session = %q, want set=%v", job.UploadSession, tt.wantSession)
			}
			assertLogContains(t, job, tt.wantType+"\tupload failed")
			if !job.HasLocal() {
				t.Error("archive path lost after upload failure")
			}
		})
	}
}

func TestRunJob_RejectedSessionFailsAfterMaxAttempts(t *testing.T) {
	var sessions atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		sessions.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"storage quota exceeded"}}`))
	}))
	t.Cleanup(srv.Close)

	env := newTestEnv(t)
	env.cfg.Drive.UploadURL = srv.URL + "/upload"
	env.cfg.Drive.APIURL = srv.URL + "/api"
	env.cfg.Drive.ChunkSizeMiB = 1
	env.cfg.Drive.RequestTimeout = 5 * time.Second
	env.cfg.Drive.MaxResumeAttempts = 5
	client := drive.NewClient(env.cfg.Drive, nil, drive.NewResumeStore(env.store, env.cfg.Backup.LockTTL))

	c := env.newController(t, func(d *Dependencies) {
		env.withRemote(d)
		d.Uploader = client
	})
	ctx := context.Background()

	res, err := c.RunJob(ctx, "", nil)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	id := res.Job.ID

	wantStatus := []models.JobStatus{models.JobPending, models.JobPending, models.JobFailed}
	for i, want := range wantStatus {
		if i > 0 {
			if res, err = c.RunJob(ctx, id, nil); err != nil {
				t.Fatalf("RunJob(%s) #%d error = %v", id, i+1, err)
			}
		}
		if res.Job.Status != want || res.Job.Attempt != i+1 {
			t.Errorf("after run %d: status = %s attempt = %d, want %s attempt %d",
				i+1, res.Job.Status, res.Job.Attempt, want, i+1)
		}
	}
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, drive.ErrSessionRejected) {
		t.Errorf("final outcome = %s, %v", res.Outcome, res.Err)
	}

	if res, err = c.RunJob(ctx, id, nil); err != nil || res.Outcome != OutcomeSkipped {
		t.Errorf("rerun of failed job = %s, %v; want skipped", res.Outcome, err)
	}
	if got := env.notifier.count(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
	if got := sessions.Load(); got != 3 {
		t.Errorf("session requests = %d, want 3", got)
	}
	assertLogContains(t, res.Job, "ERROR\tcould not start the upload")
}

func TestRunJob_HeldUploadWaitsWithoutPenalty(t *testing.T) {
	env := newTestEnv(t)
	env.uploader.resumeErr = drive.ErrRecordInUse
	c := env.newController(t, env.withRemote)

	res, err := c.RunJob(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if res.Outcome != OutcomeRescheduled {
		t.Fatalf("outcome = %s, want rescheduled", res.Outcome)
	}
	if res.Job.Attempt != 0 {
		t.Errorf("attempt = %d, want 0", res.Job.Attempt)
	}
	if env.uploader.begins != 0 {
		t.Errorf("upload sessions begun = %d, a held upload must not be restarted", env.uploader.begins)
	}
	if got := env.retry.count(); got != 1 {
		t.Errorf("retries scheduled = %d, want 1", got)
	}
	assertLogContains(t, res.Job, "WARNING\tcould not resume the upload")
}

func TestRunJob_NotAuthorizedSkipsUpload(t *testing.T) {
	env := newTestEnv(t)
	c := env.newController(t, func(d *Dependencies) {
		env.withRemote(d)
		env.auth.authorized.Store(false)
	})

	res, err := c.RunJob(context.Background(), "", nil)
	if err != nil || res.Outcome != OutcomeSucceeded {
		t.Fatalf("RunJob() = %s, %v", res.Outcome, err)
	}
	if env.uploader.begins != 0 || env.uploader.resumes != 0 {
		t.Error("uploader used without authorization")
	}
	assertLogContains(t, res.Job, "not authorized")
}

func TestRunJob_DriveNumberZeroSkipsUpload(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Backup.DriveNumber = 0
	c := env.newController(t, env.withRemote)

	res, err := c.RunJob(context.Background(), "", nil)
	if err != nil || res.Outcome != OutcomeSucceeded {
		t.Fatalf("RunJob() = %s, %v", res.Outcome, err)
	}
	if env.uploader.begins != 0 {
		t.Error("uploader used with drive_number 0")
	}
}

func TestRunJob_CancelledArchiveIsHardError(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.archiver.hook = cancel
	c := env.newController(t, nil)

	res, err := c.RunJob(ctx, "", nil)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("phase error = %v, want context.Canceled", res.Err)
	}
	if res.Job.Attempt != 1 || res.Job.HasLocal() {
		t.Errorf("job = attempt %d file %q, want attempt 1 and no archive", res.Job.Attempt, res.Job.FilePath)
	}
	assertLogContains(t, res.Job, "The archive never finished")

	stored, err := c.Ledger().Get(context.Background(), res.Job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Attempt != 1 {
		t.Errorf("stored attempt = %d, want 1", stored.Attempt)
	}
	if _, held, _ := env.lock.Current(context.Background()); held {
		t.Error("lock still held after a cancelled run")
	}
}

func TestRunJob_PanicInPhaseIsRecovered(t *testing.T) {
	env := newTestEnv(t)
	env.archiver.panic = true
	c := env.newController(t, nil)

	res, err := c.RunJob(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if res.Outcome != OutcomeRescheduled || res.Job.Attempt != 1 {
		t.Errorf("outcome = %s attempt %d, want rescheduled attempt 1", res.Outcome, res.Job.Attempt)
	}
	if !strings.Contains(res.Job.LastError, "panicked") {
		t.Errorf("last error = %q", res.Job.LastError)
	}
}

func TestRunJob_DumpIsArchivedThenRemoved(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Backup.SourceList = []string{"database", "content"}
	dumper := &mockDumper{path: env.cfg.DumpPath()}
	c := env.newController(t, func(d *Dependencies) { d.Dumper = dumper })

	res, err := c.RunJob(context.Background(), "", nil)
	if err != nil || res.Outcome != OutcomeSucceeded {
		t.Fatalf("RunJob() = %s, %v (%v)", res.Outcome, err, res.Err)
	}
	if dumper.calls != 1 {
		t.Errorf("dump calls = %d, want 1", dumper.calls)
	}
	if _, err := os.Stat(env.cfg.DumpPath()); !os.IsNotExist(err) {
		t.Errorf("dump file still present: %v", err)
	}
	assertLogContains(t, res.Job, "Database dumped to dump.sql")
}

func TestRunJob_DatabaseWithoutDumperWarns(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Backup.SourceList = []string{"database", "content"}
	c := env.newController(t, nil)

	res, err := c.RunJob(context.Background(), "", nil)
	if err != nil || res.Outcome != OutcomeSucceeded {
		t.Fatalf("RunJob() = %s, %v (%v)", res.Outcome, err, res.Err)
	}
	assertLogContains(t, res.Job, "WARNING\tThe database is selected")
}

func TestRunJob_RetentionPurgesOlderBackups(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Backup.LocalNumber = 1
	c := env.newController(t, nil)
	ctx := context.Background()

	first, err := c.RunJob(ctx, "", nil)
	if err != nil || first.Outcome != OutcomeSucceeded {
		t.Fatalf("first run = %s, %v", first.Outcome, err)
	}
	second, err := c.RunJob(ctx, "", nil)
	if err != nil || second.Outcome != OutcomeSucceeded {
		t.Fatalf("second run = %s, %v", second.Outcome, err)
	}

	jobs, err := c.Ledger().List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != second.Job.ID {
		t.Fatalf("ledger = %d jobs, want only %s", len(jobs), second.Job.ID)
	}
	if _, err := os.Stat(first.Job.FilePath); !os.IsNotExist(err) {
		t.Errorf("old archive still present: %v", err)
	}
	if _, err := os.Stat(first.Job.LogPath); !os.IsNotExist(err) {
		t.Errorf("old log still present: %v", err)
	}
	assertLogContains(t, second.Job, "Purged backup file")
}

func TestRunJob_ReporterReceivesProgress(t *testing.T) {
	env := newTestEnv(t)
	c := env.newController(t, nil)

	var entries []models.LogEntry
	report := ReporterFunc(func(e models.LogEntry) { entries = append(entries, e) })

	if _, err := c.RunJob(context.Background(), "", report); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if len(entries) < 3 {
		t.Fatalf("reported %d entries, want at least 3", len(entries))
	}
	if !strings.Contains(entries[0].Message, "started") {
		t.Errorf("first entry = %+v", entries[0])
	}
	if last := entries[len(entries)-1]; last.Type != LogNotice {
		t.Errorf("last entry = %+v", last)
	}
}

func TestRunJob_UnknownID(t *testing.T) {
	env := newTestEnv(t)
	c := env.newController(t, nil)

	_, err := c.RunJob(context.Background(), "nope", nil)
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunJob() error = %v, want ErrJobNotFound", err)
	}
}

func TestRetryScan(t *testing.T) {
	env := newTestEnv(t)
	c := env.newController(t, nil)
	ctx := context.Background()

	if _, err := c.RetryScan(ctx, nil); !errors.Is(err, ErrNothingToRetry) {
		t.Fatalf("RetryScan() on empty ledger error = %v", err)
	}

	base := time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)
	older, err := c.Ledger().Create(ctx, "Site", env.cfg.LogDir(), base)
	if err != nil {
		t.Fatal(err)
	}
	newer, err := c.Ledger().Create(ctx, "Site", env.cfg.LogDir(), base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.RetryScan(ctx, nil)
	if err != nil {
		t.Fatalf("RetryScan() error = %v", err)
	}
	if res.Job.ID != newer.ID {
		t.Errorf("retried %s, want newest pending %s", res.Job.ID, newer.ID)
	}

	// the older PENDING job was superseded by the success and reaped
	if _, err := c.Ledger().Get(ctx, older.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("superseded job still present: %v", err)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.uploader.quota = drive.Quota{Limit: 100, Usage: 10}
	c := env.newController(t, env.withRemote)
	ctx := context.Background()

	if _, err := c.RunJob(ctx, "", nil); err != nil {
		t.Fatal(err)
	}
	next := time.Now().Add(time.Hour)
	status, err := c.Status(ctx, &next, 10)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Authorized || status.Running {
		t.Errorf("authorized=%v running=%v", status.Authorized, status.Running)
	}
	if status.LastBackup == nil || status.Quota == nil || status.Quota.Used != 10 {
		t.Errorf("status = %+v", status)
	}
	if len(status.RecentJobs) != 1 || status.RecentJobs[0].Status != "succeeded" {
		t.Errorf("recent jobs = %+v", status.RecentJobs)
	}
	if status.NextRun == nil || !status.NextRun.Equal(next) {
		t.Errorf("next run = %v", status.NextRun)
	}

	entries, err := c.JobLog(ctx, status.RecentJobs[0].ID, 2)
	if err != nil {
		t.Fatalf("JobLog() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("JobLog() = %d entries, want 2", len(entries))
	}
}

func TestJobs_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	c := env.newController(t, nil)
	ctx := context.Background()

	jobs, err := c.Jobs(ctx)
	if err != nil {
		t.Fatalf("Jobs() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("Jobs() on an empty ledger = %+v", jobs)
	}

	ledger := NewLedger(env.store)
	for _, ts := range []int64{100, 300, 200} {
		if _, err := ledger.Create(ctx, "Site", t.TempDir(), time.Unix(ts, 0)); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err = c.Jobs(ctx)
	if err != nil {
		t.Fatalf("Jobs() error = %v", err)
	}
	want := []string{models.JobID(300), models.JobID(200), models.JobID(100)}
	if len(jobs) != len(want) {
		t.Fatalf("Jobs() = %d jobs, want %d", len(jobs), len(want))
	}
	for i, id := range want {
		if jobs[i].ID != id {
			t.Errorf("jobs[%d] = %s, want %s", i, jobs[i].ID, id)
		}
	}
}

func TestRefreshQuota(t *testing.T) {
	t.Run("without a remote store", func(t *testing.T) {
		env := newTestEnv(t)
		c := env.newController(t, nil)
		if _, err := c.RefreshQuota(context.Background()); err == nil {
			t.Error("RefreshQuota() without an uploader should fail")
		}
	})

	t.Run("stores the quota", func(t *testing.T) {
		env := newTestEnv(t)
		env.uploader.quota = drive.Quota{Limit: 2048, Usage: 512}
		c := env.newController(t, env.withRemote)
		ctx := context.Background()

		info, err := c.RefreshQuota(ctx)
		if err != nil {
			t.Fatalf("RefreshQuota() error = %v", err)
		}
		if info.Used != 512 || info.Total != 2048 || info.UpdatedAt.IsZero() {
			t.Errorf("RefreshQuota() = %+v", info)
		}

		var stored models.QuotaInfo
		if err := env.store.Get(ctx, QuotaKey, &stored); err != nil {
			t.Fatalf("quota not stored: %v", err)
		}
		if stored.Used != 512 || stored.Total != 2048 {
			t.Errorf("stored quota = %+v", stored)
		}
	})

	t.Run("remote error leaves the stored quota alone", func(t *testing.T) {
		env := newTestEnv(t)
		env.uploader.quotaErr = errors.New("quota lookup: 503")
		c := env.newController(t, env.withRemote)
		ctx := context.Background()

		if _, err := c.RefreshQuota(ctx); err == nil {
			t.Fatal("RefreshQuota() error = nil, want the remote error")
		}
		var stored models.QuotaInfo
		if err := env.store.Get(ctx, QuotaKey, &stored); err == nil {
			t.Errorf("quota stored after a failed lookup: %+v", stored)
		}
	})
}
