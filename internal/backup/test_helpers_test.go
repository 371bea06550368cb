// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/drivebackup/internal/archive"
	"github.com/tomtom215/drivebackup/internal/config"
	"github.com/tomtom215/drivebackup/internal/drive"
	"github.com/tomtom215/drivebackup/internal/lock"
	"github.com/tomtom215/drivebackup/internal/models"
	"github.com/tomtom215/drivebackup/internal/paths"
	"github.com/tomtom215/drivebackup/internal/retention"
	"github.com/tomtom215/drivebackup/internal/settings"
)

// testEnv holds a site on disk, an in-memory store and the mocks around a
// controller.
type testEnv struct {
	siteDir  string
	cfg      *config.Config
	store    *settings.Store
	lock     *lock.Manager
	archiver *countingArchiver
	uploader *mockUploader
	auth     *mockAuth
	notifier *mockNotifier
	retry    *mockRetry
}

// newTestEnv creates a small site with a content directory.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	siteDir := filepath.Join(t.TempDir(), "site")
	writeFile(t, filepath.Join(siteDir, "wp-content", "index.php"), "<?php")
	writeFile(t, filepath.Join(siteDir, "wp-content", "uploads", "a.jpg"), "jpeg")

	store, err := settings.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Backup: config.BackupConfig{
			BaseDir:     siteDir,
			LocalFolder: "backups",
			Title:       "My Site",
			Frequency:   "never",
			SourceList:  []string{"content"},
			SourcePaths: map[string]string{"content": "wp-content"},
			ExcludeList: []string{".git"},
			LocalNumber: 5,
			DriveNumber: 5,
			MaxAttempts: 3,
			LockTTL:     time.Minute,
			RetryDelay:  time.Minute,
		},
		Dump:  config.DumpConfig{File: "dump.sql"},
		Drive: config.DriveConfig{FolderID: "folder-1"},
	}

	return &testEnv{
		siteDir:  siteDir,
		cfg:      cfg,
		store:    store,
		lock:     lock.New(store, lock.DefaultKey),
		archiver: &countingArchiver{next: archive.NewBuilder()},
		uploader: &mockUploader{},
		auth:     &mockAuth{},
		notifier: &mockNotifier{},
		retry:    &mockRetry{},
	}
}

// newController builds a controller without remote upload. mutate may adjust
// the dependencies before construction.
func (e *testEnv) newController(t *testing.T, mutate func(*Dependencies)) *Controller {
	t.Helper()
	deps := Dependencies{
		Config:   e.cfg,
		Store:    e.store,
		Lock:     e.lock,
		Resolver: paths.NewResolver(e.cfg.Backup.BaseDir, e.cfg.Backup.SourcePaths, e.cfg.DumpPath()),
		Archiver: e.archiver,
		Purger: retention.NewManager(retention.Policy{
			LocalNumber: e.cfg.Backup.LocalNumber,
			DriveNumber: e.cfg.Backup.DriveNumber,
		}, nil),
		Notifier: e.notifier,
		Retry:    e.retry,
	}
	if mutate != nil {
		mutate(&deps)
	}
	c, err := NewController(deps)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c
}

// withRemote wires the mock uploader and auth.
func (e *testEnv) withRemote(deps *Dependencies) {
	deps.Uploader = e.uploader
	deps.Auth = e.auth
	e.auth.authorized.Store(true)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readLog(t *testing.T, job *models.Job) string {
	t.Helper()
	data, err := os.ReadFile(job.LogPath)
	if err != nil {
		t.Fatalf("read job log: %v", err)
	}
	return string(data)
}

func assertLogContains(t *testing.T, job *models.Job, want string) {
	t.Helper()
	if log := readLog(t, job); !strings.Contains(log, want) {
		t.Errorf("job log does not contain %q:\n%s", want, log)
	}
}

// countingArchiver counts builds and can fail or panic instead.
type countingArchiver struct {
	next  Archiver
	calls atomic.Int32
	err   error
	panic bool
	hook  func()
}

func (a *countingArchiver) Build(ctx context.Context, sources []string, dest string, excludes paths.ExcludeSet) (archive.Result, error) {
	a.calls.Add(1)
	if a.hook != nil {
		a.hook()
	}
	if a.panic {
		panic("tar writer exploded")
	}
	if a.err != nil {
		return archive.Result{}, a.err
	}
	if err := ctx.Err(); err != nil {
		return archive.Result{}, err
	}
	return a.next.Build(ctx, sources, dest, excludes)
}

// mockUploader scripts the remote side.
type mockUploader struct {
	mu sync.Mutex

	// resumable, when set, is returned by Resume instead of ErrNoResumeRecord.
	resumable *drive.Session
	resumeErr error

	uploadResults []drive.Result
	uploadErrs    []error

	begins   int
	resumes  int
	uploads  int
	quota    drive.Quota
	quotaErr error
}

func (m *mockUploader) BeginUpload(_ context.Context, path, title, parent string) (*drive.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begins++
	info, err := os.Stat(path)
	if err != nil {
		return nil, drive.ErrNotFile
	}
	return &drive.Session{Record: drive.ResumeRecord{
		Title:      title,
		Path:       path,
		ByteSize:   info.Size(),
		SessionURL: "https://upload.test/session/" + parent,
		InUse:      true,
	}}, nil
}

func (m *mockUploader) Resume(_ context.Context, _ string) (*drive.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumes++
	if m.resumeErr != nil {
		return nil, m.resumeErr
	}
	if m.resumable == nil {
		return nil, drive.ErrNoResumeRecord
	}
	s := m.resumable
	m.resumable = nil
	return s, nil
}

func (m *mockUploader) Upload(_ context.Context, s *drive.Session) (drive.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.uploads
	m.uploads++

	var err error
	if i < len(m.uploadErrs) {
		err = m.uploadErrs[i]
	}
	if err != nil {
		return drive.Result{Offset: s.Offset}, err
	}
	if i < len(m.uploadResults) {
		res := m.uploadResults[i]
		if !res.Completed {
			// keep the session around for the next Resume
			next := *s
			next.Offset = res.Offset
			m.resumable = &next
		}
		return res, nil
	}
	return drive.Result{Completed: true, ResourceID: "remote-" + filepath.Base(s.Record.Path), Offset: s.Record.ByteSize, Elapsed: 2 * time.Second}, nil
}

func (m *mockUploader) Quota(context.Context) (drive.Quota, error) {
	return m.quota, m.quotaErr
}

type mockAuth struct {
	authorized atomic.Bool
}

func (m *mockAuth) Authorized() bool {
	return m.authorized.Load()
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (m *mockNotifier) Notify(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockRetry struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (m *mockRetry) ScheduleRetry(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, delay)
}

func (m *mockRetry) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delays)
}

// mockDumper writes a fixed dump file.
type mockDumper struct {
	path  string
	calls int
}

func (d *mockDumper) Enabled() bool { return true }

func (d *mockDumper) Dump(context.Context) (string, error) {
	d.calls++
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(d.path, []byte("CREATE TABLE wp_posts;"), 0o600); err != nil {
		return "", err
	}
	return d.path, nil
}

var errDiskFull = errors.New("no space left on device")
