// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package api

import (
	"context"
	"time"

	"github.com/tomtom215/drivebackup/internal/backup"
	"github.com/tomtom215/drivebackup/internal/models"
)

// BackupService is the job surface the handlers drive. *backup.Controller
// implements it.
type BackupService interface {
	RunJob(ctx context.Context, id string, report backup.Reporter) (backup.RunResult, error)
	RetryScan(ctx context.Context, report backup.Reporter) (backup.RunResult, error)
	Status(ctx context.Context, nextRun *time.Time, recent int) (models.BackupStatus, error)
	Jobs(ctx context.Context) ([]models.JobSummary, error)
	JobLog(ctx context.Context, id string, n int) ([]models.LogEntry, error)
	RefreshQuota(ctx context.Context) (models.QuotaInfo, error)
}

// Schedule reports the next periodic run. *backup.Scheduler implements it.
type Schedule interface {
	NextRun() *time.Time
}

// OAuthService manages the remote authorization. *auth.Manager implements it.
type OAuthService interface {
	Authorized() bool
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) error
	Revoke(ctx context.Context) error
}

// statusRecentJobs caps the job list in the status payload.
const statusRecentJobs = 10

// Handler serves the API endpoints.
type Handler struct {
	backups   BackupService
	schedule  Schedule
	oauth     OAuthService
	states    *stateStore
	startTime time.Time
	version   string
}

// NewHandler creates a Handler. schedule and oauth may be nil: status then has
// no next run and the OAuth endpoints answer 503.
func NewHandler(backups BackupService, schedule Schedule, oauth OAuthService, version string) *Handler {
	return &Handler{
		backups:   backups,
		schedule:  schedule,
		oauth:     oauth,
		states:    newStateStore(oauthStateTTL),
		startTime: time.Now(),
		version:   version,
	}
}
