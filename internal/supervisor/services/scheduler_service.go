// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package services

import (
	"context"
	"fmt"
)

// BackupScheduler matches backup.Scheduler's run loop.
type BackupScheduler interface {
	RunWithContext(ctx context.Context) error
}

// BackupSchedulerService wraps the backup scheduler as a supervised service.
type BackupSchedulerService struct {
	scheduler BackupScheduler
	name      string
}

// NewBackupSchedulerService creates a new scheduler service wrapper.
//
//	scheduler := backup.NewScheduler(controller, cfg.ScheduleInterval(), cfg.Backup.RetryDelay)
//	tree.AddBackupService(services.NewBackupSchedulerService(scheduler))
func NewBackupSchedulerService(scheduler BackupScheduler) *BackupSchedulerService {
	return &BackupSchedulerService{
		scheduler: scheduler,
		name:      "backup-scheduler",
	}
}

// Serve implements suture.Service. The scheduler loop only returns early on a
// failure, which suture answers with a restart.
func (s *BackupSchedulerService) Serve(ctx context.Context) error {
	err := s.scheduler.RunWithContext(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("backup scheduler failed: %w", err)
	}
	return fmt.Errorf("backup scheduler stopped unexpectedly")
}

// String implements fmt.Stringer for suture's log messages.
func (s *BackupSchedulerService) String() string {
	return s.name
}
