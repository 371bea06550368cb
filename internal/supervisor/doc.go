// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
Package supervisor provides process supervision for Drivebackup using suture v4.

# Overview

The supervisor tree keeps the long-running parts of the daemon apart:

	RootSupervisor ("drivebackup")
	├── BackupSupervisor ("backup-layer")
	│   └── BackupSchedulerService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (if SERVER_ENABLED)

A crashing HTTP server is restarted without touching the scheduler, and a
scheduler panic does not take the trigger API down. Backup state itself lives
in the settings store, so a restarted scheduler picks pending jobs up through
its startup retry.

Supervisor events (starts, failures, backoff) are logged through sutureslog
into the zerolog pipeline via logging.NewSlogLogger.

# Usage Example

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
	    ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddBackupService(services.NewBackupSchedulerService(scheduler))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = tree.Serve(ctx)

# Shutdown

Cancelling the context stops every service. A job that is mid-upload when the
scheduler stops is cancelled, records its progress and is resumed on the next
start.
*/
package supervisor
