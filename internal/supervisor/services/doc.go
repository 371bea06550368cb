// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
Package services provides suture.Service wrappers for Drivebackup components.

Each wrapper implements suture.Service and fmt.Stringer:

	type Service interface {
	    Serve(ctx context.Context) error
	}

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts the ListenAndServe pattern to Serve
  - NewHTTPServer builds a server suited to streamed backup runs

Backup Scheduler (BackupSchedulerService):
  - Wraps backup.Scheduler.RunWithContext
  - A restart re-arms the startup retry, so pending jobs resume after a crash
*/
package services
