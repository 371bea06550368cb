// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
Package main is the entry point for the Drivebackup server.

Drivebackup archives a site's database dump and selected directories on a
schedule, keeps a bounded number of local archives and pushes each one to a
remote store through a resumable, chunked upload. Uploads that outlive the
per-invocation time budget are suspended and picked up by the next run from
the persisted session.

# Application Architecture

The server runs under a Suture v4 supervisor tree:

	RootSupervisor ("drivebackup")
	├── BackupSupervisor ("backup-layer")
	│   ├── Backup Scheduler (periodic and retry runs)
	│   └── Settings Store GC
	└── APISupervisor ("api-layer")
	    └── HTTP Server (trigger, status, OAuth and metrics endpoints)

Component initialization order:

 1. Configuration: Koanf v2 with defaults, optional YAML file and environment
 2. Logging: zerolog with JSON/console output modes
 3. Settings store: BadgerDB holding the job ledger, resume records and lock
 4. Remote side (when OAuth client credentials are set): credential
    encryption, OAuth manager and the resumable upload client
 5. Backup controller, retention manager and failure notifiers
 6. Scheduler and supervisor tree
 7. HTTP server (when API_ENABLED=true)

# Command Line

	drivebackup                       run the scheduler and HTTP server
	drivebackup -run-once             resume the pending job (or start one) and exit
	drivebackup -issue-token trigger  print a trigger token and exit
	drivebackup -issue-token admin    print an admin token and exit

-run-once first continues the newest pending job, so a cron entry drives a
large upload to completion across invocations. A new job starts only when
nothing is pending. It exits 0 when the job succeeded, was rescheduled or was
suspended, and 1 when it failed or could not start.

# Signal Handling

SIGINT and SIGTERM cancel the root context. A running job stops at its next
persisted checkpoint and is resumed by the next invocation.

# Example Usage

	export BACKUP_BASE_DIR=/var/www/site
	export BACKUP_FREQUENCY=daily
	export DUMP_COMMAND=mysqldump
	export DUMP_ARGS=--single-transaction,site
	export OAUTH_CLIENT_ID=...
	export OAUTH_CLIENT_SECRET=...
	export JWT_SECRET=$(openssl rand -base64 32)
	export API_ENABLED=true
	./drivebackup
*/
package main
