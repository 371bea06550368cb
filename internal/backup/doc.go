// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
Package backup runs backup jobs: dump the database, archive the site, upload
the archive to the remote store and purge old backups.

# Jobs

A job is identified by a base-36 ID derived from its creation timestamp and
may span several process invocations. The job record lives in the settings
store under "job/<id>" and is saved right after every operation it describes,
so an abrupt kill leaves it describing the last completed step:

	PENDING --dump/archive/upload ok--> SUCCEEDED
	PENDING --failure, attempts left--> PENDING (retry scheduled)
	PENDING --failure, attempts spent--> FAILED (notification sent once)

Phases are skip-guarded by the fields they populate, so running a job again
never repeats finished work and running a SUCCEEDED job does nothing.

# Failure classes

  - Interrupted upload (network error, cancellation, open circuit breaker,
    time budget reached): retried without penalty.
  - Rejected upload below the resume ceiling: retried without penalty, the
    upload client has already counted the attempt on its resume record.
  - Dump, archive and terminal upload errors: the job attempt is incremented.

Every error is written to the job log before the controller acts on it.

# Job log

Each job has an append-only, tab-separated log file:

	#Fields:	date	time	type	message
	2026-10-17	03:00:01	NOTICE	Backup job started

# Triggers

Controller.RunJob runs a new or existing job. Controller.RetryScan resumes the
newest PENDING job. Scheduler fires periodic runs and coalesced retries.
*/
package backup
