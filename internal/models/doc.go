// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
Package models defines the records shared between the backup controller,
retention and the HTTP API.

Key Components:

  - Job: one backup attempt, persisted under "job/<id>" and mutated at every
    phase boundary
  - JobStatus: PENDING (0), SUCCEEDED (1), FAILED (-1)
  - UploadProgress: transient upload diagnostics kept while a session is open
  - APIResponse / APIError / Metadata: the JSON envelope every endpoint answers with

Jobs are ordered by Timestamp; the ledger is always handled newest last.
*/
package models
