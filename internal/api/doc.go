// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
Package api provides the HTTP trigger API for Drivebackup.

The API lets an external scheduler, an operator or a monitoring system start
and resume backups, read job state and manage the remote authorization. It is
a thin layer over backup.Controller: every request that runs a job goes
through the same lock and state machine as a scheduled run.

Endpoints:

	GET  /metrics                          Prometheus metrics
	GET  /api/v1/health                    liveness
	POST /api/v1/backup                    start a new job, stream its log  (trigger)
	POST /api/v1/backup/resume             retry the newest pending job     (trigger)
	GET  /api/v1/backup/status             status summary                   (trigger)
	GET  /api/v1/backup/jobs               all jobs, newest first           (trigger)
	GET  /api/v1/backup/jobs/{id}/log      job log tail, ?lines=N           (trigger)
	GET  /api/v1/oauth/authorize           consent URL                      (admin)
	GET  /api/v1/oauth/callback            consent redirect target
	POST /api/v1/oauth/revoke              drop the remote authorization    (admin)

Authentication:

Routes marked trigger or admin require an "Authorization: Bearer <token>"
header carrying a token issued by auth.TriggerManager. The token's scope is
checked against the authz policy for the request path and method; the
built-in policy lets admin tokens call every trigger route. The OAuth callback is reached by
the browser after consent and is protected by a single-use state value.

Responses:

JSON endpoints answer with the models.APIResponse envelope:

	{"status": "success", "data": {...}, "metadata": {"timestamp": "..."}}
	{"status": "error", "data": null, "error": {"code": "BACKUP_LOCKED", "message": "..."}, ...}

The two run endpoints instead stream newline-delimited JSON events once the
job has started, one per job log line and a final result event:

	{"event":"log","entry":{"date":"2026-10-17","time":"03:00:00","type":"NOTICE","message":"Backup job t3xk2a started"}}
	{"event":"result","result":{"outcome":"succeeded","job":{...}}}

A run that never starts (lock held, nothing to retry) gets a regular JSON error
response instead. Jobs keep running when the client disconnects.
*/
package api
