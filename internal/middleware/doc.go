// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
Package middleware provides HTTP middleware for the trigger API.

Key Components:

  - RequestID: accepts or generates an X-Request-ID and uses it as the
    logging correlation ID, so a manual run's job log lines and the
    request log share one ID
  - PrometheusMetrics: request count and latency per chi route pattern
  - Authorize: bearer token authentication followed by a Casbin policy
    check of the token scope against the request path and method

Middleware Stack:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.With(middleware.Authorize(triggers, enforcer)).Post("/api/v1/backup", h.TriggerBackup)

Streaming:

The wrapped response writer used for metrics forwards Flush, so handlers that
stream job progress keep working behind PrometheusMetrics.
*/
package middleware
