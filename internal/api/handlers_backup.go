// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/drivebackup/internal/backup"
	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/models"
)

const defaultLogLines = 100

// runFunc is a job entry point of BackupService.
type runFunc func(ctx context.Context, report backup.Reporter) (backup.RunResult, error)

// TriggerBackup starts a new backup job and streams its log.
func (h *Handler) TriggerBackup(w http.ResponseWriter, r *http.Request) {
	h.streamRun(w, r, func(ctx context.Context, report backup.Reporter) (backup.RunResult, error) {
		return h.backups.RunJob(ctx, "", report)
	})
}

// ResumeBackup retries the newest pending job and streams its log.
func (h *Handler) ResumeBackup(w http.ResponseWriter, r *http.Request) {
	h.streamRun(w, r, h.backups.RetryScan)
}

func (h *Handler) streamRun(w http.ResponseWriter, r *http.Request, run runFunc) {
	// the run outlives the request so a disconnect cannot abort a phase
	ctx := context.WithoutCancel(r.Context())

	stream := newProgressStream(w)
	res, err := run(ctx, stream)
	if err != nil {
		if stream.started {
			stream.send(progressEvent{Event: eventError, Error: &models.APIError{
				Code:    ErrCodeInternal,
				Message: err.Error(),
			}})
			logging.CtxErr(r.Context(), err).Msg("Backup run failed")
			return
		}
		respondRunError(w, err)
		return
	}

	result := &runResult{Outcome: string(res.Outcome)}
	if res.Job != nil {
		summary := res.Job.Summary()
		result.Job = &summary
	}
	if res.Err != nil {
		result.Error = res.Err.Error()
	}
	stream.send(progressEvent{Event: eventResult, Result: result})
}

func respondRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backup.ErrLocked):
		respondError(w, http.StatusConflict, ErrCodeLocked, err.Error(), nil)
	case errors.Is(err, backup.ErrNothingToRetry):
		respondError(w, http.StatusNotFound, ErrCodeNothingToRetry, err.Error(), nil)
	case errors.Is(err, backup.ErrJobNotFound):
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "job not found", nil)
	default:
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "backup run failed", err)
	}
}

// BackupStatus returns the status summary.
func (h *Handler) BackupStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var nextRun *time.Time
	if h.schedule != nil {
		nextRun = h.schedule.NextRun()
	}

	status, err := h.backups.Status(r.Context(), nextRun, statusRecentJobs)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read backup status", err)
		return
	}
	respondSuccess(w, status, start)
}

// ListJobs returns every job, newest first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	jobs, err := h.backups.Jobs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list jobs", err)
		return
	}
	respondSuccess(w, jobs, start)
}

// jobLogRequest holds the job log query parameters.
type jobLogRequest struct {
	ID    string `validate:"required,alphanum,max=16"`
	Lines int    `validate:"min=1,max=5000"`
}

// JobLog returns the last lines of a job log, parsed into columns.
func (h *Handler) JobLog(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req := jobLogRequest{ID: chi.URLParam(r, "id"), Lines: defaultLogLines}
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeValidation, "lines must be an integer", nil)
			return
		}
		req.Lines = n
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	entries, err := h.backups.JobLog(r.Context(), req.ID, req.Lines)
	switch {
	case errors.Is(err, backup.ErrJobNotFound):
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "job not found", nil)
		return
	case errors.Is(err, os.ErrNotExist):
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "job log not found", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read job log", err)
		return
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	respondSuccess(w, entries, start)
}
