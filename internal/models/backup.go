// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package models

import (
	"strconv"
	"time"
)

// JobStatus is the lifecycle state of a backup job.
type JobStatus int

const (
	// JobFailed is terminal: max attempts were exhausted.
	JobFailed JobStatus = -1

	// JobPending means the job is new or retryable.
	JobPending JobStatus = 0

	// JobSucceeded is terminal: archive made and, if configured, uploaded.
	JobSucceeded JobStatus = 1
)

// String returns the status name.
func (s JobStatus) String() string {
	switch s {
	case JobFailed:
		return "failed"
	case JobPending:
		return "pending"
	case JobSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further work will be done for the job.
func (s JobStatus) Terminal() bool {
	return s == JobFailed || s == JobSucceeded
}

// Job is one backup attempt. A job may span several process invocations;
// every field is persisted as soon as the operation it describes finishes.
type Job struct {
	ID string `json:"id"`

	// Timestamp is the creation time in epoch seconds. Immutable.
	Timestamp int64 `json:"timestamp"`

	Title   string    `json:"title"`
	Status  JobStatus `json:"status"`
	Attempt int       `json:"attempt"`

	// FilePath is the local archive; empty until the archive phase completes
	// or after retention removed it.
	FilePath string `json:"file_path,omitempty"`

	// RemoteID is the remote store's identifier for the uploaded archive.
	RemoteID string `json:"remote_id,omitempty"`

	LogPath string `json:"log_path"`

	// UploadSession and UploadProgress are set only while an upload is in
	// flight or suspended.
	UploadSession  string          `json:"upload_session,omitempty"`
	UploadProgress *UploadProgress `json:"upload_progress,omitempty"`

	// LastError is the most recent error message, for the status endpoint.
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UploadProgress is the last known upload position.
type UploadProgress struct {
	Offset         int64   `json:"offset"`
	Total          int64   `json:"total"`
	Percent        float64 `json:"percent"`
	BytesPerSecond float64 `json:"bytes_per_second"`
}

// NewUploadProgress computes progress for offset of total bytes moved in elapsed.
func NewUploadProgress(offset, total int64, moved int64, elapsed time.Duration) *UploadProgress {
	p := &UploadProgress{Offset: offset, Total: total}
	if total > 0 {
		p.Percent = float64(offset) * 100 / float64(total)
	}
	if elapsed > 0 {
		p.BytesPerSecond = float64(moved) / elapsed.Seconds()
	}
	return p
}

// JobID derives the job ID from a creation timestamp (base 36).
func JobID(timestamp int64) string {
	return strconv.FormatInt(timestamp, 36)
}

// CreatedAt returns Timestamp as a time.
func (j *Job) CreatedAt() time.Time {
	return time.Unix(j.Timestamp, 0)
}

// HasLocal reports whether the job still has a local archive recorded.
func (j *Job) HasLocal() bool {
	return j.FilePath != ""
}

// HasRemote reports whether the job still has a remote copy recorded.
func (j *Job) HasRemote() bool {
	return j.RemoteID != ""
}

// ClearUpload forgets the transient upload fields.
func (j *Job) ClearUpload() {
	j.UploadSession = ""
	j.UploadProgress = nil
}

// JobSummary is the API view of a job.
type JobSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Local     bool      `json:"local"`
	Remote    bool      `json:"remote"`

	UploadProgress *UploadProgress `json:"upload_progress,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

// Summary returns the API view of j.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:             j.ID,
		Title:          j.Title,
		Status:         j.Status.String(),
		Attempt:        j.Attempt,
		CreatedAt:      j.CreatedAt().UTC(),
		UpdatedAt:      j.UpdatedAt.UTC(),
		Local:          j.HasLocal(),
		Remote:         j.HasRemote(),
		UploadProgress: j.UploadProgress,
		LastError:      j.LastError,
	}
}

// LogEntry is one parsed line of a job log.
type LogEntry struct {
	Date    string `json:"date"`
	Time    string `json:"time"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// QuotaInfo is the last known remote storage usage.
type QuotaInfo struct {
	Used      int64     `json:"used"`
	Total     int64     `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BackupStatus is the status endpoint payload.
type BackupStatus struct {
	Authorized  bool         `json:"authorized"`
	Running     bool         `json:"running"`
	LastBackup  *time.Time   `json:"last_backup,omitempty"`
	NextRun     *time.Time   `json:"next_run,omitempty"`
	Frequency   string       `json:"frequency"`
	Quota       *QuotaInfo   `json:"quota,omitempty"`
	Breaker     string       `json:"circuit_breaker,omitempty"`
	RecentJobs  []JobSummary `json:"recent_jobs"`
	PendingJobs int          `json:"pending_jobs"`
}
