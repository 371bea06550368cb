// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/models"
)

// Stream event names.
const (
	eventLog    = "log"
	eventResult = "result"
	eventError  = "error"
)

// progressEvent is one NDJSON line of a streamed run.
type progressEvent struct {
	Event  string           `json:"event"`
	Entry  *models.LogEntry `json:"entry,omitempty"`
	Result *runResult       `json:"result,omitempty"`
	Error  *models.APIError `json:"error,omitempty"`
}

// runResult is the final event payload of a run.
type runResult struct {
	Outcome string             `json:"outcome"`
	Job     *models.JobSummary `json:"job,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// progressStream implements backup.Reporter by writing every job log entry to
// the response as it happens. Headers go out with the first event, so a run
// that fails before logging anything can still answer with a plain error.
type progressStream struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	broken  bool
}

func newProgressStream(w http.ResponseWriter) *progressStream {
	return &progressStream{w: w, rc: http.NewResponseController(w)}
}

// Report streams a job log entry.
func (s *progressStream) Report(entry models.LogEntry) {
	s.send(progressEvent{Event: eventLog, Entry: &entry})
}

func (s *progressStream) send(ev progressEvent) {
	if !s.started {
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.Header().Set("Cache-Control", "no-store")
		s.w.Header().Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if s.broken {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal progress event")
		return
	}
	data = append(data, '\n')
	if _, err := s.w.Write(data); err != nil {
		// client went away, the job carries on
		s.broken = true
		return
	}
	_ = s.rc.Flush() //nolint:errcheck // unsupported writers just buffer
}
