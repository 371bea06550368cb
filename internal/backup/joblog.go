// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/models"
)

// Log entry types.
const (
	LogNotice  = "NOTICE"
	LogWarning = "WARNING"
	LogError   = "ERROR"
)

const logHeader = "#Fields:\tdate\ttime\ttype\tmessage"

// Reporter receives every job log entry as it is written. Manual triggers use
// it to stream progress to the caller.
type Reporter interface {
	Report(entry models.LogEntry)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(entry models.LogEntry)

// Report calls f(entry).
func (f ReporterFunc) Report(entry models.LogEntry) {
	f(entry)
}

// JobLog appends entries to one job's log file and mirrors them to the
// process logger.
type JobLog struct {
	mu     sync.Mutex
	ctx    context.Context
	path   string
	report Reporter
	now    func() time.Time
}

// OpenJobLog opens the log at path, writing the header if the file is new.
// report may be nil.
func OpenJobLog(ctx context.Context, path string, report Reporter, now func() time.Time) (*JobLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte(logHeader+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("failed to create job log: %w", err)
		}
	}
	if now == nil {
		now = time.Now
	}
	return &JobLog{ctx: ctx, path: path, report: report, now: now}, nil
}

// Path returns the log file path.
func (l *JobLog) Path() string {
	return l.path
}

// Notice writes a NOTICE entry.
func (l *JobLog) Notice(format string, args ...interface{}) {
	l.write(LogNotice, fmt.Sprintf(format, args...))
}

// Warning writes a WARNING entry.
func (l *JobLog) Warning(format string, args ...interface{}) {
	l.write(LogWarning, fmt.Sprintf(format, args...))
}

// Error writes an ERROR entry.
func (l *JobLog) Error(format string, args ...interface{}) {
	l.write(LogError, fmt.Sprintf(format, args...))
}

func (l *JobLog) write(typ, msg string) {
	msg = strings.Join(strings.Fields(msg), " ")
	ts := l.now()
	entry := models.LogEntry{
		Date:    ts.Format("2006-01-02"),
		Time:    ts.Format("15:04:05"),
		Type:    typ,
		Message: msg,
	}

	switch typ {
	case LogError:
		logging.Ctx(l.ctx).Error().Msg(msg)
	case LogWarning:
		logging.Ctx(l.ctx).Warn().Msg(msg)
	default:
		logging.Ctx(l.ctx).Info().Msg(msg)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	//nolint:gosec // G304: path is derived from the configured log directory
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		logging.Ctx(l.ctx).Warn().Err(err).Str("path", l.path).Msg("Could not write job log")
	} else {
		line := strings.Join([]string{entry.Date, entry.Time, entry.Type, entry.Message}, "\t")
		if _, err := f.WriteString(line + "\n"); err != nil {
			logging.Ctx(l.ctx).Warn().Err(err).Str("path", l.path).Msg("Could not write job log")
		}
		f.Close() //nolint:errcheck // Append-only, nothing buffered
	}

	if l.report != nil {
		l.report.Report(entry)
	}
}

// TailLog returns the last n entries of the log at path, without the header.
// n <= 0 returns every entry.
func TailLog(path string, n int) ([]models.LogEntry, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from a job record
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // Read-only

	var entries []models.LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, parseLogLine(line))
		if n > 0 && len(entries) > n {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job log: %w", err)
	}
	return entries, nil
}

func parseLogLine(line string) models.LogEntry {
	fields := strings.SplitN(line, "\t", 4)
	for len(fields) < 4 {
		fields = append(fields, "")
	}
	return models.LogEntry{Date: fields[0], Time: fields[1], Type: fields[2], Message: fields[3]}
}
