// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/metrics"
)

// Session is an open resumable upload.
type Session struct {
	Record ResumeRecord

	// Offset is the next byte to send, as last reported by the server.
	Offset int64

	// ResourceID is set once the server reports the upload complete.
	ResourceID string

	started   time.Time
	lastChunk time.Duration
}

// Done reports whether the upload has completed.
func (s *Session) Done() bool {
	return s.ResourceID != ""
}

// ChunkResult describes one chunk round trip.
type ChunkResult struct {
	Done       bool
	ResourceID string
	Offset     int64
	Duration   time.Duration
}

// Result is the outcome of an Upload loop that did not fail.
type Result struct {
	// Completed is false when the loop stopped ahead of the time budget.
	Completed  bool
	ResourceID string
	Offset     int64
	Elapsed    time.Duration
}

// createdResource is the completion response body.
type createdResource struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// sessionMetadata is the session creation request body.
type sessionMetadata struct {
	Name    string   `json:"name"`
	Parents []string `json:"parents,omitempty"`
}

func contentType(path string) string {
	name := filepath.Base(path)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return "application/gzip"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// BeginUpload opens an upload session for path and stores a claimed resume
// record for it. parent is the remote folder ID; empty means the root.
func (c *Client) BeginUpload(ctx context.Context, path, title, parent string) (*Session, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFile, path)
	}

	meta, err := json.Marshal(sessionMetadata{Name: title, Parents: nonEmpty(parent)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode upload metadata: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json; charset=UTF-8")
	header.Set("X-Upload-Content-Type", contentType(path))
	header.Set("X-Upload-Content-Length", strconv.FormatInt(info.Size(), 10))

	url := c.cfg.UploadURL + "?uploadType=resumable"
	resp, body, err := c.send(ctx, http.MethodPost, url, bytes.NewReader(meta), header)
	if err != nil {
		return nil, fmt.Errorf("%w: create upload session: %v", ErrInterrupted, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: %v", ErrSessionRejected, badResponse(resp, body, "create an upload session"))
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("%w: response carried no Location header", ErrSessionRejected)
	}

	now := c.now()
	s := &Session{
		Record: ResumeRecord{
			Title:      title,
			Path:       path,
			ByteSize:   info.Size(),
			SessionURL: location,
			InUse:      true,
			ClaimedAt:  now,
		},
		started: now,
	}
	if err := c.records.Save(ctx, &s.Record); err != nil {
		return nil, err
	}

	metrics.RecordUploadSession("started")
	logging.Ctx(ctx).Info().
		Str("path", path).
		Int64("bytes", info.Size()).
		Msg("Upload session opened")
	return s, nil
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// Resume claims a released resume record (the one for path, or the first
// claimable one when path is empty) and asks the server how many bytes it
// already holds. A record whose file has disappeared is dropped. A record for
// path that is still claimed yields ErrRecordInUse.
func (c *Client) Resume(ctx context.Context, path string) (*Session, error) {
	rec, err := c.records.Claim(ctx, path)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(rec.Path)
	if statErr != nil || !info.Mode().IsRegular() {
		if err := c.records.Drop(ctx, rec.Path); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("path", rec.Path).Msg("Failed to drop orphaned resume record")
		}
		metrics.RecordUploadSession("dropped")
		return nil, fmt.Errorf("%w: %s: upload has been canceled", ErrNotFile, rec.Path)
	}

	s := &Session{Record: *rec, started: c.now()}

	header := http.Header{}
	header.Set("Content-Range", "bytes */"+strconv.FormatInt(rec.ByteSize, 10))

	resp, body, err := c.send(ctx, http.MethodPut, rec.SessionURL, nil, header)
	if err != nil {
		return nil, c.interrupted(ctx, s, err)
	}

	switch resp.StatusCode {
	case http.StatusPermanentRedirect:
		s.Offset = 0
		if next, ok := parseRange(resp.Header.Get("Range")); ok {
			s.Offset = next
		}
		if loc := resp.Header.Get("Location"); loc != "" {
			s.Record.SessionURL = loc
		}
	case http.StatusOK, http.StatusCreated:
		// everything arrived before the previous process stopped
		if err := c.complete(ctx, s, body); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, c.rejected(ctx, s, badResponse(resp, body, "resume the upload of "+rec.Title))
	}

	s.Record.Progress = s.Offset
	if err := c.records.Save(ctx, &s.Record); err != nil {
		return nil, err
	}

	metrics.RecordUploadSession("resumed")
	logging.Ctx(ctx).Info().
		Str("path", rec.Path).
		Int64("offset", s.Offset).
		Int64("bytes", rec.ByteSize).
		Msg("Upload resumed")
	return s, nil
}

// UploadNextChunk sends the chunk at the session's offset and advances the
// offset to what the server reports. On failure the resume record is
// released (or dropped past the attempt ceiling) before returning.
func (c *Client) UploadNextChunk(ctx context.Context, s *Session) (ChunkResult, error) {
	if s.Done() {
		return ChunkResult{Done: true, ResourceID: s.ResourceID, Offset: s.Offset}, nil
	}

	start := c.now()

	chunk, err := c.readChunk(s)
	if err != nil {
		return ChunkResult{}, c.rejected(ctx, s, err)
	}

	if c.limiter != nil && len(chunk) > 0 {
		if err := c.limiter.WaitN(ctx, len(chunk)); err != nil {
			return ChunkResult{}, c.interrupted(ctx, s, err)
		}
	}

	header := http.Header{}
	if len(chunk) == 0 {
		header.Set("Content-Range", "bytes */"+strconv.FormatInt(s.Record.ByteSize, 10))
	} else {
		end := s.Offset + int64(len(chunk)) - 1
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", s.Offset, end, s.Record.ByteSize))
	}

	resp, body, err := c.send(ctx, http.MethodPut, s.Record.SessionURL, bytes.NewReader(chunk), header)
	elapsed := c.now().Sub(start)
	if err != nil {
		metrics.RecordChunk("interrupted", elapsed, 0)
		return ChunkResult{}, c.interrupted(ctx, s, err)
	}

	switch resp.StatusCode {
	case http.StatusPermanentRedirect:
		metrics.RecordChunk("continue", elapsed, int64(len(chunk)))
		if next, ok := parseRange(resp.Header.Get("Range")); ok {
			s.Offset = next
		} else {
			s.Offset += int64(len(chunk))
		}
		if loc := resp.Header.Get("Location"); loc != "" {
			s.Record.SessionURL = loc
		}
		s.lastChunk = elapsed
		return ChunkResult{Offset: s.Offset, Duration: elapsed}, nil

	case http.StatusCreated, http.StatusOK:
		metrics.RecordChunk("created", elapsed, int64(len(chunk)))
		s.Offset = s.Record.ByteSize
		s.lastChunk = elapsed
		if err := c.complete(ctx, s, body); err != nil {
			return ChunkResult{}, err
		}
		return ChunkResult{Done: true, ResourceID: s.ResourceID, Offset: s.Offset, Duration: elapsed}, nil

	default:
		metrics.RecordChunk("bad_response", elapsed, 0)
		return ChunkResult{}, c.rejected(ctx, s, badResponse(resp, body, "upload a chunk of "+s.Record.Title))
	}
}

// Upload sends chunks until the server reports completion, a chunk fails, or
// the time budget would not fit another chunk as long as the previous one.
// Stopping for the budget releases the record and is not an error.
func (c *Client) Upload(ctx context.Context, s *Session) (Result, error) {
	var deadline time.Time
	if c.cfg.TimeLimit > 0 {
		deadline = s.started.Add(c.cfg.TimeLimit)
	}

	for !s.Done() {
		res, err := c.UploadNextChunk(ctx, s)
		if err != nil {
			return Result{Offset: s.Offset}, err
		}
		if res.Done {
			break
		}

		if !deadline.IsZero() && deadline.Sub(c.now()) < s.lastChunk {
			return c.suspend(ctx, s)
		}
	}

	return Result{
		Completed:  true,
		ResourceID: s.ResourceID,
		Offset:     s.Offset,
		Elapsed:    c.now().Sub(s.started),
	}, nil
}

// readChunk reads up to one chunk from the session's offset.
//
//nolint:gosec // G304: path comes from the job's own archive
func (c *Client) readChunk(s *Session) ([]byte, error) {
	f, err := os.Open(s.Record.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read from file '%s': %w", s.Record.Path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	size := c.chunkSize()
	if remaining := s.Record.ByteSize - s.Offset; remaining < size {
		size = remaining
	}
	if size <= 0 {
		return nil, nil
	}

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, s.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read from file '%s': %w", s.Record.Path, err)
	}
	return buf[:n], nil
}

// complete parses the created resource and drops the resume record.
func (c *Client) complete(ctx context.Context, s *Session, body []byte) error {
	var created createdResource
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return c.rejected(ctx, s, fmt.Errorf("could not read resource id from completion response %q", truncate(body)))
	}
	s.ResourceID = created.ID
	s.Offset = s.Record.ByteSize

	if err := c.records.Drop(ctx, s.Record.Path); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("path", s.Record.Path).Msg("Failed to drop completed resume record")
	}

	metrics.RecordUploadSession("completed")
	logging.Ctx(ctx).Info().
		Str("path", s.Record.Path).
		Str("resource_id", created.ID).
		Dur("elapsed", c.now().Sub(s.started)).
		Msg("Upload completed")
	return nil
}

// suspend releases the record so a later invocation can resume it.
func (c *Client) suspend(ctx context.Context, s *Session) (Result, error) {
	s.Record.Progress = s.Offset
	if err := c.records.Release(ctx, &s.Record); err != nil {
		return Result{Offset: s.Offset}, err
	}
	metrics.RecordUploadSession("suspended")
	logging.Ctx(ctx).Info().
		Str("path", s.Record.Path).
		Int64("offset", s.Offset).
		Dur("last_chunk", s.lastChunk).
		Msg("Upload suspended ahead of the time limit")
	return Result{Offset: s.Offset, Elapsed: c.now().Sub(s.started)}, nil
}

// interrupted releases the record without counting an attempt.
func (c *Client) interrupted(ctx context.Context, s *Session, cause error) error {
	s.Record.Progress = s.Offset
	// the caller's context may already be cancelled; the release must still land
	if err := c.records.Release(context.WithoutCancel(ctx), &s.Record); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("path", s.Record.Path).Msg("Failed to release resume record")
	}
	return fmt.Errorf("%w: %v", ErrInterrupted, cause)
}

// rejected counts an attempt against the record and either releases it or,
// past the ceiling, drops it.
func (c *Client) rejected(ctx context.Context, s *Session, cause error) error {
	s.Record.Attempt++
	s.Record.Progress = s.Offset

	if s.Record.Attempt > c.cfg.MaxResumeAttempts {
		if err := c.records.Drop(context.WithoutCancel(ctx), s.Record.Path); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("path", s.Record.Path).Msg("Failed to drop resume record")
		}
		metrics.RecordUploadSession("dropped")
		return fmt.Errorf("%w: the upload of file '%s' failed after trying %d times: %v",
			ErrTerminal, s.Record.Path, s.Record.Attempt, cause)
	}

	if err := c.records.Release(context.WithoutCancel(ctx), &s.Record); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("path", s.Record.Path).Msg("Failed to release resume record")
	}
	return fmt.Errorf("%w: %v", ErrResumable, cause)
}

// parseRange returns the offset following a "bytes=0-N" header.
func parseRange(h string) (int64, bool) {
	h = strings.TrimSpace(h)
	i := strings.LastIndex(h, "-")
	if h == "" || i < 0 {
		return 0, false
	}
	last, err := strconv.ParseInt(strings.TrimSpace(h[i+1:]), 10, 64)
	if err != nil || last < 0 {
		return 0, false
	}
	return last + 1, true
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
