// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

// Package drive is the client for the remote store's resumable upload
// protocol, plus the few metadata calls the backup job needs (delete, quota).
//
// Upload state machine:
//
//	NotStarted -> SessionOpen -> Uploading -> Completed
//	           -> Rejected   (ErrSessionRejected, nothing stored)
//	                                       -> Suspended  (time budget, record released)
//	                                       -> Failed     (ErrResumable / ErrTerminal / ErrInterrupted)
//
// The server is the authority on how many bytes it persisted. Every 308
// response's Range header sets the next offset, and a resumed upload always
// issues a status check before sending data.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/drivebackup/internal/config"
	"github.com/tomtom215/drivebackup/internal/logging"
)

var (
	// ErrResumable means the server answered with an unexpected status; the
	// resume record was kept and a later invocation can continue.
	ErrResumable = errors.New("upload failed but can be resumed")

	// ErrTerminal means the resume attempt ceiling was exceeded and the
	// resume record was dropped.
	ErrTerminal = errors.New("upload failed permanently")

	// ErrInterrupted means a request never got an answer: transport failure,
	// open circuit breaker or cancellation. Progress is kept.
	ErrInterrupted = errors.New("upload interrupted")

	// ErrSessionRejected means the server refused to open an upload session.
	// No resume record exists yet, so the caller has to count the attempt.
	ErrSessionRejected = errors.New("upload session was rejected")

	// ErrRecordInUse means the resume record for the path is claimed by
	// another invocation and must not be touched until the claim expires.
	ErrRecordInUse = errors.New("upload is claimed by another run")

	// ErrNoResumeRecord means there is nothing to resume.
	ErrNoResumeRecord = errors.New("there are no uploads that need to be resumed")

	// ErrNotFile means the upload source is missing or not a regular file.
	ErrNotFile = errors.New("path does not point to a file")
)

// maxErrorBody bounds how much of an unexpected response body ends up in errors.
const maxErrorBody = 512

// Client talks to the remote store.
type Client struct {
	cfg     config.DriveConfig
	http    *http.Client
	records *ResumeStore
	limiter *rate.Limiter

	cb          *gobreaker.CircuitBreaker[*http.Response]
	breakerName string

	log zerolog.Logger
	now func() time.Time
}

// NewClient creates a Client. httpClient must attach credentials (see
// auth.Manager.HTTPClient); nil uses a plain client, which is only useful
// against test servers.
func NewClient(cfg config.DriveConfig, httpClient *http.Client, records *ResumeStore) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// 308 is the protocol's "resume incomplete", not a redirect to follow
	hc := *httpClient
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	log := logging.WithComponent("drive")
	c := &Client{
		cfg:         cfg,
		http:        &hc,
		records:     records,
		cb:          newBreaker(breakerName, log),
		breakerName: breakerName,
		log:         log,
		now:         time.Now,
	}

	if cfg.MaxBytesPerSecond > 0 {
		burst := int(cfg.ChunkSizeBytes())
		if int(cfg.MaxBytesPerSecond) > burst {
			burst = int(cfg.MaxBytesPerSecond)
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxBytesPerSecond), burst)
	}
	return c
}

// Records returns the resume record store.
func (c *Client) Records() *ResumeStore {
	return c.records
}

// chunkSize returns the configured chunk size, defaulting to 512 KiB.
func (c *Client) chunkSize() int64 {
	if n := c.cfg.ChunkSizeBytes(); n > 0 {
		return n
	}
	return 512 * 1024
}

// send performs one request bounded by the configured request timeout.
// The response body is fully read and closed before returning.
func (c *Client) send(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, []byte, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp, data, nil
}

// badResponse formats an unexpected status for error messages.
func badResponse(resp *http.Response, body []byte, action string) error {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	if text == "" {
		return fmt.Errorf("received response code '%s' while trying to %s", resp.Status, action)
	}
	return fmt.Errorf("received response code '%s' while trying to %s: %s", resp.Status, action, text)
}
