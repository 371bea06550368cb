// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package backup

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/drivebackup/internal/config"
	"github.com/tomtom215/drivebackup/internal/models"
)

// Notification describes a job that failed permanently.
type Notification struct {
	JobID    string            `json:"job_id"`
	Title    string            `json:"title"`
	Attempts int               `json:"attempts"`
	Error    string            `json:"error"`
	LogPath  string            `json:"log_path"`
	FailedAt time.Time         `json:"failed_at"`
	Log      []models.LogEntry `json:"log,omitempty"`
}

// Notifier delivers failure notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Notifiers fans a notification out to several notifiers.
type Notifiers []Notifier

// Notify delivers n to every notifier and joins their errors.
func (ns Notifiers) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range ns {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewNotifier builds the notifiers enabled in cfg. Email needs a host and a
// recipient.
func NewNotifier(cfg config.NotifyConfig) Notifiers {
	var ns Notifiers
	if cfg.EmailEnabled && cfg.SMTPHost != "" && cfg.EmailTo != "" {
		ns = append(ns, NewEmailNotifier(cfg))
	}
	if cfg.WebhookURL != "" {
		ns = append(ns, NewWebhookNotifier(cfg.WebhookURL, nil))
	}
	return ns
}

// EmailNotifier sends notifications over SMTP.
type EmailNotifier struct {
	cfg            config.NotifyConfig
	defaultTimeout time.Duration
}

// NewEmailNotifier creates an EmailNotifier.
func NewEmailNotifier(cfg config.NotifyConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, defaultTimeout: 30 * time.Second}
}

// Notify sends the failure email.
func (e *EmailNotifier) Notify(ctx context.Context, n Notification) error {
	msg := e.buildMessage(n)
	if err := e.sendSMTP(ctx, msg); err != nil {
		return fmt.Errorf("email notification: %w", err)
	}
	return nil
}

func (e *EmailNotifier) buildMessage(n Notification) string {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("From: Drivebackup <%s>\r\n", e.cfg.SMTPFrom))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", e.cfg.EmailTo))
	msg.WriteString(fmt.Sprintf("Subject: Backup %q failed\r\n", n.Title))
	msg.WriteString(fmt.Sprintf("X-Drivebackup-Job: %s\r\n", n.JobID))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("The backup job %s failed after %d attempts.\r\n\r\n", n.JobID, n.Attempts))
	if n.Error != "" {
		msg.WriteString(fmt.Sprintf("Last error: %s\r\n\r\n", n.Error))
	}
	if len(n.Log) > 0 {
		msg.WriteString("Log:\r\n")
		for _, entry := range n.Log {
			msg.WriteString(fmt.Sprintf("%s %s %s %s\r\n", entry.Date, entry.Time, entry.Type, entry.Message))
		}
		msg.WriteString("\r\n")
	}
	msg.WriteString(fmt.Sprintf("Full log: %s\r\n", n.LogPath))
	return msg.String()
}

func (e *EmailNotifier) sendSMTP(ctx context.Context, msg string) error {
	addr := net.JoinHostPort(e.cfg.SMTPHost, fmt.Sprintf("%d", e.cfg.SMTPPort))

	dialer := &net.Dialer{Timeout: e.defaultTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }() //nolint:errcheck // Best effort cleanup

	client, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }() //nolint:errcheck // Best effort cleanup

	if e.cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: e.cfg.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if e.cfg.SMTPUser != "" && e.cfg.SMTPPassword != "" {
		auth := smtp.PlainAuth("", e.cfg.SMTPUser, e.cfg.SMTPPassword, e.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(e.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(e.cfg.EmailTo); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// The message is accepted at this point; a failed QUIT changes nothing.
	_ = client.Quit() //nolint:errcheck
	return nil
}

// WebhookNotifier posts notifications as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier. A nil client gets a 10s timeout.
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client}
}

type webhookPayload struct {
	Event string `json:"event"`
	Notification
}

// Notify posts n to the webhook URL. Any non-2xx answer is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookPayload{Event: "backup.failed", Notification: n})
	if err != nil {
		return fmt.Errorf("webhook notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook notification: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Drivebackup/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook notification: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Body is drained below

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notification: unexpected status %d", resp.StatusCode)
	}
	return nil
}
