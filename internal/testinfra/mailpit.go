// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultMailpitImage is the Mailpit image used for SMTP tests.
	DefaultMailpitImage = "axllent/mailpit:v1.21"

	mailpitSMTPPort = "1025"
	mailpitHTTPPort = "8025"
)

// MailpitContainer is a running Mailpit SMTP sink.
type MailpitContainer struct {
	Container testcontainers.Container

	// SMTPHost and SMTPPort are the mapped SMTP listener.
	SMTPHost string
	SMTPPort int

	// APIURL is the base URL of Mailpit's HTTP API.
	APIURL string

	client *http.Client
}

// MailAddress is a Mailpit address.
type MailAddress struct {
	Name    string `json:"Name"`
	Address string `json:"Address"`
}

// MailSummary is one entry of Mailpit's message list.
type MailSummary struct {
	ID      string        `json:"ID"`
	From    MailAddress   `json:"From"`
	To      []MailAddress `json:"To"`
	Subject string        `json:"Subject"`
}

// Mail is a full message.
type Mail struct {
	MailSummary
	Text string `json:"Text"`
}

// NewMailpitContainer starts Mailpit and waits until both listeners answer.
//
//	mp, err := testinfra.NewMailpitContainer(ctx)
//	defer testinfra.CleanupContainer(t, ctx, mp.Container)
//	cfg := config.NotifyConfig{SMTPHost: mp.SMTPHost, SMTPPort: mp.SMTPPort, ...}
func NewMailpitContainer(ctx context.Context) (*MailpitContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        DefaultMailpitImage,
		ExposedPorts: []string{mailpitSMTPPort + "/tcp", mailpitHTTPPort + "/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(mailpitSMTPPort+"/tcp"),
			wait.ForHTTP("/api/v1/messages").WithPort(mailpitHTTPPort+"/tcp"),
		).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create mailpit container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get container host: %w", err)
	}
	smtpPort, err := container.MappedPort(ctx, mailpitSMTPPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped SMTP port: %w", err)
	}
	httpPort, err := container.MappedPort(ctx, mailpitHTTPPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped HTTP port: %w", err)
	}

	port, err := strconv.Atoi(smtpPort.Port())
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("parse SMTP port: %w", err)
	}

	return &MailpitContainer{
		Container: container,
		SMTPHost:  host,
		SMTPPort:  port,
		APIURL:    fmt.Sprintf("http://%s:%s", host, httpPort.Port()),
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Messages lists received messages, newest first.
func (m *MailpitContainer) Messages(ctx context.Context) ([]MailSummary, error) {
	var list struct {
		Messages []MailSummary `json:"messages"`
	}
	if err := m.get(ctx, "/api/v1/messages", &list); err != nil {
		return nil, err
	}
	return list.Messages, nil
}

// Message fetches one message including its text body.
func (m *MailpitContainer) Message(ctx context.Context, id string) (*Mail, error) {
	var mail Mail
	if err := m.get(ctx, "/api/v1/message/"+id, &mail); err != nil {
		return nil, err
	}
	return &mail, nil
}

// WaitForMessages polls until at least n messages arrived or ctx ends.
func (m *MailpitContainer) WaitForMessages(ctx context.Context, n int) ([]MailSummary, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		msgs, err := m.Messages(ctx)
		if err == nil && len(msgs) >= n {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return msgs, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *MailpitContainer) get(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.APIURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailpit %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mailpit %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
