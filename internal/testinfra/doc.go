// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

// Package testinfra provides container-backed infrastructure for integration
// tests. Everything except this file is behind the integration build tag:
//
//	go test -tags integration ./...
//
// # Mailpit
//
// MailpitContainer runs an SMTP sink with an HTTP API, so failure
// notification emails can be sent over real SMTP and read back:
//
//	func TestEmailNotifier_Mailpit(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    mp, err := testinfra.NewMailpitContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, mp.Container)
//
//	    // send through mp.SMTPHost:mp.SMTPPort, then
//	    msgs, err := mp.WaitForMessages(ctx, 1)
//	}
//
// # CI Considerations
//
// Tests are skipped when Docker is unavailable. The first run pulls the
// Mailpit image.
package testinfra
