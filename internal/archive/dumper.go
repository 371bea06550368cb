// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrDumpDisabled is returned when no dump command is configured.
var ErrDumpDisabled = errors.New("database dump command not configured")

// maxStderr bounds the dump command's stderr kept for error messages.
const maxStderr = 4096

// Dumper runs an external dump command (mysqldump, pg_dump, ...) and writes
// its standard output to Path.
type Dumper struct {
	Command string
	Args    []string
	Path    string
}

// NewDumper creates a Dumper.
func NewDumper(command string, args []string, path string) *Dumper {
	return &Dumper{Command: command, Args: args, Path: path}
}

// Enabled reports whether a dump command is configured.
func (d *Dumper) Enabled() bool {
	return d != nil && d.Command != ""
}

// Dump runs the command and returns the dump file path. The output is
// renamed into place only when the command exits successfully.
//
//nolint:gosec // G204: command and args come from operator configuration
func (d *Dumper) Dump(ctx context.Context) (string, error) {
	if !d.Enabled() {
		return "", ErrDumpDisabled
	}
	if err := os.MkdirAll(filepath.Dir(d.Path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create dump directory: %w", err)
	}

	partPath := d.Path + ".part"
	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("could not open %s for writing: %w", partPath, err)
	}

	stderr := &boundedBuffer{limit: maxStderr}
	cmd := exec.CommandContext(ctx, d.Command, d.Args...)
	cmd.Stdout = out
	cmd.Stderr = stderr

	runErr := cmd.Run()
	closeErr := out.Close()

	if runErr != nil {
		os.Remove(partPath) //nolint:errcheck // Best effort cleanup
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("dump command failed: %w: %s", runErr, msg)
		}
		return "", fmt.Errorf("dump command failed: %w", runErr)
	}
	if closeErr != nil {
		os.Remove(partPath) //nolint:errcheck // Best effort cleanup
		return "", fmt.Errorf("failed to write dump file: %w", closeErr)
	}

	if err := os.Rename(partPath, d.Path); err != nil {
		return "", fmt.Errorf("failed to move dump into place: %w", err)
	}
	return d.Path, nil
}

// boundedBuffer keeps the last limit bytes written to it.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}
