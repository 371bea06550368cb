// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordJobOutcome(t *testing.T) {
	before := testutil.ToFloat64(BackupJobsTotal.WithLabelValues("succeeded"))
	RecordJobOutcome("succeeded")

	if got := testutil.ToFloat64(BackupJobsTotal.WithLabelValues("succeeded")); got != before+1 {
		t.Errorf("expected succeeded count %v, got %v", before+1, got)
	}
	if testutil.ToFloat64(BackupLastSuccess) <= 0 {
		t.Error("expected last success timestamp to be set")
	}
}

func TestRecordPhase(t *testing.T) {
	tests := []struct {
		name  string
		phase string
		err   error
	}{
		{name: "successful dump", phase: "dump"},
		{name: "failed archive", phase: "archive", err: errors.New("disk full")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(BackupPhaseErrors.WithLabelValues(tt.phase))
			RecordPhase(tt.phase, 250*time.Millisecond, tt.err)
			after := testutil.ToFloat64(BackupPhaseErrors.WithLabelValues(tt.phase))

			want := before
			if tt.err != nil {
				want++
			}
			if after != want {
				t.Errorf("phase errors = %v, want %v", after, want)
			}
		})
	}
}

func TestRecordChunk(t *testing.T) {
	beforeBytes := testutil.ToFloat64(UploadBytesTotal)
	beforeChunks := testutil.ToFloat64(UploadChunksTotal.WithLabelValues("continue"))

	RecordChunk("continue", 10*time.Millisecond, 1048576)
	RecordChunk("continue", 10*time.Millisecond, 0)

	if got := testutil.ToFloat64(UploadBytesTotal); got != beforeBytes+1048576 {
		t.Errorf("upload bytes = %v, want %v", got, beforeBytes+1048576)
	}
	if got := testutil.ToFloat64(UploadChunksTotal.WithLabelValues("continue")); got != beforeChunks+2 {
		t.Errorf("chunks = %v, want %v", got, beforeChunks+2)
	}
}

func TestUpdateQuota(t *testing.T) {
	UpdateQuota(512, 2048)

	if got := testutil.ToFloat64(DriveQuotaBytes.WithLabelValues("used")); got != 512 {
		t.Errorf("used = %v, want 512", got)
	}
	if got := testutil.ToFloat64(DriveQuotaBytes.WithLabelValues("total")); got != 2048 {
		t.Errorf("total = %v, want 2048", got)
	}
}

func TestRecordRetentionDeletion(t *testing.T) {
	before := testutil.ToFloat64(RetentionDeletionsTotal.WithLabelValues("local"))
	RecordRetentionDeletion("local")
	if got := testutil.ToFloat64(RetentionDeletionsTotal.WithLabelValues("local")); got != before+1 {
		t.Errorf("local deletions = %v, want %v", got, before+1)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/backup", "200"))
	RecordAPIRequest("POST", "/api/v1/backup", 200, 5*time.Millisecond)
	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/backup", "200")); got != before+1 {
		t.Errorf("api requests = %v, want %v", got, before+1)
	}
}
