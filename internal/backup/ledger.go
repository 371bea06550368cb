// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/tomtom215/drivebackup/internal/models"
	"github.com/tomtom215/drivebackup/internal/settings"
)

const jobPrefix = "job/"

// ErrJobNotFound is returned when no job record exists for an ID.
var ErrJobNotFound = errors.New("backup job not found")

func jobKey(id string) string {
	return jobPrefix + id
}

// Ledger persists job records in the settings store.
type Ledger struct {
	store *settings.Store
	now   func() time.Time
}

// NewLedger creates a Ledger.
func NewLedger(store *settings.Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Create mints a PENDING job from now and persists it. When a job already
// exists for that second the timestamp is bumped until the ID is free.
func (l *Ledger) Create(ctx context.Context, title, logDir string, now time.Time) (*models.Job, error) {
	var job *models.Job
	err := l.store.Update(ctx, func(tx *settings.Tx) error {
		ts := now.Unix()
		for {
			var existing models.Job
			err := tx.Get(jobKey(models.JobID(ts)), &existing)
			if errors.Is(err, settings.ErrNotFound) {
				break
			}
			if err != nil {
				return err
			}
			ts++
		}

		id := models.JobID(ts)
		job = &models.Job{
			ID:        id,
			Timestamp: ts,
			Title:     title,
			Status:    models.JobPending,
			LogPath:   filepath.Join(logDir, id+".log"),
			UpdatedAt: l.now().UTC(),
		}
		return tx.Put(jobKey(id), job)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Get loads one job.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := l.store.Get(ctx, jobKey(id), &job); err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, err
	}
	return &job, nil
}

// Save persists job and stamps UpdatedAt.
func (l *Ledger) Save(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = l.now().UTC()
	if err := l.store.Put(ctx, jobKey(job.ID), job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// Delete removes a job record.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	return l.store.Delete(ctx, jobKey(id))
}

// List returns every job, oldest first.
func (l *Ledger) List(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	err := l.store.View(ctx, func(tx *settings.Tx) error {
		return tx.Scan(jobPrefix, func(_ string, decode func(interface{}) error) error {
			var job models.Job
			if err := decode(&job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	sortJobs(jobs)
	return jobs, nil
}

// sortJobs orders by creation time. Base-36 IDs of different lengths do not
// sort lexically, so the key order from the store is not enough.
func sortJobs(jobs []*models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Timestamp != jobs[j].Timestamp {
			return jobs[i].Timestamp < jobs[j].Timestamp
		}
		return jobs[i].ID < jobs[j].ID
	})
}

// Replace writes the outcome of a purge: records missing from after are
// deleted and every survivor is saved, in one transaction.
func (l *Ledger) Replace(ctx context.Context, before, after []*models.Job) error {
	keep := make(map[string]bool, len(after))
	for _, job := range after {
		keep[job.ID] = true
	}
	now := l.now().UTC()
	return l.store.Update(ctx, func(tx *settings.Tx) error {
		for _, job := range before {
			if !keep[job.ID] {
				if err := tx.Delete(jobKey(job.ID)); err != nil {
					return err
				}
			}
		}
		for _, job := range after {
			job.UpdatedAt = now
			if err := tx.Put(jobKey(job.ID), job); err != nil {
				return err
			}
		}
		return nil
	})
}
