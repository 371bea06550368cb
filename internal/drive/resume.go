// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/drivebackup/internal/settings"
)

// resumePrefix namespaces resume records in the settings store.
const resumePrefix = "resume/"

// ResumeRecord is the persisted state of one resumable upload, keyed by the
// local file path.
type ResumeRecord struct {
	Title      string `json:"title"`
	Path       string `json:"path"`
	ByteSize   int64  `json:"byte_size"`
	SessionURL string `json:"session_url"`
	Attempt    int    `json:"attempt"`

	// InUse marks a record claimed by a running upload. Claims older than the
	// store's claim TTL are treated as released.
	InUse     bool      `json:"in_use"`
	ClaimedAt time.Time `json:"claimed_at,omitempty"`

	// Progress is the last offset the server confirmed. Informational only:
	// a resume always asks the server.
	Progress int64 `json:"progress"`
}

// claimable reports whether no live upload holds the record.
func (r *ResumeRecord) claimable(now time.Time, ttl time.Duration) bool {
	if !r.InUse {
		return true
	}
	return ttl > 0 && !r.ClaimedAt.IsZero() && now.Sub(r.ClaimedAt) > ttl
}

// ResumeStore keeps resume records in the settings store.
type ResumeStore struct {
	store    *settings.Store
	claimTTL time.Duration
	now      func() time.Time
}

// NewResumeStore creates a ResumeStore. claimTTL bounds how long an in_use
// claim survives a process that never released it; zero means forever.
func NewResumeStore(store *settings.Store, claimTTL time.Duration) *ResumeStore {
	return &ResumeStore{store: store, claimTTL: claimTTL, now: time.Now}
}

func resumeKey(path string) string {
	return resumePrefix + path
}

// Save writes rec.
func (s *ResumeStore) Save(ctx context.Context, rec *ResumeRecord) error {
	if err := s.store.Put(ctx, resumeKey(rec.Path), rec); err != nil {
		return fmt.Errorf("save resume record: %w", err)
	}
	return nil
}

// Get returns the record for path, or ErrNoResumeRecord.
func (s *ResumeStore) Get(ctx context.Context, path string) (*ResumeRecord, error) {
	var rec ResumeRecord
	if err := s.store.Get(ctx, resumeKey(path), &rec); err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			return nil, ErrNoResumeRecord
		}
		return nil, fmt.Errorf("load resume record: %w", err)
	}
	return &rec, nil
}

// Drop deletes the record for path.
func (s *ResumeStore) Drop(ctx context.Context, path string) error {
	if err := s.store.Delete(ctx, resumeKey(path)); err != nil {
		return fmt.Errorf("drop resume record: %w", err)
	}
	return nil
}

// List returns all records in key order.
func (s *ResumeStore) List(ctx context.Context) ([]ResumeRecord, error) {
	var out []ResumeRecord
	err := s.store.View(ctx, func(tx *settings.Tx) error {
		return tx.Scan(resumePrefix, func(_ string, decode func(v interface{}) error) error {
			var rec ResumeRecord
			if err := decode(&rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list resume records: %w", err)
	}
	return out, nil
}

// Claim marks a claimable record as in use and returns it. With an empty path
// the first claimable record in key order is taken. A record held by a live
// upload is never returned: asking for it by path yields ErrRecordInUse.
func (s *ResumeStore) Claim(ctx context.Context, path string) (*ResumeRecord, error) {
	now := s.now()
	var claimed *ResumeRecord

	err := s.store.Update(ctx, func(tx *settings.Tx) error {
		claimed = nil
		if path != "" {
			var rec ResumeRecord
			if err := tx.Get(resumeKey(path), &rec); err != nil {
				return err
			}
			if !rec.claimable(now, s.claimTTL) {
				return ErrRecordInUse
			}
			claimed = &rec
		} else {
			errFound := errors.New("found")
			err := tx.Scan(resumePrefix, func(_ string, decode func(v interface{}) error) error {
				var rec ResumeRecord
				if err := decode(&rec); err != nil {
					return err
				}
				if rec.claimable(now, s.claimTTL) {
					claimed = &rec
					return errFound
				}
				return nil
			})
			if err != nil && !errors.Is(err, errFound) {
				return err
			}
		}
		if claimed == nil {
			return nil
		}
		claimed.InUse = true
		claimed.ClaimedAt = now
		return tx.Put(resumeKey(claimed.Path), claimed)
	})
	if err != nil {
		if errors.Is(err, ErrRecordInUse) {
			return nil, err
		}
		if errors.Is(err, settings.ErrNotFound) || errors.Is(err, settings.ErrConflict) {
			return nil, ErrNoResumeRecord
		}
		return nil, fmt.Errorf("claim resume record: %w", err)
	}
	if claimed == nil {
		return nil, ErrNoResumeRecord
	}
	return claimed, nil
}

// Release clears the in_use flag so another invocation may resume the upload.
func (s *ResumeStore) Release(ctx context.Context, rec *ResumeRecord) error {
	rec.InUse = false
	rec.ClaimedAt = time.Time{}
	return s.Save(ctx, rec)
}
