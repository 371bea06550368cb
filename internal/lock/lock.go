// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

// Package lock provides the cooperative, time-bounded job lock.
//
// The lock is a single record in the settings store carrying its holder and
// an expiry. It is not a distributed lock: a holder that crashes keeps the
// lock until the TTL runs out, after which the next trigger takes it over.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/settings"
)

// DefaultKey is the settings key of the backup job lock.
const DefaultKey = "lock/backup"

// ErrHeld is returned by callers that need an error form of a refused acquire.
var ErrHeld = errors.New("lock is held by another run")

// Lease is the persisted lock flag.
type Lease struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Active reports whether the lease is unexpired at now.
func (l Lease) Active(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.Before(l.ExpiresAt)
}

// Manager acquires and releases one named lock.
type Manager struct {
	store  *settings.Store
	key    string
	holder string
	now    func() time.Time
}

// New creates a Manager for key with a fresh holder identity.
func New(store *settings.Store, key string) *Manager {
	if key == "" {
		key = DefaultKey
	}
	return &Manager{
		store:  store,
		key:    key,
		holder: uuid.New().String(),
		now:    time.Now,
	}
}

// Holder returns this manager's holder identity.
func (m *Manager) Holder() string {
	return m.holder
}

// TryAcquire takes the lock for ttl. It returns false without error when an
// unexpired lease exists, whoever holds it.
func (m *Manager) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	now := m.now()
	var acquired bool
	err := m.store.Update(ctx, func(tx *settings.Tx) error {
		var current Lease
		err := tx.Get(m.key, &current)
		switch {
		case err == nil && current.Active(now):
			logging.Debug().
				Str("lock", m.key).
				Str("holder", current.Holder).
				Time("expires_at", current.ExpiresAt).
				Msg("Lock is held, not acquiring")
			return nil
		case err != nil && !errors.Is(err, settings.ErrNotFound):
			return err
		}

		lease := Lease{Holder: m.holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
		if err := tx.PutWithTTL(m.key, lease, ttl); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if errors.Is(err, settings.ErrConflict) {
		// another run committed first
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", m.key, err)
	}

	if acquired {
		logging.Debug().Str("lock", m.key).Str("holder", m.holder).Dur("ttl", ttl).Msg("Lock acquired")
	}
	return acquired, nil
}

// Release drops the lock if this manager holds it.
func (m *Manager) Release(ctx context.Context) error {
	err := m.store.Update(ctx, func(tx *settings.Tx) error {
		var current Lease
		if err := tx.Get(m.key, &current); err != nil {
			if errors.Is(err, settings.ErrNotFound) {
				return nil
			}
			return err
		}
		if current.Holder != m.holder {
			return nil
		}
		return tx.Delete(m.key)
	})
	if err != nil {
		return fmt.Errorf("release lock %s: %w", m.key, err)
	}
	logging.Debug().Str("lock", m.key).Str("holder", m.holder).Msg("Lock released")
	return nil
}

// Current returns the active lease, if any.
func (m *Manager) Current(ctx context.Context) (Lease, bool, error) {
	var lease Lease
	err := m.store.Get(ctx, m.key, &lease)
	if errors.Is(err, settings.ErrNotFound) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, err
	}
	return lease, lease.Active(m.now()), nil
}
