// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package services

import (
	"context"
	"time"

	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/metrics"
)

// GarbageCollector matches settings.Store's value-log GC.
type GarbageCollector interface {
	RunGC() error
}

// StoreGCService runs settings store garbage collection on an interval.
// GC failures are logged and retried on the next tick; they never stop the
// service.
type StoreGCService struct {
	store    GarbageCollector
	interval time.Duration
	name     string
}

// NewStoreGCService creates the GC service. A non-positive interval defaults
// to 10 minutes.
func NewStoreGCService(store GarbageCollector, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StoreGCService{
		store:    store,
		interval: interval,
		name:     "settings-store-gc",
	}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.collect()
		}
	}
}

func (s *StoreGCService) collect() {
	start := time.Now()
	err := s.store.RunGC()
	duration := time.Since(start)
	metrics.RecordStoreGC(duration, err)

	if err != nil {
		logging.Error().Err(err).Msg("Settings store GC failed")
		return
	}
	logging.Debug().Dur("duration", duration).Msg("Settings store GC completed")
}

// String implements fmt.Stringer for suture's log messages.
func (s *StoreGCService) String() string {
	return s.name
}
