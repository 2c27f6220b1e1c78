// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package services

import (
	"context"
	"time"

	"github.com/tomtom215/plexcord/internal/logging"
)

// StateCollector is satisfied by *auth.StateStore.
type StateCollector interface {
	CleanupExpired(ctx context.Context) (int, error)
	RunGC() error
}

// StateGCService sweeps abandoned link states and compacts the badger value
// log on an interval. Badger TTLs already hide expired keys; the sweep
// reclaims their space.
type StateGCService struct {
	store    StateCollector
	interval time.Duration
	name     string
}

// NewStateGCService creates the sweeper. A non-positive interval means 5m.
func NewStateGCService(store StateCollector, interval time.Duration) *StateGCService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StateGCService{
		store:    store,
		interval: interval,
		name:     "link-state-gc",
	}
}

// Serve implements suture.Service. Sweep errors are logged; they never stop
// the service.
func (s *StateGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *StateGCService) sweep(ctx context.Context) {
	removed, err := s.store.CleanupExpired(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Link state cleanup failed")
	} else if removed > 0 {
		logging.Debug().Int("removed", removed).Msg("Expired link states removed")
	}
	if err := s.store.RunGC(); err != nil {
		logging.Warn().Err(err).Msg("Link state value log GC failed")
	}
}

// String implements fmt.Stringer for suture's logs.
func (s *StateGCService) String() string {
	return s.name
}
