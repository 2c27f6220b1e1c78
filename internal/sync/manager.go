// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/lifecycle"
	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/quota"
)

// ErrPassInProgress is returned by TriggerSync while a pass is running.
var ErrPassInProgress = errors.New("sync pass already in progress")

// MaintenanceRunner runs the token maintenance pass.
type MaintenanceRunner interface {
	RunMaintenance(ctx context.Context) (lifecycle.Report, error)
}

// SubscriberRunner runs the subscriber sync pass.
type SubscriberRunner interface {
	Run(ctx context.Context) (SyncReport, error)
}

// QuotaRunner runs quota reconciliation.
type QuotaRunner interface {
	Run(ctx context.Context) (quota.Report, error)
}

// PassReport is the combined result of one scheduled pass.
type PassReport struct {
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Maintenance lifecycle.Report `json:"maintenance"`
	Sync        SyncReport       `json:"sync"`
	Quota       *quota.Report    `json:"quota,omitempty"`
	Errors      []string         `json:"errors,omitempty"`
}

// Manager is the interval scheduler. Each pass runs maintenance, then the
// subscriber sync, then quota reconciliation, under one mutex so passes
// never overlap.
type Manager struct {
	maintenance MaintenanceRunner
	subscribers SubscriberRunner
	quota       QuotaRunner
	cfg         config.SyncConfig

	passMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	last    *PassReport
}

// NewManager creates a scheduler. q may be nil when quota reconciliation is
// disabled.
func NewManager(maintenance MaintenanceRunner, subscribers SubscriberRunner, q QuotaRunner, cfg *config.SyncConfig) *Manager {
	return &Manager{
		maintenance: maintenance,
		subscribers: subscribers,
		quota:       q,
		cfg:         *cfg,
	}
}

// Start launches the ticker loop and returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("sync manager already running")
	}
	if m.cfg.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", m.cfg.Interval)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.loop(loopCtx)

	logging.Info().Dur("interval", m.cfg.Interval).Bool("run_on_start", m.cfg.RunOnStart).Msg("Sync scheduler started")
	return nil
}

// Stop cancels the loop and waits for the in-flight identity to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	logging.Info().Msg("Sync scheduler stopped")
	return nil
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	if m.cfg.RunOnStart {
		m.runScheduled(ctx)
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runScheduled(ctx)
		}
	}
}

func (m *Manager) runScheduled(ctx context.Context) {
	if _, err := m.RunPass(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Sync pass finished with errors")
	}
}

// RunPass waits for any running pass, then runs one.
func (m *Manager) RunPass(ctx context.Context) (PassReport, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	return m.run(ctx)
}

// TriggerSync runs a pass now, or returns ErrPassInProgress.
func (m *Manager) TriggerSync(ctx context.Context) (PassReport, error) {
	if !m.passMu.TryLock() {
		return PassReport{}, ErrPassInProgress
	}
	defer m.passMu.Unlock()
	return m.run(ctx)
}

// LastReport returns the most recent pass report.
func (m *Manager) LastReport() (PassReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return PassReport{}, false
	}
	return *m.last, true
}

func (m *Manager) run(ctx context.Context) (PassReport, error) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	report := PassReport{StartedAt: time.Now().UTC()}
	var errs []error

	maint, err := m.maintenance.RunMaintenance(ctx)
	report.Maintenance = maint
	if err != nil {
		errs = append(errs, fmt.Errorf("token maintenance: %w", err))
	}

	if ctx.Err() == nil {
		syncReport, err := m.subscribers.Run(ctx)
		report.Sync = syncReport
		if err != nil {
			errs = append(errs, fmt.Errorf("subscriber sync: %w", err))
		}
	}

	if m.quota != nil && ctx.Err() == nil {
		quotaReport, err := m.quota.Run(ctx)
		report.Quota = &quotaReport
		if err != nil {
			errs = append(errs, fmt.Errorf("quota reconciliation: %w", err))
		}
	}

	report.FinishedAt = time.Now().UTC()
	for _, e := range errs {
		report.Errors = append(report.Errors, e.Error())
	}

	m.mu.Lock()
	m.last = &report
	m.mu.Unlock()

	return report, errors.Join(errs...)
}
