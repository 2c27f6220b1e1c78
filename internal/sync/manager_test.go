// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/lifecycle"
	"github.com/tomtom215/plexcord/internal/quota"
)

type stageRecorder struct {
	mu     sync.Mutex
	stages []string
}

func (r *stageRecorder) add(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *stageRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stages...)
}

type stubMaintenance struct {
	rec     *stageRecorder
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (s *stubMaintenance) RunMaintenance(context.Context) (lifecycle.Report, error) {
	s.rec.add("maintenance")
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		<-s.block
	}
	return lifecycle.Report{Scanned: 2}, s.err
}

type stubSubscribers struct {
	rec *stageRecorder
	err error
}

func (s *stubSubscribers) Run(context.Context) (SyncReport, error) {
	s.rec.add("sync")
	return SyncReport{Identities: 2, Outcomes: map[Outcome]int{OutcomePublished: 2}}, s.err
}

type stubQuota struct {
	rec *stageRecorder
}

func (s *stubQuota) Run(context.Context) (quota.Report, error) {
	s.rec.add("quota")
	return quota.Report{Accounts: 2}, nil
}

func syncConfig(interval time.Duration, runOnStart bool) *config.SyncConfig {
	return &config.SyncConfig{Interval: interval, StalenessThreshold: 24 * time.Hour, RunOnStart: runOnStart}
}

func TestManagerRunPassStageOrder(t *testing.T) {
	rec := &stageRecorder{}
	m := NewManager(&stubMaintenance{rec: rec}, &stubSubscribers{rec: rec}, &stubQuota{rec: rec}, syncConfig(time.Hour, false))

	report, err := m.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	got := rec.snapshot()
	want := []string{"maintenance", "sync", "quota"}
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d = %q, want %q", i, got[i], want[i])
		}
	}
	if report.Maintenance.Scanned != 2 || report.Sync.Identities != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.Quota == nil || report.Quota.Accounts != 2 {
		t.Errorf("quota report = %+v", report.Quota)
	}
	if report.FinishedAt.Before(report.StartedAt) {
		t.Error("finished before started")
	}
}

func TestManagerWithoutQuota(t *testing.T) {
	rec := &stageRecorder{}
	m := NewManager(&stubMaintenance{rec: rec}, &stubSubscribers{rec: rec}, nil, syncConfig(time.Hour, false))

	report, err := m.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if report.Quota != nil {
		t.Error("quota report must be nil when reconciliation is disabled")
	}
	if got := rec.snapshot(); len(got) != 2 {
		t.Errorf("stages = %v", got)
	}
}

func TestManagerMaintenanceErrorStillSyncs(t *testing.T) {
	rec := &stageRecorder{}
	m := NewManager(&stubMaintenance{rec: rec, err: errors.New("list tokens failed")}, &stubSubscribers{rec: rec}, nil, syncConfig(time.Hour, false))

	report, err := m.RunPass(context.Background())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(report.Errors) != 1 {
		t.Errorf("errors = %v", report.Errors)
	}
	if got := rec.snapshot(); len(got) != 2 || got[1] != "sync" {
		t.Errorf("stages = %v", got)
	}
	last, ok := m.LastReport()
	if !ok || len(last.Errors) != 1 {
		t.Errorf("last report = %+v, %v", last, ok)
	}
}

func TestManagerTriggerSyncWhileRunning(t *testing.T) {
	rec := &stageRecorder{}
	maint := &stubMaintenance{rec: rec, block: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := NewManager(maint, &stubSubscribers{rec: rec}, nil, syncConfig(time.Hour, false))

	done := make(chan error, 1)
	go func() {
		_, err := m.RunPass(context.Background())
		done <- err
	}()
	<-maint.entered

	if _, err := m.TriggerSync(context.Background()); !errors.Is(err, ErrPassInProgress) {
		t.Errorf("TriggerSync err = %v, want ErrPassInProgress", err)
	}

	close(maint.block)
	if err := <-done; err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	maint.entered = nil
	if _, err := m.TriggerSync(context.Background()); err != nil {
		t.Errorf("TriggerSync after pass: %v", err)
	}
}

func TestManagerLastReportEmpty(t *testing.T) {
	m := NewManager(&stubMaintenance{rec: &stageRecorder{}}, &stubSubscribers{rec: &stageRecorder{}}, nil, syncConfig(time.Hour, false))
	if _, ok := m.LastReport(); ok {
		t.Error("expected no report before the first pass")
	}
}

func TestManagerStartStop(t *testing.T) {
	rec := &stageRecorder{}
	maint := &stubMaintenance{rec: rec, entered: make(chan struct{}, 8)}
	m := NewManager(maint, &stubSubscribers{rec: rec}, nil, syncConfig(time.Hour, true))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start must fail")
	}

	select {
	case <-maint.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("run-on-start pass did not run")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if _, ok := m.LastReport(); !ok {
		t.Error("expected a report from the run-on-start pass")
	}
}

func TestManagerTickerRunsPasses(t *testing.T) {
	rec := &stageRecorder{}
	maint := &stubMaintenance{rec: rec, entered: make(chan struct{}, 16)}
	m := NewManager(maint, &stubSubscribers{rec: rec}, nil, syncConfig(10*time.Millisecond, false))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = m.Stop() }()

	for i := 0; i < 2; i++ {
		select {
		case <-maint.entered:
		case <-time.After(5 * time.Second):
			t.Fatalf("tick %d did not run a pass", i)
		}
	}
}

func TestManagerRejectsNonPositiveInterval(t *testing.T) {
	m := NewManager(&stubMaintenance{rec: &stageRecorder{}}, &stubSubscribers{rec: &stageRecorder{}}, nil, syncConfig(0, false))
	if err := m.Start(context.Background()); err == nil {
		t.Error("expected error for zero interval")
	}
}
