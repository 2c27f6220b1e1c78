// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/models"
)

func TestNewHTTPServer(t *testing.T) {
	srv := newHTTPServer(&config.ServerConfig{Host: "127.0.0.1", Port: 9090, Timeout: 5 * time.Second}, http.NotFoundHandler())

	if srv.Addr != "127.0.0.1:9090" {
		t.Errorf("Addr = %q, want 127.0.0.1:9090", srv.Addr)
	}
	if srv.ReadHeaderTimeout != 5*time.Second || srv.WriteTimeout != 5*time.Second {
		t.Errorf("timeouts not applied: %+v", srv)
	}
	if srv.IdleTimeout != 10*time.Second {
		t.Errorf("IdleTimeout = %v, want 10s", srv.IdleTimeout)
	}
}

type fakeRegistrar struct {
	calls   int
	records []models.MetadataRecord
	err     error
}

func (f *fakeRegistrar) RegisterMetadata(_ context.Context, records []models.MetadataRecord) error {
	f.calls++
	f.records = records
	return f.err
}

func TestRegisterMetadataSchema(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.DiscordConfig
		err       error
		wantCalls int
	}{
		{"no bot token", config.DiscordConfig{ApplicationID: "app"}, nil, 0},
		{"no application id", config.DiscordConfig{BotToken: "bot"}, nil, 0},
		{"registers", config.DiscordConfig{ApplicationID: "app", BotToken: "bot"}, nil, 1},
		{"failure is not fatal", config.DiscordConfig{ApplicationID: "app", BotToken: "bot"}, errors.New("discord down"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &fakeRegistrar{err: tt.err}
			registerMetadataSchema(context.Background(), reg, &tt.cfg)

			if reg.calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", reg.calls, tt.wantCalls)
			}
			if tt.wantCalls > 0 && len(reg.records) != len(models.DefaultMetadataSchema()) {
				t.Errorf("registered %d records, want %d", len(reg.records), len(models.DefaultMetadataSchema()))
			}
		})
	}
}

type chanAuditStore struct {
	events chan *models.LifecycleEvent
}

func (s *chanAuditStore) InsertLifecycleEvent(_ context.Context, event *models.LifecycleEvent) error {
	s.events <- event
	return nil
}

func TestInitEventBusWithoutNATS(t *testing.T) {
	store := &chanAuditStore{events: make(chan *models.LifecycleEvent, 1)}
	bus, audit, err := initEventBus(&config.NATSConfig{Enabled: false}, store)
	if err != nil {
		t.Fatalf("initEventBus: %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go audit.Serve(ctx) //nolint:errcheck

	if err := bus.Publish(ctx, &models.LifecycleEvent{
		Type:          models.EventIdentityLinked,
		DiscordUserID: "80351110224678912",
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-store.events:
		if got.DiscordUserID != "80351110224678912" {
			t.Errorf("DiscordUserID = %q", got.DiscordUserID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audit consumer did not persist the event")
	}
}

func newTestConfig(tautulliURL string) *config.Config {
	return &config.Config{
		Discord: config.DiscordConfig{
			ClientID:          "client",
			ClientSecret:      "secret",
			RedirectURI:       "https://plexcord.example/callback",
			APIBaseURL:        "http://127.0.0.1:1",
			AuthorizeURL:      "https://discord.com/oauth2/authorize",
			PlatformName:      "Plex",
			RequestsPerSecond: 5,
			Timeout:           time.Second,
		},
		Tautulli: config.TautulliConfig{URL: tautulliURL, APIKey: "test-key", Timeout: time.Second},
		Database: config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 1},
		Tokens: config.TokensConfig{
			RefreshWindow:      72 * time.Hour,
			FirstIssueLifetime: 7 * 24 * time.Hour,
			RefreshLifetime:    3 * 24 * time.Hour,
			Retention:          30 * 24 * time.Hour,
		},
		Sync:       config.SyncConfig{Interval: time.Hour, StalenessThreshold: 24 * time.Hour},
		Quota:      config.QuotaConfig{Tiers: config.DefaultTiers()},
		Server:     config.ServerConfig{Host: "127.0.0.1", Port: 0, Timeout: 5 * time.Second},
		Security:   config.SecurityConfig{AdminToken: "admin-secret"},
		StateStore: config.StateStoreConfig{TTL: 10 * time.Minute},
	}
}

func TestNewAppServesRoutes(t *testing.T) {
	tautulli := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response":{"result":"success","message":null,"data":{"result":"success"}}}`)
	}))
	defer tautulli.Close()

	a, err := newApp(context.Background(), newTestConfig(tautulli.URL))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	tests := []struct {
		name   string
		path   string
		bearer string
		want   int
	}{
		{"liveness", "/healthz", "", http.StatusOK},
		{"readiness", "/readyz", "", http.StatusOK},
		{"metrics", "/metrics", "", http.StatusOK},
		{"admin without token", "/api/v1/admin/tokens/stats", "", http.StatusUnauthorized},
		{"admin with token", "/api/v1/admin/tokens/stats", "admin-secret", http.StatusOK},
		{"no pass yet", "/api/v1/admin/sync", "admin-secret", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			rec := httptest.NewRecorder()
			a.server.Handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d: %s", tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	tree, err := a.supervisorTree()
	if err != nil {
		t.Fatalf("supervisorTree: %v", err)
	}
	if tree.Root() == nil {
		t.Error("supervisor tree has no root")
	}
}

func TestNewAppRejectsBadEncryptionKey(t *testing.T) {
	cfg := newTestConfig("http://127.0.0.1:1")
	cfg.Security.TokenEncryptionKey = "not base64!"

	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Fatal("newApp accepted an undecodable encryption key")
	}
}
