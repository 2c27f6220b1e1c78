// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package quota

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/models"
)

type staticIdentities []models.LinkedIdentity

func (s staticIdentities) ListActiveLinkedIdentities(context.Context) ([]models.LinkedIdentity, error) {
	return s, nil
}

type mapHours map[string]int

func (m mapHours) WatchedHours(_ context.Context, id string) (int, error) {
	h, ok := m[id]
	if !ok {
		return 0, errors.New("no stats")
	}
	return h, nil
}

// fakeOverseerr serves /api/v1/user and records settings updates.
type fakeOverseerr struct {
	mu      sync.Mutex
	users   []OverseerrUser
	updates map[int]Quota
	failID  int
}

func (f *fakeOverseerr) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		take, _ := strconv.Atoi(r.URL.Query().Get("take"))
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		f.mu.Lock()
		end := skip + take
		if end > len(f.users) {
			end = len(f.users)
		}
		page := usersPage{Results: f.users[skip:end]}
		page.PageInfo.Results = len(f.users)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("/api/v1/user/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/settings/main") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		id, _ := strconv.Atoi(strings.Split(r.URL.Path, "/")[4])
		if id == f.failID {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var q Quota
		if err := json.Unmarshal(body, &q); err != nil {
			t.Errorf("decode quota: %v", err)
		}
		f.mu.Lock()
		f.updates[id] = q
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func intPtr(v int) *int { return &v }

func linked(discordID, plexID, plexName string) models.LinkedIdentity {
	return models.LinkedIdentity{
		Identity: models.Identity{ID: discordID, IsActive: true},
		Accounts: []models.LinkedAccount{{ID: plexID, Username: plexName, DiscordUserID: discordID}},
	}
}

func TestOverseerrClientListUsersPaginates(t *testing.T) {
	fake := &fakeOverseerr{updates: map[int]Quota{}}
	for i := 0; i < 120; i++ {
		fake.users = append(fake.users, OverseerrUser{ID: i + 1, PlexUsername: "u" + strconv.Itoa(i)})
	}
	server := fake.server(t)

	client := NewOverseerrClient(&config.OverseerrConfig{URL: server.URL, APIKey: "key", Timeout: 5 * time.Second})
	users, err := client.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 120 {
		t.Errorf("users = %d, want 120", len(users))
	}
}

func TestOverseerrClientRejectsBadKey(t *testing.T) {
	fake := &fakeOverseerr{updates: map[int]Quota{}}
	server := fake.server(t)

	client := NewOverseerrClient(&config.OverseerrConfig{URL: server.URL, APIKey: "wrong"})
	if _, err := client.ListUsers(context.Background()); err == nil {
		t.Fatal("expected error for bad API key")
	}
}

func TestReconcilerRun(t *testing.T) {
	fake := &fakeOverseerr{
		updates: map[int]Quota{},
		users: []OverseerrUser{
			{ID: 1, PlexUsername: "Alice"},
			{ID: 2, PlexUsername: "bob", MovieQuotaLimit: intPtr(10), MovieQuotaDays: intPtr(7), TVQuotaLimit: intPtr(5), TVQuotaDays: intPtr(7)},
			{ID: 3, Username: "carol"},
			{ID: 4, PlexUsername: "erin"},
		},
		failID: 4,
	}
	server := fake.server(t)
	client := NewOverseerrClient(&config.OverseerrConfig{URL: server.URL, APIKey: "key", Timeout: 5 * time.Second})

	tiers := TiersFromConfig(config.DefaultTiers())
	identities := staticIdentities{
		linked("d1", "p1", "alice"), // Gold, updated
		linked("d2", "p2", "bob"),   // Silver, already set
		linked("d3", "p3", "carol"), // default tier
		linked("d4", "p4", "dave"),  // Bronze, no Overseerr user
		linked("d5", "p5", "erin"),  // Bronze, update fails
		linked("d6", "p6", "frank"), // no stats
	}
	hours := mapHours{"p1": 60, "p2": 30, "p3": 2, "p4": 12, "p5": 12}

	r := NewReconciler(identities, hours, client, tiers, nil)
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := Report{Accounts: 6, Updated: 1, Unchanged: 1, Default: 1, Unmatched: 1, Failed: 2}
	report.Duration = 0
	if report != want {
		t.Errorf("report = %+v, want %+v", report, want)
	}

	got, ok := fake.updates[1]
	if !ok {
		t.Fatal("alice not updated")
	}
	if got != (Quota{MovieQuotaLimit: 20, MovieQuotaDays: 7, TVQuotaLimit: 10, TVQuotaDays: 7}) {
		t.Errorf("alice quota = %+v", got)
	}
	if _, ok := fake.updates[2]; ok {
		t.Error("bob already had the Silver quota and must not be rewritten")
	}
}

type failingTarget struct{}

func (failingTarget) ListUsers(context.Context) ([]OverseerrUser, error) {
	return nil, errors.New("overseerr down")
}
func (failingTarget) UpdateQuota(context.Context, int, Quota) error { return nil }

func TestReconcilerAbortsWhenUsersUnavailable(t *testing.T) {
	r := NewReconciler(staticIdentities{linked("d1", "p1", "alice")}, mapHours{}, failingTarget{}, nil, nil)
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
