// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/database"
	"github.com/tomtom215/plexcord/internal/discord"
	"github.com/tomtom215/plexcord/internal/metrics"
	"github.com/tomtom215/plexcord/internal/models"
	"github.com/tomtom215/plexcord/internal/models/tautulli"
	"github.com/tomtom215/plexcord/internal/quota"
	"github.com/tomtom215/plexcord/internal/validation"
)

type fakeLinkOAuth struct {
	exchangeErr error
	pushErr     error
	expiresIn   time.Duration
	codes       []string
	pushed      []models.RoleConnection
	stateSeq    int
}

func (f *fakeLinkOAuth) AuthorizeURL(redirectURI string) (string, string, error) {
	f.stateSeq++
	state := fmt.Sprintf("state-%d", f.stateSeq)
	q := url.Values{"state": {state}}
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}
	return "https://discord.test/oauth2/authorize?" + q.Encode(), state, nil
}

func (f *fakeLinkOAuth) ExchangeCode(_ context.Context, code, _ string) (*discord.TokenResponse, error) {
	f.codes = append(f.codes, code)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &discord.TokenResponse{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		TokenType:    "Bearer",
		Scopes:       discord.Scopes,
		ExpiresIn:    f.expiresIn,
	}, nil
}

func (f *fakeLinkOAuth) GetCurrentUser(context.Context, string) (*discord.User, error) {
	return &discord.User{ID: "100000000000000001", Username: "cinephile", GlobalName: "Cine Phile"}, nil
}

func (f *fakeLinkOAuth) PushMetadata(_ context.Context, _ string, conn *models.RoleConnection) error {
	f.pushed = append(f.pushed, *conn)
	return f.pushErr
}

type fakePlexDirectory struct {
	users    []tautulli.TautulliUserData
	seconds  map[string]int64
	statsErr error
}

func (f *fakePlexDirectory) Ping(context.Context) error { return nil }

func (f *fakePlexDirectory) GetUsers(context.Context) (*tautulli.TautulliUsers, error) {
	out := &tautulli.TautulliUsers{}
	out.Response.Result = "success"
	out.Response.Data = f.users
	return out, nil
}

func (f *fakePlexDirectory) GetUserWatchTimeStats(_ context.Context, userID string, _ int) (*tautulli.TautulliUserWatchTimeStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	out := &tautulli.TautulliUserWatchTimeStats{}
	if secs, ok := f.seconds[userID]; ok {
		out.Response.Data = []tautulli.TautulliUserWatchTimeStatRow{{QueryDays: 0, TotalTime: secs}}
	}
	return out, nil
}

type fakeLinkStore struct {
	requests []database.LinkRequest
	err      error
}

func (f *fakeLinkStore) LinkAccount(_ context.Context, req *database.LinkRequest) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, *req)
	return nil
}

type recordedEvents struct {
	events []models.LifecycleEvent
}

func (r *recordedEvents) Publish(_ context.Context, e *models.LifecycleEvent) error {
	r.events = append(r.events, *e)
	return nil
}

func (r *recordedEvents) types() []models.LifecycleEventType {
	out := make([]models.LifecycleEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var linkNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type linkFixture struct {
	oauth  *fakeLinkOAuth
	plex   *fakePlexDirectory
	store  *fakeLinkStore
	events *recordedEvents
	flow   *LinkFlow
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()
	states, err := NewStateStore("")
	if err != nil {
		t.Fatalf("NewStateStore: %v", err)
	}
	t.Cleanup(func() { _ = states.Close() })

	f := &linkFixture{
		oauth: &fakeLinkOAuth{},
		plex: &fakePlexDirectory{
			users: []tautulli.TautulliUserData{
				{UserID: 501, Username: "GoneUser", DeletedUser: 1},
				{UserID: 502, Username: "MovieBuff", FriendlyName: "Buff", IsActive: 1},
			},
			seconds: map[string]int64{"502": 26*3600 + 1200},
		},
		store:  &fakeLinkStore{},
		events: &recordedEvents{},
	}
	f.flow = NewLinkFlow(f.oauth, states, f.plex, f.store, f.events, LinkFlowConfig{
		StateTTL:           10 * time.Minute,
		FirstIssueLifetime: 7 * 24 * time.Hour,
		Tiers:              quota.TiersFromConfig(config.DefaultTiers()),
	})
	f.flow.now = func() time.Time { return linkNow }
	return f
}

func (f *linkFixture) start(t *testing.T, username string) string {
	t.Helper()
	authURL, err := f.flow.Start(context.Background(), username, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	return u.Query().Get("state")
}

func TestLinkFlowStartValidation(t *testing.T) {
	f := newLinkFixture(t)

	tests := []struct {
		name        string
		username    string
		redirectURI string
		wantErr     bool
	}{
		{"valid username", "MovieBuff", "", false},
		{"email address", "buff@example.com", "", false},
		{"empty", "", "", true},
		{"spaces", "movie buff", "", true},
		{"bad redirect", "MovieBuff", "not a url", true},
		{"redirect override", "MovieBuff", "https://plexcord.example/callback", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.flow.Start(context.Background(), tt.username, tt.redirectURI)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Start err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var verr *validation.RequestValidationError
				if !errors.As(err, &verr) {
					t.Errorf("error %T is not a validation error", err)
				}
			}
		})
	}
}

func TestLinkFlowCallbackLinksAccount(t *testing.T) {
	f := newLinkFixture(t)
	before := testutil.ToFloat64(metrics.LinkAttempts.WithLabelValues("linked"))

	state := f.start(t, "moviebuff")
	result, err := f.flow.Callback(context.Background(), state, "code1")
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}

	if len(f.store.requests) != 1 {
		t.Fatalf("link writes = %d, want 1", len(f.store.requests))
	}
	req := f.store.requests[0]
	if req.Identity.ID != "100000000000000001" || req.Identity.Username != "Cine Phile" || !req.Identity.IsActive {
		t.Errorf("identity = %+v", req.Identity)
	}
	if req.Account.ID != "502" || req.Account.Username != "MovieBuff" {
		t.Errorf("account = %+v", req.Account)
	}
	if req.Token.AccessToken != "access-code1" || req.Token.RefreshToken != "refresh-code1" {
		t.Errorf("token = %+v", req.Token)
	}
	if !req.Token.ExpiresAt.Equal(linkNow.Add(7 * 24 * time.Hour)) {
		t.Errorf("expires_at = %v, want first-issue fallback", req.Token.ExpiresAt)
	}
	if req.Token.Scopes != "identify,role_connections.write" {
		t.Errorf("scopes = %q", req.Token.Scopes)
	}

	if !result.Published || result.WatchedHours != 26 || result.Tier != "Silver" {
		t.Errorf("result = %+v", result)
	}
	if len(f.oauth.pushed) != 1 || f.oauth.pushed[0].Metadata.RequestTier != 2 {
		t.Errorf("pushed = %+v", f.oauth.pushed)
	}

	wantEvents := []models.LifecycleEventType{models.EventIdentityLinked, models.EventTokenCreated, models.EventMetadataPublished}
	got := f.events.types()
	if len(got) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", got, wantEvents)
	}
	for i := range wantEvents {
		if got[i] != wantEvents[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], wantEvents[i])
		}
	}
	if after := testutil.ToFloat64(metrics.LinkAttempts.WithLabelValues("linked")); after != before+1 {
		t.Errorf("linked attempts = %v, want %v", after, before+1)
	}
}

func TestLinkFlowStateSingleUse(t *testing.T) {
	f := newLinkFixture(t)
	state := f.start(t, "MovieBuff")

	if _, err := f.flow.Callback(context.Background(), state, "code1"); err != nil {
		t.Fatalf("first Callback: %v", err)
	}
	if _, err := f.flow.Callback(context.Background(), state, "code2"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("replayed state err = %v, want ErrStateNotFound", err)
	}
	if len(f.oauth.codes) != 1 {
		t.Errorf("exchanges = %d, want 1", len(f.oauth.codes))
	}
}

func TestLinkFlowExpiredState(t *testing.T) {
	f := newLinkFixture(t)
	f.flow.now = func() time.Time { return time.Now().Add(-time.Hour) }
	state := f.start(t, "MovieBuff")

	if _, err := f.flow.Callback(context.Background(), state, "code1"); !errors.Is(err, ErrStateExpired) && !errors.Is(err, ErrStateNotFound) {
		t.Errorf("err = %v, want expired or missing state", err)
	}
	if len(f.store.requests) != 0 {
		t.Error("expired state must not link")
	}
}

func TestLinkFlowCallbackFailures(t *testing.T) {
	t.Run("missing code", func(t *testing.T) {
		f := newLinkFixture(t)
		state := f.start(t, "MovieBuff")
		if _, err := f.flow.Callback(context.Background(), state, ""); !errors.Is(err, ErrMissingCode) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("exchange rejected", func(t *testing.T) {
		f := newLinkFixture(t)
		f.oauth.exchangeErr = fmt.Errorf("exchange: %w", discord.ErrInvalidGrant)
		state := f.start(t, "MovieBuff")
		if _, err := f.flow.Callback(context.Background(), state, "code1"); !errors.Is(err, discord.ErrInvalidGrant) {
			t.Errorf("err = %v", err)
		}
		if len(f.store.requests) != 0 {
			t.Error("failed exchange must not link")
		}
	})

	t.Run("unknown plex user", func(t *testing.T) {
		f := newLinkFixture(t)
		state := f.start(t, "Stranger")
		if _, err := f.flow.Callback(context.Background(), state, "code1"); !errors.Is(err, ErrUnknownPlexUser) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("deleted plex user", func(t *testing.T) {
		f := newLinkFixture(t)
		state := f.start(t, "GoneUser")
		if _, err := f.flow.Callback(context.Background(), state, "code1"); !errors.Is(err, ErrUnknownPlexUser) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		f := newLinkFixture(t)
		f.store.err = errors.New("constraint violation")
		state := f.start(t, "MovieBuff")
		if _, err := f.flow.Callback(context.Background(), state, "code1"); err == nil {
			t.Fatal("expected error")
		}
		if len(f.events.events) != 0 {
			t.Errorf("events = %v, want none", f.events.types())
		}
	})
}

func TestLinkFlowInitialPushIsBestEffort(t *testing.T) {
	t.Run("push fails", func(t *testing.T) {
		f := newLinkFixture(t)
		f.oauth.pushErr = fmt.Errorf("push: %w", discord.ErrUpstreamAuth)
		state := f.start(t, "MovieBuff")

		result, err := f.flow.Callback(context.Background(), state, "code1")
		if err != nil {
			t.Fatalf("Callback: %v", err)
		}
		if result.Published {
			t.Error("result must report the failed push")
		}
		got := f.events.types()
		if got[len(got)-1] != models.EventMetadataFailed {
			t.Errorf("events = %v", got)
		}
	})

	t.Run("stats unavailable", func(t *testing.T) {
		f := newLinkFixture(t)
		f.plex.statsErr = errors.New("tautulli down")
		state := f.start(t, "MovieBuff")

		result, err := f.flow.Callback(context.Background(), state, "code1")
		if err != nil {
			t.Fatalf("Callback: %v", err)
		}
		if result.Published || len(f.oauth.pushed) != 0 {
			t.Error("push must be skipped when stats are unavailable")
		}
	})

	t.Run("no history yet", func(t *testing.T) {
		f := newLinkFixture(t)
		delete(f.plex.seconds, "502")
		state := f.start(t, "MovieBuff")

		result, err := f.flow.Callback(context.Background(), state, "code1")
		if err != nil {
			t.Fatalf("Callback: %v", err)
		}
		if !result.Published || result.WatchedHours != 0 || !strings.EqualFold(result.Tier, quota.DefaultTier.Name) {
			t.Errorf("result = %+v", result)
		}
	})
}
