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
	"testing"
	"time"

	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/database"
	"github.com/tomtom215/plexcord/internal/discord"
	"github.com/tomtom215/plexcord/internal/models"
	"github.com/tomtom215/plexcord/internal/models/tautulli"
	"github.com/tomtom215/plexcord/internal/quota"
)

type fakeIdentities struct {
	mu          sync.Mutex
	identities  []models.LinkedIdentity
	deactivated []string
	listErr     error
}

func (f *fakeIdentities) ListActiveLinkedIdentities(context.Context) ([]models.LinkedIdentity, error) {
	return f.identities, f.listErr
}

func (f *fakeIdentities) DeactivateIdentity(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeTokens struct {
	tokens     map[string]*models.TokenRecord
	refreshErr map[string]error
	refreshed  []string
}

func (f *fakeTokens) LatestToken(_ context.Context, id string) (*models.TokenRecord, error) {
	tok, ok := f.tokens[id]
	if !ok {
		return nil, database.ErrNoTokenFound
	}
	return tok, nil
}

func (f *fakeTokens) Refresh(_ context.Context, rec *models.TokenRecord) (*models.TokenRecord, error) {
	f.refreshed = append(f.refreshed, rec.DiscordUserID)
	if err := f.refreshErr[rec.DiscordUserID]; err != nil {
		return nil, err
	}
	next := *rec
	next.AccessToken = rec.AccessToken + "-renewed"
	return &next, nil
}

type fakeStats struct {
	seconds map[string]int64
	fail    map[string]error
}

func (f *fakeStats) Ping(context.Context) error { return nil }

func (f *fakeStats) GetUsers(context.Context) (*tautulli.TautulliUsers, error) {
	return &tautulli.TautulliUsers{}, nil
}

func (f *fakeStats) GetUserWatchTimeStats(_ context.Context, userID string, queryDays int) (*tautulli.TautulliUserWatchTimeStats, error) {
	if err := f.fail[userID]; err != nil {
		return nil, err
	}
	out := &tautulli.TautulliUserWatchTimeStats{}
	out.Response.Result = "success"
	if secs, ok := f.seconds[userID]; ok {
		out.Response.Data = []tautulli.TautulliUserWatchTimeStatRow{{QueryDays: queryDays, TotalTime: secs}}
	}
	return out, nil
}

type pushCall struct {
	token string
	conn  models.RoleConnection
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []pushCall
	fail  map[string]error
}

func (f *fakePublisher) PushMetadata(_ context.Context, accessToken string, conn *models.RoleConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pushCall{token: accessToken, conn: *conn})
	return f.fail[accessToken]
}

func (f *fakePublisher) byToken(token string) (models.RoleConnection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.token == token {
			return c.conn, true
		}
	}
	return models.RoleConnection{}, false
}

var syncNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func identity(id string) models.LinkedIdentity {
	return models.LinkedIdentity{
		Identity: models.Identity{ID: id, Username: "discord-" + id, IsActive: true},
		Accounts: []models.LinkedAccount{{ID: "plex-" + id, Username: "plexuser-" + id, IsSubscriber: true, DiscordUserID: id}},
	}
}

func activeToken(id string, expiresAt time.Time) *models.TokenRecord {
	return &models.TokenRecord{AccessToken: "tok-" + id, RefreshToken: "ref-" + id, ExpiresAt: expiresAt, DiscordUserID: id}
}

type syncFixture struct {
	identities *fakeIdentities
	tokens     *fakeTokens
	stats      *fakeStats
	publisher  *fakePublisher
	job        *SubscriberSync
}

func newSyncFixture(ids ...string) *syncFixture {
	f := &syncFixture{
		identities: &fakeIdentities{},
		tokens:     &fakeTokens{tokens: map[string]*models.TokenRecord{}, refreshErr: map[string]error{}},
		stats:      &fakeStats{seconds: map[string]int64{}, fail: map[string]error{}},
		publisher:  &fakePublisher{fail: map[string]error{}},
	}
	for _, id := range ids {
		f.identities.identities = append(f.identities.identities, identity(id))
		f.tokens.tokens[id] = activeToken(id, syncNow.Add(48*time.Hour))
		f.stats.seconds["plex-"+id] = 30 * 3600
	}
	tiers := quota.TiersFromConfig(config.DefaultTiers())
	f.job = NewSubscriberSync(f.identities, f.tokens, f.stats, f.publisher, tiers, 24*time.Hour, nil)
	f.job.now = func() time.Time { return syncNow }
	return f
}

func TestSubscriberSyncPublishesMetadata(t *testing.T) {
	f := newSyncFixture("a")

	report, err := f.job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Count(OutcomePublished) != 1 {
		t.Errorf("report = %+v", report)
	}

	conn, ok := f.publisher.byToken("tok-a")
	if !ok {
		t.Fatal("no publish for identity a")
	}
	if conn.PlatformUsername != "plexuser-a" {
		t.Errorf("platform username = %q", conn.PlatformUsername)
	}
	want := models.RoleConnectionMetadata{WatchedHours: 30, IsSubscriber: 1, RequestTier: 2}
	if conn.Metadata != want {
		t.Errorf("metadata = %+v, want %+v", conn.Metadata, want)
	}
}

func TestSubscriberSyncWatchedHoursTruncation(t *testing.T) {
	tests := []struct {
		seconds int64
		want    int
	}{
		{3599, 0},
		{3600, 1},
		{7199, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.seconds), func(t *testing.T) {
			f := newSyncFixture("a")
			f.stats.seconds["plex-a"] = tt.seconds

			if _, err := f.job.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			conn, _ := f.publisher.byToken("tok-a")
			if conn.Metadata.WatchedHours != tt.want {
				t.Errorf("watched hours = %d, want %d", conn.Metadata.WatchedHours, tt.want)
			}
		})
	}
}

func TestSubscriberSyncBatchIsolation(t *testing.T) {
	f := newSyncFixture("a", "b")
	f.stats.fail["plex-a"] = errors.New("tautulli timeout")

	report, err := f.job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Count(OutcomeStatsFailed) != 1 || report.Count(OutcomePublished) != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, ok := f.publisher.byToken("tok-b"); !ok {
		t.Error("identity b must still be published")
	}
	if _, ok := f.publisher.byToken("tok-a"); ok {
		t.Error("identity a must not be published")
	}
	if len(f.identities.deactivated) != 0 {
		t.Errorf("deactivated = %v, want none", f.identities.deactivated)
	}
}

func TestSubscriberSyncNoTokenAndNoStats(t *testing.T) {
	f := newSyncFixture("a", "b", "c")
	delete(f.tokens.tokens, "a")
	delete(f.stats.seconds, "plex-b")

	report, err := f.job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Count(OutcomeNoToken) != 1 || report.Count(OutcomeNoStats) != 1 || report.Count(OutcomePublished) != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(f.identities.deactivated) != 0 {
		t.Error("data absence must not deactivate")
	}
}

func TestSubscriberSyncStaleTokenRefreshedInline(t *testing.T) {
	f := newSyncFixture("a", "b")
	f.tokens.tokens["a"] = activeToken("a", syncNow.Add(-25*time.Hour))
	f.tokens.tokens["b"] = activeToken("b", syncNow.Add(-23*time.Hour))

	if _, err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.tokens.refreshed) != 1 || f.tokens.refreshed[0] != "a" {
		t.Errorf("refreshed = %v, want [a]", f.tokens.refreshed)
	}
	if _, ok := f.publisher.byToken("tok-a-renewed"); !ok {
		t.Error("identity a must publish with the refreshed token")
	}
	if _, ok := f.publisher.byToken("tok-b"); !ok {
		t.Error("identity b within threshold must publish with its current token")
	}
}

func TestSubscriberSyncInvalidGrantDeactivates(t *testing.T) {
	f := newSyncFixture("a", "b")
	f.tokens.tokens["a"] = activeToken("a", syncNow.Add(-48*time.Hour))
	f.tokens.refreshErr["a"] = fmt.Errorf("refresh: %w", discord.ErrInvalidGrant)

	report, err := f.job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Count(OutcomeDeactivated) != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(f.identities.deactivated) != 1 || f.identities.deactivated[0] != "a" {
		t.Errorf("deactivated = %v", f.identities.deactivated)
	}
	if _, ok := f.publisher.byToken("tok-b"); !ok {
		t.Error("identity b must still be published")
	}
}

func TestSubscriberSyncTransientRefreshSkips(t *testing.T) {
	f := newSyncFixture("a")
	f.tokens.tokens["a"] = activeToken("a", syncNow.Add(-48*time.Hour))
	f.tokens.refreshErr["a"] = fmt.Errorf("refresh: %w", discord.ErrNetwork)

	report, _ := f.job.Run(context.Background())
	if report.Count(OutcomeRefreshFailed) != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(f.identities.deactivated) != 0 || len(f.publisher.calls) != 0 {
		t.Error("transient refresh failure must not mutate or publish")
	}
}

func TestSubscriberSyncPublishFailureDoesNotDeactivate(t *testing.T) {
	f := newSyncFixture("a")
	f.publisher.fail["tok-a"] = fmt.Errorf("push: %w", discord.ErrUpstreamAuth)

	report, err := f.job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Count(OutcomePublishFailed) != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(f.identities.deactivated) != 0 {
		t.Error("publish failure must not deactivate")
	}
}

func TestSubscriberSyncListFailureAborts(t *testing.T) {
	f := newSyncFixture()
	f.identities.listErr = errors.New("database closed")
	if _, err := f.job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubscriberSyncStopsBetweenIdentities(t *testing.T) {
	f := newSyncFixture("a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.job.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if report.Identities != 0 {
		t.Errorf("identities processed = %d, want 0", report.Identities)
	}
}
