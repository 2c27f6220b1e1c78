// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/plexcord/internal/database"
	"github.com/tomtom215/plexcord/internal/discord"
	"github.com/tomtom215/plexcord/internal/events"
	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/metrics"
	"github.com/tomtom215/plexcord/internal/models"
	"github.com/tomtom215/plexcord/internal/quota"
)

// IdentityStore lists and deactivates identities.
type IdentityStore interface {
	ListActiveLinkedIdentities(ctx context.Context) ([]models.LinkedIdentity, error)
	DeactivateIdentity(ctx context.Context, id string) error
}

// TokenSource hands out current tokens and refreshes stale ones.
type TokenSource interface {
	LatestToken(ctx context.Context, discordUserID string) (*models.TokenRecord, error)
	Refresh(ctx context.Context, rec *models.TokenRecord) (*models.TokenRecord, error)
}

// MetadataPublisher pushes the role-connection document for one user.
type MetadataPublisher interface {
	PushMetadata(ctx context.Context, accessToken string, conn *models.RoleConnection) error
}

// Outcome is the result of syncing one identity.
type Outcome string

const (
	OutcomePublished     Outcome = "published"
	OutcomeNoAccount     Outcome = "no_account"
	OutcomeNoToken       Outcome = "no_token"
	OutcomeRefreshFailed Outcome = "refresh_deferred"
	OutcomeDeactivated   Outcome = "deactivated"
	OutcomeNoStats       Outcome = "no_stats"
	OutcomeStatsFailed   Outcome = "stats_failed"
	OutcomePublishFailed Outcome = "publish_failed"
	OutcomeError         Outcome = "error"
)

// SyncReport counts identity outcomes of one pass.
type SyncReport struct {
	Identities int               `json:"identities"`
	Outcomes   map[Outcome]int   `json:"outcomes"`
	Duration   time.Duration     `json:"duration"`
	Failures   map[string]string `json:"failures,omitempty"`
}

// Count returns how many identities ended with o.
func (r *SyncReport) Count(o Outcome) int {
	return r.Outcomes[o]
}

func (r *SyncReport) record(id string, o Outcome, err error) {
	r.Outcomes[o]++
	if err != nil {
		if r.Failures == nil {
			r.Failures = make(map[string]string)
		}
		r.Failures[id] = err.Error()
	}
}

// SubscriberSync publishes watch-derived metadata for every active linked
// identity.
type SubscriberSync struct {
	identities IdentityStore
	tokens     TokenSource
	stats      TautulliAPI
	publisher  MetadataPublisher
	tiers      []quota.Tier
	staleness  time.Duration
	events     events.Publisher
	now        func() time.Time
}

// NewSubscriberSync creates the sync job. tiers must be ascending.
func NewSubscriberSync(identities IdentityStore, tokens TokenSource, stats TautulliAPI, publisher MetadataPublisher, tiers []quota.Tier, staleness time.Duration, eventPublisher events.Publisher) *SubscriberSync {
	if eventPublisher == nil {
		eventPublisher = events.Nop{}
	}
	return &SubscriberSync{
		identities: identities,
		tokens:     tokens,
		stats:      stats,
		publisher:  publisher,
		tiers:      tiers,
		staleness:  staleness,
		events:     eventPublisher,
		now:        time.Now,
	}
}

// Run processes each active identity once, sequentially. One identity's
// failure never stops the others; only failing to list identities aborts.
func (s *SubscriberSync) Run(ctx context.Context) (SyncReport, error) {
	start := time.Now()
	report := SyncReport{Outcomes: make(map[Outcome]int)}

	identities, err := s.identities.ListActiveLinkedIdentities(ctx)
	if err != nil {
		err = fmt.Errorf("list linked identities: %w", err)
		metrics.RecordSyncPass(time.Since(start), err)
		return report, err
	}

	logger := logging.Ctx(ctx)
	for i := range identities {
		if ctx.Err() != nil {
			logger.Info().Int("remaining", len(identities)-i).Msg("Subscriber sync interrupted")
			break
		}
		report.Identities++
		id := identities[i].Identity.ID
		outcome, itemErr := s.SyncIdentity(context.WithoutCancel(ctx), &identities[i])
		report.record(id, outcome, itemErr)
		metrics.RecordSyncIdentity(string(outcome))
	}

	report.Duration = time.Since(start)
	metrics.RecordSyncPass(report.Duration, ctx.Err())

	logger.Info().
		Int("identities", report.Identities).
		Int("published", report.Count(OutcomePublished)).
		Int("deactivated", report.Count(OutcomeDeactivated)).
		Int("failed", len(report.Failures)).
		Dur("duration", report.Duration).
		Msg("Subscriber sync complete")

	return report, ctx.Err()
}

// SyncIdentity runs the per-identity steps and reports the outcome. The
// returned error is informational; it has already been logged.
func (s *SubscriberSync) SyncIdentity(ctx context.Context, li *models.LinkedIdentity) (Outcome, error) {
	id := li.Identity.ID
	logger := logging.Ctx(ctx).With().Str("discord_user_id", id).Logger()

	account, ok := li.PrimaryAccount()
	if !ok {
		logger.Warn().Msg("Identity has no linked account")
		return OutcomeNoAccount, nil
	}
	logger = logger.With().Str("plex_user_id", account.ID).Logger()

	tok, err := s.tokens.LatestToken(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNoTokenFound) {
			logger.Warn().Msg("No active token for identity")
			return OutcomeNoToken, err
		}
		logger.Error().Err(err).Msg("Failed to load latest token")
		return OutcomeError, err
	}

	if tok.ExpiresAt.Before(s.now().Add(-s.staleness)) {
		refreshed, err := s.tokens.Refresh(ctx, tok)
		switch {
		case errors.Is(err, discord.ErrInvalidGrant):
			return s.deactivate(ctx, id, err)
		case err != nil:
			logger.Warn().Err(err).Msg("Inline token refresh failed, skipping identity")
			return OutcomeRefreshFailed, err
		}
		tok = refreshed
	}

	seconds, err := WatchedTime(ctx, s.stats, account.ID)
	if err != nil {
		if errors.Is(err, ErrNoStatsAvailable) {
			logger.Warn().Msg("No watch stats for Plex account")
			return OutcomeNoStats, err
		}
		logger.Warn().Err(err).Msg("Failed to fetch watch stats")
		return OutcomeStatsFailed, err
	}

	hours := models.WatchedHours(seconds)
	tier := quota.Classify(hours, s.tiers)
	conn := &models.RoleConnection{
		PlatformUsername: account.Username,
		Metadata:         models.NewRoleConnectionMetadata(hours, true, tier.Rank),
	}

	err = s.publisher.PushMetadata(ctx, tok.AccessToken, conn)
	metrics.RecordMetadataPublish(err)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to publish role-connection metadata")
		s.publish(ctx, &models.LifecycleEvent{
			Type:          models.EventMetadataFailed,
			DiscordUserID: id,
			TokenHint:     logging.SanitizeToken(tok.AccessToken),
			Detail:        err.Error(),
		})
		return OutcomePublishFailed, err
	}

	logger.Debug().Int("watched_hours", hours).Str("tier", tier.Name).Msg("Role-connection metadata published")
	s.publish(ctx, &models.LifecycleEvent{
		Type:          models.EventMetadataPublished,
		DiscordUserID: id,
		TokenHint:     logging.SanitizeToken(tok.AccessToken),
		Detail:        fmt.Sprintf("watched_hours=%d tier=%s", hours, tier.Name),
	})
	return OutcomePublished, nil
}

func (s *SubscriberSync) deactivate(ctx context.Context, id string, cause error) (Outcome, error) {
	logger := logging.Ctx(ctx).With().Str("discord_user_id", id).Logger()
	if err := s.identities.DeactivateIdentity(ctx, id); err != nil {
		logger.Error().Err(err).Msg("Failed to deactivate identity")
		return OutcomeError, errors.Join(cause, err)
	}
	logger.Warn().Err(cause).Msg("Identity deactivated: refresh token no longer valid")
	s.publish(ctx, &models.LifecycleEvent{
		Type:          models.EventIdentityDeactivated,
		DiscordUserID: id,
		Detail:        "invalid_grant",
	})
	return OutcomeDeactivated, cause
}

func (s *SubscriberSync) publish(ctx context.Context, event *models.LifecycleEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to publish lifecycle event")
	}
}
