// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package lifecycle owns the token state machine: proactive refresh,
// expiry, revocation on invalid grant, and retention purge.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/database"
	"github.com/tomtom215/plexcord/internal/discord"
	"github.com/tomtom215/plexcord/internal/events"
	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/metrics"
	"github.com/tomtom215/plexcord/internal/models"
)

// TokenStore is the subset of the database the manager needs.
type TokenStore interface {
	ListActiveTokens(ctx context.Context) ([]models.TokenRecord, error)
	LatestToken(ctx context.Context, discordUserID string) (*models.TokenRecord, error)
	CreateToken(ctx context.Context, rec *models.TokenRecord) (string, error)
	SetTokenStatus(ctx context.Context, accessToken string, status models.TokenStatus) error
	PurgeTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdentityStore deactivates identities left without a usable token.
type IdentityStore interface {
	DeactivateIdentity(ctx context.Context, id string) error
}

// OAuthClient refreshes and revokes tokens upstream.
type OAuthClient interface {
	Refresh(ctx context.Context, refreshToken string) (*discord.TokenResponse, error)
	Revoke(ctx context.Context, token string) error
}

// Outcome is what a maintenance pass did with one token.
type Outcome string

const (
	OutcomeUntouched Outcome = "untouched"
	OutcomeRenewed   Outcome = "renewed"
	OutcomeExpired   Outcome = "expired"
	OutcomeRevoked   Outcome = "revoked"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeFailed    Outcome = "failed"
)

// Report summarizes one maintenance pass.
type Report struct {
	Scanned     int           `json:"scanned"`
	Untouched   int           `json:"untouched"`
	Renewed     int           `json:"renewed"`
	Expired     int           `json:"expired"`
	Revoked     int           `json:"revoked"`
	Deferred    int           `json:"deferred"`
	Failed      int           `json:"failed"`
	Deactivated int           `json:"deactivated"`
	Purged      int64         `json:"purged"`
	Duration    time.Duration `json:"duration"`
}

func (r *Report) add(o Outcome) {
	switch o {
	case OutcomeUntouched:
		r.Untouched++
	case OutcomeRenewed:
		r.Renewed++
	case OutcomeExpired:
		r.Expired++
	case OutcomeRevoked:
		r.Revoked++
	case OutcomeDeferred:
		r.Deferred++
	default:
		r.Failed++
	}
}

// Manager applies the token state machine.
type Manager struct {
	store      TokenStore
	identities IdentityStore
	oauth      OAuthClient
	events     events.Publisher
	policy     config.TokensConfig
	now        func() time.Time
}

// NewManager creates a manager. A nil publisher discards events. A nil
// identity store leaves identities active when their tokens go terminal.
func NewManager(store TokenStore, identities IdentityStore, oauth OAuthClient, policy *config.TokensConfig, publisher events.Publisher) *Manager {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Manager{
		store:      store,
		identities: identities,
		oauth:      oauth,
		events:     publisher,
		policy:     *policy,
		now:        time.Now,
	}
}

// LatestToken returns the identity's current Active token. Consumers must
// call this instead of reusing a record read earlier.
func (m *Manager) LatestToken(ctx context.Context, discordUserID string) (*models.TokenRecord, error) {
	return m.store.LatestToken(ctx, discordUserID)
}

// RunMaintenance scans every Active token once. Per-token failures are
// logged and counted; only failing to list tokens aborts the pass. The
// context is checked between tokens and an in-flight token always finishes.
func (m *Manager) RunMaintenance(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report

	tokens, err := m.store.ListActiveTokens(ctx)
	if err != nil {
		return report, fmt.Errorf("list active tokens: %w", err)
	}

	now := m.now()
	logger := logging.Ctx(ctx)

	for i := range tokens {
		if ctx.Err() != nil {
			logger.Info().Int("remaining", len(tokens)-i).Msg("Token maintenance interrupted")
			break
		}
		report.Scanned++
		itemCtx := context.WithoutCancel(ctx)
		outcome := m.maintain(itemCtx, &tokens[i], now)
		report.add(outcome)
		if outcome == OutcomeExpired || outcome == OutcomeRevoked {
			if m.retireIdentity(itemCtx, tokens[i].DiscordUserID, outcome) {
				report.Deactivated++
			}
		}
	}

	purged, err := m.PurgeExpired(context.WithoutCancel(ctx))
	if err != nil {
		logger.Error().Err(err).Msg("Retention purge failed")
	}
	report.Purged = purged
	report.Duration = time.Since(start)
	metrics.RecordMaintenance(report.Duration, purged)

	logger.Info().
		Int("scanned", report.Scanned).
		Int("renewed", report.Renewed).
		Int("expired", report.Expired).
		Int("revoked", report.Revoked).
		Int("deferred", report.Deferred).
		Int("failed", report.Failed).
		Int("deactivated", report.Deactivated).
		Int64("purged", report.Purged).
		Dur("duration", report.Duration).
		Msg("Token maintenance complete")

	return report, ctx.Err()
}

func (m *Manager) maintain(ctx context.Context, rec *models.TokenRecord, now time.Time) Outcome {
	logger := logging.Ctx(ctx).With().
		Str("discord_user_id", rec.DiscordUserID).
		Str("token", logging.SanitizeToken(rec.AccessToken)).
		Logger()

	switch {
	case rec.IsExpired(now):
		if err := m.apply(ctx, rec, models.EventExpired); err != nil {
			logger.Error().Err(err).Msg("Failed to expire token")
			return OutcomeFailed
		}
		logger.Info().Time("expires_at", rec.ExpiresAt).Msg("Token expired")
		return OutcomeExpired

	case rec.ExpiresWithin(now, m.policy.RefreshWindow):
		_, err := m.Refresh(ctx, rec)
		switch {
		case err == nil:
			return OutcomeRenewed
		case errors.Is(err, discord.ErrInvalidGrant):
			return OutcomeRevoked
		case discord.IsTransient(err):
			logger.Warn().Err(err).Msg("Token refresh deferred")
			return OutcomeDeferred
		default:
			logger.Error().Err(err).Msg("Token refresh failed")
			return OutcomeFailed
		}

	default:
		return OutcomeUntouched
	}
}

// retireIdentity deactivates the identity once it has no Active token left,
// so later sync passes skip it until the user links again. It reports
// whether the identity was deactivated.
func (m *Manager) retireIdentity(ctx context.Context, discordUserID string, cause Outcome) bool {
	if m.identities == nil {
		return false
	}
	logger := logging.Ctx(ctx).With().Str("discord_user_id", discordUserID).Logger()

	_, err := m.store.LatestToken(ctx, discordUserID)
	switch {
	case err == nil:
		return false
	case !errors.Is(err, database.ErrNoTokenFound):
		logger.Error().Err(err).Msg("Failed to check remaining tokens")
		return false
	}

	if err := m.identities.DeactivateIdentity(ctx, discordUserID); err != nil {
		if !errors.Is(err, database.ErrIdentityNotFound) {
			logger.Error().Err(err).Msg("Failed to deactivate identity")
		}
		return false
	}

	reason := "token_expired"
	if cause == OutcomeRevoked {
		reason = "invalid_grant"
	}
	logger.Warn().Str("reason", reason).Msg("Identity deactivated: no active token left")
	m.publish(ctx, &models.LifecycleEvent{
		Type:          models.EventIdentityDeactivated,
		DiscordUserID: discordUserID,
		Detail:        reason,
	})
	return true
}

// Refresh renews rec and returns the successor record. On invalid grant the
// token is revoked upstream (best effort) and marked Revoked, and the
// returned error wraps discord.ErrInvalidGrant. Transient failures leave rec
// unchanged.
func (m *Manager) Refresh(ctx context.Context, rec *models.TokenRecord) (*models.TokenRecord, error) {
	if rec.Status != models.TokenActive {
		return nil, fmt.Errorf("refresh %s token: %w", rec.Status, models.ErrInvalidTransition)
	}

	resp, err := m.oauth.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		if errors.Is(err, discord.ErrInvalidGrant) {
			metrics.RecordTokenRefresh("invalid_grant")
			if revokeErr := m.revoke(ctx, rec); revokeErr != nil {
				return nil, errors.Join(err, revokeErr)
			}
			return nil, err
		}
		metrics.RecordTokenRefresh("transient")
		return nil, err
	}

	now := m.now()
	next := &models.TokenRecord{
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		Scopes:        rec.Scopes,
		ExpiresAt:     resp.ExpiresAt(now, m.policy.RefreshLifetime),
		DiscordUserID: rec.DiscordUserID,
		Status:        models.TokenActive,
	}
	if len(resp.Scopes) > 0 {
		next.Scopes = models.JoinScopes(resp.Scopes)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = rec.RefreshToken
	}

	if next.AccessToken == rec.AccessToken {
		// Same token value would collide with the existing row.
		metrics.RecordTokenRefresh("error")
		return nil, fmt.Errorf("refresh returned the current access token for %s", rec.DiscordUserID)
	}

	if _, err := m.store.CreateToken(ctx, next); err != nil {
		metrics.RecordTokenRefresh("error")
		return nil, fmt.Errorf("store refreshed token: %w", err)
	}
	if err := m.apply(ctx, rec, models.EventRenewed); err != nil {
		metrics.RecordTokenRefresh("error")
		return nil, err
	}
	metrics.RecordTokenRefresh("success")

	m.publish(ctx, &models.LifecycleEvent{
		Type:          models.EventTokenCreated,
		DiscordUserID: next.DiscordUserID,
		TokenHint:     logging.SanitizeToken(next.AccessToken),
		Detail:        "expires_at=" + next.ExpiresAt.UTC().Format(time.RFC3339),
	})

	logging.Ctx(ctx).Info().
		Str("discord_user_id", rec.DiscordUserID).
		Str("token", logging.SanitizeToken(next.AccessToken)).
		Time("expires_at", next.ExpiresAt).
		Msg("Token renewed")

	return next, nil
}

// revoke invalidates the grant upstream, then marks rec Revoked. An upstream
// revoke failure is logged only.
func (m *Manager) revoke(ctx context.Context, rec *models.TokenRecord) error {
	if err := m.oauth.Revoke(ctx, rec.RefreshToken); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("discord_user_id", rec.DiscordUserID).
			Msg("Upstream token revocation failed")
	}
	if err := m.apply(ctx, rec, models.EventGrantInvalid); err != nil {
		return err
	}
	logging.Ctx(ctx).Warn().
		Str("discord_user_id", rec.DiscordUserID).
		Str("token", logging.SanitizeToken(rec.AccessToken)).
		Msg("Token revoked after invalid grant")
	return nil
}

// apply runs one state machine step for rec and persists it.
func (m *Manager) apply(ctx context.Context, rec *models.TokenRecord, event models.TokenEvent) error {
	next, err := rec.Status.Transition(event)
	if err != nil {
		return err
	}
	if err := m.store.SetTokenStatus(ctx, rec.AccessToken, next); err != nil {
		return fmt.Errorf("set token status %s: %w", next, err)
	}
	rec.Status = next
	metrics.RecordTokenTransition(next.String())

	m.publish(ctx, &models.LifecycleEvent{
		Type:          transitionEvent(next),
		DiscordUserID: rec.DiscordUserID,
		TokenHint:     logging.SanitizeToken(rec.AccessToken),
	})
	return nil
}

// PurgeExpired deletes terminal rows whose expiry is older than the
// retention horizon.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	if m.policy.Retention <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.policy.Retention)
	purged, err := m.store.PurgeTokens(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tokens before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if purged > 0 {
		logging.Ctx(ctx).Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("Purged terminal tokens")
	}
	return purged, nil
}

func (m *Manager) publish(ctx context.Context, event *models.LifecycleEvent) {
	if err := m.events.Publish(ctx, event); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to publish lifecycle event")
	}
}

func transitionEvent(status models.TokenStatus) models.LifecycleEventType {
	switch status {
	case models.TokenRenewed:
		return models.EventTokenRenewed
	case models.TokenRevoked:
		return models.EventTokenRevoked
	default:
		return models.EventTokenExpired
	}
}
