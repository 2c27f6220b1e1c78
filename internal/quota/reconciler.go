// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/plexcord/internal/events"
	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/metrics"
	"github.com/tomtom215/plexcord/internal/models"
)

// IdentityLister lists the identities whose accounts are reconciled.
type IdentityLister interface {
	ListActiveLinkedIdentities(ctx context.Context) ([]models.LinkedIdentity, error)
}

// WatchHoursSource returns all-time watched hours for a Plex user.
type WatchHoursSource interface {
	WatchedHours(ctx context.Context, plexUserID string) (int, error)
}

// QuotaTarget is the request-management service.
type QuotaTarget interface {
	ListUsers(ctx context.Context) ([]OverseerrUser, error)
	UpdateQuota(ctx context.Context, userID int, q Quota) error
}

// Report summarizes one reconciliation pass.
type Report struct {
	Accounts  int           `json:"accounts"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Default   int           `json:"default"`
	Unmatched int           `json:"unmatched"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Reconciler pushes each linked account's tier quota to Overseerr.
type Reconciler struct {
	identities IdentityLister
	stats      WatchHoursSource
	target     QuotaTarget
	tiers      []Tier
	events     events.Publisher
}

// NewReconciler creates a reconciler. tiers must be ascending.
func NewReconciler(identities IdentityLister, stats WatchHoursSource, target QuotaTarget, tiers []Tier, publisher events.Publisher) *Reconciler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Reconciler{
		identities: identities,
		stats:      stats,
		target:     target,
		tiers:      tiers,
		events:     publisher,
	}
}

// Run reconciles every active linked account once. Per-account failures are
// logged; only failing to list identities or Overseerr users aborts.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report

	identities, err := r.identities.ListActiveLinkedIdentities(ctx)
	if err != nil {
		return report, fmt.Errorf("list linked identities: %w", err)
	}
	users, err := r.target.ListUsers(ctx)
	if err != nil {
		return report, err
	}

	logger := logging.Ctx(ctx)
	for _, identity := range identities {
		if ctx.Err() != nil {
			break
		}
		for _, account := range identity.Accounts {
			report.Accounts++
			r.reconcile(context.WithoutCancel(ctx), identity.Identity.ID, account, users, &report)
		}
	}

	report.Duration = time.Since(start)
	logger.Info().
		Int("accounts", report.Accounts).
		Int("updated", report.Updated).
		Int("unchanged", report.Unchanged).
		Int("unmatched", report.Unmatched).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Quota reconciliation complete")

	return report, ctx.Err()
}

func (r *Reconciler) reconcile(ctx context.Context, discordUserID string, account models.LinkedAccount, users []OverseerrUser, report *Report) {
	logger := logging.Ctx(ctx).With().
		Str("discord_user_id", discordUserID).
		Str("plex_username", account.Username).
		Logger()

	hours, err := r.stats.WatchedHours(ctx, account.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("Skipping quota: watch stats unavailable")
		report.Failed++
		return
	}

	tier := Classify(hours, r.tiers)
	if tier.IsDefault() {
		report.Default++
		return
	}

	user := findUser(users, account.Username)
	if user == nil {
		logger.Debug().Msg("No Overseerr user for Plex account")
		report.Unmatched++
		return
	}

	q := QuotaFor(tier)
	if user.HasQuota(q) {
		report.Unchanged++
		return
	}

	err = r.target.UpdateQuota(ctx, user.ID, q)
	metrics.RecordQuotaUpdate(tier.Name, err)
	if err != nil {
		logger.Error().Err(err).Str("tier", tier.Name).Msg("Failed to update Overseerr quota")
		report.Failed++
		return
	}
	report.Updated++

	logger.Info().Str("tier", tier.Name).Int("watched_hours", hours).Int("overseerr_user_id", user.ID).Msg("Overseerr quota updated")
	if err := r.events.Publish(ctx, &models.LifecycleEvent{
		Type:          models.EventQuotaUpdated,
		DiscordUserID: discordUserID,
		Detail:        fmt.Sprintf("tier=%s overseerr_user_id=%d", tier.Name, user.ID),
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish lifecycle event")
	}
}

func findUser(users []OverseerrUser, plexUsername string) *OverseerrUser {
	for i := range users {
		if users[i].Matches(plexUsername) {
			return &users[i]
		}
	}
	return nil
}
