// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tomtom215/plexcord/internal/database"
	"github.com/tomtom215/plexcord/internal/discord"
	"github.com/tomtom215/plexcord/internal/events"
	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/metrics"
	"github.com/tomtom215/plexcord/internal/models"
	"github.com/tomtom215/plexcord/internal/quota"
	"github.com/tomtom215/plexcord/internal/sync"
	"github.com/tomtom215/plexcord/internal/validation"
)

// Link flow errors
var (
	// ErrMissingCode means Discord redirected back without an authorization code.
	ErrMissingCode = errors.New("authorization code missing")

	// ErrUnknownPlexUser means the Plex username is not a user of this server.
	ErrUnknownPlexUser = errors.New("plex user not found on this server")
)

// Link attempt outcomes, used as metric labels.
const (
	linkOutcomeLinked         = "linked"
	linkOutcomeStateInvalid   = "state_invalid"
	linkOutcomeExchangeFailed = "exchange_failed"
	linkOutcomeUnknownUser    = "unknown_plex_user"
	linkOutcomeError          = "error"
)

// LinkOAuthClient is the slice of the Discord client the link flow needs.
type LinkOAuthClient interface {
	AuthorizeURL(redirectURI string) (authURL, state string, err error)
	ExchangeCode(ctx context.Context, code, redirectURI string) (*discord.TokenResponse, error)
	GetCurrentUser(ctx context.Context, accessToken string) (*discord.User, error)
	PushMetadata(ctx context.Context, accessToken string, conn *models.RoleConnection) error
}

// LinkStore persists a completed link.
type LinkStore interface {
	LinkAccount(ctx context.Context, req *database.LinkRequest) error
}

// LinkFlowConfig holds link flow settings.
type LinkFlowConfig struct {
	// StateTTL bounds how long a user has to complete the Discord consent.
	StateTTL time.Duration

	// FirstIssueLifetime is used when Discord omits expires_in.
	FirstIssueLifetime time.Duration

	// Tiers classify the initial metadata push, ascending by MinHours.
	Tiers []quota.Tier
}

// LinkResult describes a completed link.
type LinkResult struct {
	Identity     models.Identity      `json:"identity"`
	Account      models.LinkedAccount `json:"account"`
	WatchedHours int                  `json:"watched_hours"`
	Tier         string               `json:"tier"`
	Published    bool                 `json:"published"`
}

type linkStartRequest struct {
	PlexUsername string `validate:"required,plex_username"`
	RedirectURI  string `validate:"omitempty,url"`
}

// LinkFlow ties a Discord identity to a Plex account: Start issues a CSRF
// state and the consent URL, Callback redeems the state and writes the link.
type LinkFlow struct {
	oauth  LinkOAuthClient
	states *StateStore
	plex   sync.TautulliAPI
	store  LinkStore
	events events.Publisher
	cfg    LinkFlowConfig
	now    func() time.Time
}

// NewLinkFlow creates a link flow.
func NewLinkFlow(oauth LinkOAuthClient, states *StateStore, plex sync.TautulliAPI, store LinkStore, publisher events.Publisher, cfg LinkFlowConfig) *LinkFlow {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	return &LinkFlow{
		oauth:  oauth,
		states: states,
		plex:   plex,
		store:  store,
		events: publisher,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Start validates the request, stores a fresh state and returns the Discord
// consent URL. redirectURI may be empty to use the configured one.
func (f *LinkFlow) Start(ctx context.Context, plexUsername, redirectURI string) (string, error) {
	if verr := validation.ValidateStruct(&linkStartRequest{PlexUsername: plexUsername, RedirectURI: redirectURI}); verr != nil {
		return "", verr
	}

	authURL, state, err := f.oauth.AuthorizeURL(redirectURI)
	if err != nil {
		return "", fmt.Errorf("build authorize url: %w", err)
	}

	now := f.now()
	if err := f.states.Store(ctx, state, &LinkState{
		PlexUsername: plexUsername,
		RedirectURI:  redirectURI,
		CreatedAt:    now,
		ExpiresAt:    now.Add(f.cfg.StateTTL),
	}); err != nil {
		return "", fmt.Errorf("store link state: %w", err)
	}

	logging.Ctx(ctx).Debug().Str("plex_username", plexUsername).Msg("Link flow started")
	return authURL, nil
}

// Callback redeems state, exchanges code and writes the identity, account
// and first token in one transaction. The initial metadata push is best
// effort; the link stands even when it fails.
func (f *LinkFlow) Callback(ctx context.Context, state, code string) (*LinkResult, error) {
	result, outcome, err := f.callback(ctx, state, code)
	metrics.RecordLinkAttempt(outcome)
	return result, err
}

func (f *LinkFlow) callback(ctx context.Context, state, code string) (*LinkResult, string, error) {
	logger := logging.Ctx(ctx)

	pending, err := f.states.Consume(ctx, state)
	if err != nil {
		logger.Warn().Err(err).Msg("Link callback with invalid state")
		return nil, linkOutcomeStateInvalid, err
	}
	if code == "" {
		return nil, linkOutcomeStateInvalid, ErrMissingCode
	}

	tok, err := f.oauth.ExchangeCode(ctx, code, pending.RedirectURI)
	if err != nil {
		logger.Warn().Err(err).Msg("Authorization code exchange failed")
		return nil, linkOutcomeExchangeFailed, err
	}

	user, err := f.oauth.GetCurrentUser(ctx, tok.AccessToken)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to fetch Discord user")
		return nil, linkOutcomeExchangeFailed, err
	}

	plexUser, err := sync.FindUserByUsername(ctx, f.plex, pending.PlexUsername)
	if err != nil {
		if errors.Is(err, sync.ErrUserNotFound) {
			logger.Warn().Str("plex_username", pending.PlexUsername).Msg("Plex user not found on server")
			return nil, linkOutcomeUnknownUser, fmt.Errorf("%s: %w", pending.PlexUsername, ErrUnknownPlexUser)
		}
		return nil, linkOutcomeError, fmt.Errorf("resolve plex user: %w", err)
	}

	now := f.now()
	username := user.GlobalName
	if username == "" {
		username = user.Username
	}
	req := &database.LinkRequest{
		Identity: models.Identity{ID: user.ID, Username: username, IsActive: true},
		Account: models.LinkedAccount{
			ID:           strconv.Itoa(plexUser.UserID),
			Username:     plexUser.Username,
			IsSubscriber: true,
		},
		Token: models.TokenRecord{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Scopes:       models.JoinScopes(tok.Scopes),
			ExpiresAt:    tok.ExpiresAt(now, f.cfg.FirstIssueLifetime),
		},
	}
	if err := f.store.LinkAccount(ctx, req); err != nil {
		logger.Error().Err(err).Str("discord_user_id", user.ID).Msg("Failed to persist link")
		return nil, linkOutcomeError, fmt.Errorf("persist link: %w", err)
	}

	hint := logging.SanitizeToken(tok.AccessToken)
	f.publish(ctx, &models.LifecycleEvent{
		Type:          models.EventIdentityLinked,
		DiscordUserID: user.ID,
		Detail:        "plex_user_id=" + req.Account.ID,
	})
	f.publish(ctx, &models.LifecycleEvent{
		Type:          models.EventTokenCreated,
		DiscordUserID: user.ID,
		TokenHint:     hint,
	})

	result := &LinkResult{Identity: req.Identity, Account: req.Account}
	f.pushInitialMetadata(ctx, tok.AccessToken, result)

	logger.Info().
		Str("discord_user_id", user.ID).
		Str("plex_user_id", req.Account.ID).
		Bool("metadata_published", result.Published).
		Msg("Account linked")
	return result, linkOutcomeLinked, nil
}

func (f *LinkFlow) pushInitialMetadata(ctx context.Context, accessToken string, result *LinkResult) {
	logger := logging.Ctx(ctx).With().Str("discord_user_id", result.Identity.ID).Logger()

	seconds, err := sync.WatchedTime(ctx, f.plex, result.Account.ID)
	if err != nil && !errors.Is(err, sync.ErrNoStatsAvailable) {
		logger.Warn().Err(err).Msg("Watch stats unavailable, initial metadata deferred to next sync")
		return
	}

	hours := models.WatchedHours(seconds)
	tier := quota.Classify(hours, f.cfg.Tiers)
	result.WatchedHours = hours
	result.Tier = tier.Name

	err = f.oauth.PushMetadata(ctx, accessToken, &models.RoleConnection{
		PlatformUsername: result.Account.Username,
		Metadata:         models.NewRoleConnectionMetadata(hours, true, tier.Rank),
	})
	metrics.RecordMetadataPublish(err)
	event := &models.LifecycleEvent{
		Type:          models.EventMetadataPublished,
		DiscordUserID: result.Identity.ID,
		TokenHint:     logging.SanitizeToken(accessToken),
		Detail:        fmt.Sprintf("watched_hours=%d tier=%s", hours, tier.Name),
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Initial metadata push failed")
		event.Type = models.EventMetadataFailed
		event.Detail = err.Error()
	} else {
		result.Published = true
	}
	f.publish(ctx, event)
}

func (f *LinkFlow) publish(ctx context.Context, event *models.LifecycleEvent) {
	if err := f.events.Publish(ctx, event); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to publish lifecycle event")
	}
}
