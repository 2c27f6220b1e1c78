// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/plexcord/internal/api"
	"github.com/tomtom215/plexcord/internal/auth"
	"github.com/tomtom215/plexcord/internal/authz"
	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/database"
	"github.com/tomtom215/plexcord/internal/discord"
	"github.com/tomtom215/plexcord/internal/events"
	"github.com/tomtom215/plexcord/internal/lifecycle"
	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/models"
	"github.com/tomtom215/plexcord/internal/quota"
	"github.com/tomtom215/plexcord/internal/supervisor"
	"github.com/tomtom215/plexcord/internal/supervisor/services"
	"github.com/tomtom215/plexcord/internal/sync"
)

// app holds every long-lived component. Close releases them in reverse
// dependency order.
type app struct {
	cfg     *config.Config
	db      *database.DB
	bus     *events.Bus
	audit   *events.AuditConsumer
	states  *auth.StateStore
	syncMgr *sync.Manager
	server  *http.Server
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)
	if err := initTokenCipher(a.db, &cfg.Security); err != nil {
		return nil, err
	}
	logging.Info().Msg("Database initialized successfully")

	a.bus, a.audit, err = initEventBus(&cfg.NATS, a.db)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.bus.Close)

	discordClient := discord.NewClient(&cfg.Discord)
	registerMetadataSchema(ctx, discordClient, &cfg.Discord)

	tautulliClient := sync.NewCircuitBreakerClient(&cfg.Tautulli)
	if err := tautulliClient.Ping(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to connect to Tautulli (will retry on each pass)")
	} else {
		logging.Info().Msg("Connected to Tautulli successfully")
	}

	tiers := quota.TiersFromConfig(cfg.Quota.Tiers)

	lifecycleMgr := lifecycle.NewManager(a.db, a.db, discordClient, &cfg.Tokens, a.bus)
	subscribers := sync.NewSubscriberSync(a.db, lifecycleMgr, tautulliClient, discordClient,
		tiers, cfg.Sync.StalenessThreshold, a.bus)

	var quotaRunner sync.QuotaRunner
	if cfg.Overseerr.Enabled {
		overseerr := quota.NewOverseerrClient(&cfg.Overseerr)
		quotaRunner = quota.NewReconciler(a.db, sync.WatchStats{API: tautulliClient}, overseerr, tiers, a.bus)
		logging.Info().Str("url", cfg.Overseerr.URL).Msg("Overseerr quota reconciliation enabled")
	}
	a.syncMgr = sync.NewManager(lifecycleMgr, subscribers, quotaRunner, &cfg.Sync)

	a.states, err = auth.NewStateStore(cfg.StateStore.Path)
	if err != nil {
		return nil, fmt.Errorf("open link state store: %w", err)
	}
	a.closers = append(a.closers, a.states.Close)

	directory := sync.NewUserDirectoryCache(tautulliClient, cfg.Tautulli.UserCacheTTL)
	links := auth.NewLinkFlow(discordClient, a.states, directory, a.db, a.bus, auth.LinkFlowConfig{
		StateTTL:           cfg.StateStore.TTL,
		FirstIssueLifetime: cfg.Tokens.FirstIssueLifetime,
		Tiers:              tiers,
	})

	enforcer, err := authz.NewEnforcer(&authz.EnforcerConfig{
		PolicyPath: cfg.Security.PolicyPath,
		CacheTTL:   time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize admin authorization: %w", err)
	}

	handler := api.NewHandler(links, a.syncMgr, a.db, a.bus)
	router := api.NewRouter(handler, api.RouterConfig{
		AdminToken:        cfg.Security.AdminToken,
		ViewerToken:       cfg.Security.ViewerToken,
		Enforcer:          enforcer,
		RateLimitRequests: cfg.Security.RateLimitRequests,
		RateLimitWindow:   cfg.Security.RateLimitWindow,
	})
	if cfg.Security.AdminToken == "" && cfg.Security.ViewerToken == "" {
		logging.Warn().Msg("ADMIN_TOKEN and VIEWER_TOKEN are not set; admin API is disabled")
	}
	a.server = newHTTPServer(&cfg.Server, router)

	return a, nil
}

// supervisorTree places each component in its layer.
func (a *app) supervisorTree() (*supervisor.SupervisorTree, error) {
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return nil, fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDataService(a.audit)
	tree.AddDataService(services.NewStateGCService(a.states, 0))
	tree.AddSchedulerService(services.NewSyncService(a.syncMgr))
	tree.AddAPIService(services.NewHTTPServerService(a.server, 0))

	return tree, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Error().Err(err).Msg("Error during shutdown")
		}
	}
	a.closers = nil
}

// initTokenCipher enables refresh-token encryption when a key is configured.
func initTokenCipher(db *database.DB, cfg *config.SecurityConfig) error {
	enc, err := auth.NewTokenEncryptor(&auth.TokenEncryptorConfig{MasterKey: cfg.TokenEncryptionKey})
	if err != nil {
		return fmt.Errorf("initialize token encryption: %w", err)
	}
	if enc == nil {
		logging.Warn().Msg("TOKEN_ENCRYPTION_KEY is not set; refresh tokens are stored in plaintext")
		return nil
	}
	db.SetTokenCipher(enc)
	logging.Info().Msg("Refresh-token encryption enabled")
	return nil
}

// initEventBus builds the in-process bus, subscribes the audit consumer and
// attaches NATS forwarding when enabled.
func initEventBus(cfg *config.NATSConfig, store events.AuditStore) (*events.Bus, *events.AuditConsumer, error) {
	bus := events.NewBus()

	audit, err := events.NewAuditConsumer(bus, store)
	if err != nil {
		bus.Close() //nolint:errcheck
		return nil, nil, err
	}

	if !cfg.Enabled {
		logging.Info().Msg("NATS forwarding disabled (NATS_ENABLED=false)")
		return bus, audit, nil
	}

	publisher, err := events.NewNATSPublisher(cfg)
	if err != nil {
		bus.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("initialize NATS publisher: %w", err)
	}
	bus.SetForward(publisher)
	logging.Info().Str("url", cfg.URL).Msg("Lifecycle events forwarded to NATS")
	return bus, audit, nil
}

// metadataRegistrar is the bot-authenticated schema call.
type metadataRegistrar interface {
	RegisterMetadata(ctx context.Context, records []models.MetadataRecord) error
}

// registerMetadataSchema publishes the role-connection schema. Failure is
// logged; the link flow still works against a previously registered schema.
func registerMetadataSchema(ctx context.Context, client metadataRegistrar, cfg *config.DiscordConfig) {
	if cfg.BotToken == "" || cfg.ApplicationID == "" {
		logging.Info().Msg("Skipping metadata schema registration (no bot token or application ID)")
		return
	}
	if err := client.RegisterMetadata(ctx, models.DefaultMetadataSchema()); err != nil {
		logging.Error().Err(err).Msg("Failed to register role-connection metadata schema")
		return
	}
	logging.Info().Msg("Role-connection metadata schema registered")
}

func newHTTPServer(cfg *config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Timeout,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       2 * cfg.Timeout,
	}
}
