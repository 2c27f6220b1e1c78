// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("Plexcord stopped with error")
		os.Exit(1)
	}
	logging.Info().Msg("Plexcord stopped")
}

// run builds the application and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("tautulli_url", cfg.Tautulli.URL).
		Bool("overseerr", cfg.Overseerr.Enabled).
		Bool("nats", cfg.NATS.Enabled).
		Bool("admin_api", cfg.Security.AdminToken != "").
		Msg("Starting Plexcord")

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	tree, err := app.supervisorTree()
	if err != nil {
		return err
	}

	logging.Info().Str("addr", app.server.Addr).Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	return nil
}
