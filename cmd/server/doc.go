// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package main is the entry point for the Plexcord server.
//
// Plexcord links Discord accounts to Plex accounts and keeps each member's
// Discord role-connection metadata in step with their Plex watch history,
// read from Tautulli. Discord grants linked roles from that metadata.
//
// # Startup Order
//
//  1. Configuration (koanf: defaults, config.yaml, environment)
//  2. Logging (zerolog)
//  3. DuckDB token store, with refresh-token encryption when a key is set
//  4. Lifecycle event bus, audit consumer and optional NATS forwarding
//  5. Discord client and metadata schema registration (needs a bot token)
//  6. Tautulli client behind a circuit breaker
//  7. Token lifecycle manager, subscriber sync and optional quota reconciler
//  8. Link flow and HTTP router
//  9. Supervisor tree: data, scheduler and API layers
//
// # Required Environment
//
//	DISCORD_CLIENT_ID, DISCORD_CLIENT_SECRET, DISCORD_REDIRECT_URI
//	TAUTULLI_URL, TAUTULLI_API_KEY
//
// Optional: DISCORD_BOT_TOKEN and DISCORD_APPLICATION_ID (schema
// registration), ADMIN_TOKEN (admin API), TOKEN_ENCRYPTION_KEY,
// OVERSEERR_ENABLED with OVERSEERR_URL and OVERSEERR_API_KEY, NATS_ENABLED.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. The supervisor stops the HTTP
// server, the sync scheduler and the consumers, then the bus, state store
// and database are closed in that order.
package main
