// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package models holds the entities shared by the store, the token lifecycle
// and the sync job: Discord identities, linked Plex accounts, OAuth2 token
// records with their status state machine, and the role-connection document
// pushed to Discord.
package models
