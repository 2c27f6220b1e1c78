// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package supervisor runs Plexcord's long-lived services under a suture
// supervision tree.
//
// The tree has three layers, each its own supervisor so a crash-looping
// service only backs off its own layer:
//
//	plexcord
//	├── data-layer       audit consumer, link-state GC
//	├── scheduler-layer  sync manager (maintenance, subscriber sync, quota)
//	└── api-layer        HTTP server
//
// Supervisor events are logged through sutureslog using the zerolog-backed
// slog logger from internal/logging. Service adapters live in the services
// subpackage.
package supervisor
