// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

/*
Package sync keeps Discord linked-role metadata in step with Plex watch
history.

It contains three parts:

  - TautulliClient and CircuitBreakerClient: the watch-stats provider
    (get_user_watch_time_stats, get_users, arnold) with 429 backoff and a
    circuit breaker.
  - SubscriberSync: one pass over every active linked identity that obtains
    the latest token, fetches all-time watch time, classifies the request
    tier and publishes the role-connection metadata.
  - Manager: the single-flow scheduler that runs token maintenance, the
    subscriber sync and quota reconciliation in order on every tick.

Passes never overlap. Cancellation is observed between identities; the
identity in flight always finishes.
*/
package sync
