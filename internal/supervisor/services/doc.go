// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package services adapts Plexcord components to suture.Service.
//
// Components with a Start/Stop lifecycle (the sync scheduler) or a blocking
// ListenAndServe (the HTTP server) do not fit suture's Serve(ctx) contract
// directly; the wrappers here translate:
//
//	svc := services.NewSyncService(syncManager)
//	tree.AddSchedulerService(svc)
//
// Each wrapper returns ctx.Err() on orderly shutdown and a wrapped error on
// failure, so suture restarts it under the layer's backoff policy.
package services
