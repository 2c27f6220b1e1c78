// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

/*
Package api is Plexcord's HTTP surface, routed with chi.

Public routes:

	GET  /link?plex_username=NAME[&redirect_uri=URI]   start account linking
	GET  /callback?state=S&code=C                      Discord OAuth2 redirect target
	GET  /healthz                                      process liveness
	GET  /readyz                                       DuckDB reachability
	GET  /metrics                                      Prometheus exposition

Admin routes require "Authorization: Bearer <security.admin_token>" and are
disabled entirely when no admin token is configured:

	POST   /api/v1/admin/sync                     run a pass now (409 while one runs)
	GET    /api/v1/admin/sync                     last pass report
	GET    /api/v1/admin/tokens/stats             token counts by status
	GET    /api/v1/admin/identities/{id}/events   audit log for one identity
	DELETE /api/v1/admin/identities/{id}          delete identity, accounts and tokens

JSON responses use the envelope in response.go.
*/
package api
