// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package authz authorizes admin API requests with Casbin RBAC.
//
// Callers authenticate a request, attach its role with WithRole, and mount
// Middleware.Authorize. The built-in policy knows two roles:
//
//	viewer  read any /api/v1/admin route
//	admin   every action on every /api/v1/admin route (inherits viewer)
//
// Actions are derived from the HTTP method: GET and HEAD read, POST, PUT
// and PATCH write, DELETE deletes. A policy file in Casbin CSV form may
// replace the built-in policy.
package authz
