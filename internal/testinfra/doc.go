// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

//go:build integration

// Package testinfra starts disposable containers for integration tests.
//
// Tests in this package and its callers are guarded by the "integration"
// build tag and skip themselves when no Docker daemon is reachable:
//
//	go test -tags integration ./internal/testinfra/...
package testinfra
