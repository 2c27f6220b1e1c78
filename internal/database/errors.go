// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package database

import (
	"errors"
	"io"

	"github.com/tomtom215/plexcord/internal/logging"
)

var (
	// ErrNoTokenFound means the identity has no Active token record.
	ErrNoTokenFound = errors.New("no active token found")
	// ErrTokenNotFound means no record exists for the access token.
	ErrTokenNotFound = errors.New("token not found")
	// ErrIdentityNotFound means no identity exists for the id.
	ErrIdentityNotFound = errors.New("identity not found")
)

// closeWithLog closes a resource and logs any error
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource and explicitly ignores any error
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
