// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package discord

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork is a transport failure reaching Discord. Transient.
	ErrNetwork = errors.New("discord: network error")
	// ErrUpstreamAuth is a non-2xx answer other than invalid_grant. Transient.
	ErrUpstreamAuth = errors.New("discord: upstream auth error")
	// ErrInvalidGrant means the refresh token was rejected as expired or
	// revoked. Terminal for that token.
	ErrInvalidGrant = errors.New("discord: invalid grant")
	// ErrRateLimited is a 429 answer. Treated as transient.
	ErrRateLimited = errors.New("discord: rate limited")
)

// APIError carries the status and body of a failed Discord call. It
// unwraps to one of the sentinel errors above.
type APIError struct {
	Operation  string
	StatusCode int
	Code       string
	Body       string
	kind       error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s failed with status %d (%s)", e.kind, e.Operation, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s: %s failed with status %d: %s", e.kind, e.Operation, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// IsTransient reports whether err should leave state unchanged for a retry
// on the next pass.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrUpstreamAuth) || errors.Is(err, ErrRateLimited)
}
