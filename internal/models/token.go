// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenStatus is the lifecycle state of a stored token record. The integer
// values are persisted and must not change.
type TokenStatus int8

const (
	TokenActive  TokenStatus = 0
	TokenRevoked TokenStatus = 1
	TokenRenewed TokenStatus = 2
	TokenExpired TokenStatus = 3
)

// String returns the lowercase status name.
func (s TokenStatus) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenRevoked:
		return "revoked"
	case TokenRenewed:
		return "renewed"
	case TokenExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", int8(s))
	}
}

// Valid reports whether s is one of the defined statuses.
func (s TokenStatus) Valid() bool {
	return s >= TokenActive && s <= TokenExpired
}

// IsTerminal reports whether no further transition is possible.
func (s TokenStatus) IsTerminal() bool {
	return s == TokenRevoked || s == TokenRenewed || s == TokenExpired
}

// TokenEvent is an input to the token state machine.
type TokenEvent int

const (
	// EventRenewed means a refresh produced a successor record.
	EventRenewed TokenEvent = iota
	// EventGrantInvalid means the provider rejected the refresh token.
	EventGrantInvalid
	// EventExpired means the record was seen past its expiry without a
	// refresh attempt.
	EventExpired
)

func (e TokenEvent) String() string {
	switch e {
	case EventRenewed:
		return "renewed"
	case EventGrantInvalid:
		return "grant_invalid"
	case EventExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", int(e))
	}
}

// ErrInvalidTransition is returned when an event does not apply to a status.
var ErrInvalidTransition = errors.New("invalid token status transition")

// Transition returns the status that results from applying event to s.
// Only Active records move; every other status is terminal.
func (s TokenStatus) Transition(event TokenEvent) (TokenStatus, error) {
	if s != TokenActive {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, s)
	}
	switch event {
	case EventRenewed:
		return TokenRenewed, nil
	case EventGrantInvalid:
		return TokenRevoked, nil
	case EventExpired:
		return TokenExpired, nil
	default:
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, s)
	}
}

// TokenRecord is one stored OAuth2 access/refresh pair. Only Status and
// UpdatedAt change after creation.
type TokenRecord struct {
	AccessToken   string      `json:"-"`
	RefreshToken  string      `json:"-"`
	Scopes        string      `json:"scopes"`
	ExpiresAt     time.Time   `json:"expires_at"`
	DiscordUserID string      `json:"discord_user_id"`
	Status        TokenStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// IsExpired reports whether the record is past its expiry at now.
func (t *TokenRecord) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ExpiresWithin reports whether the record expires within window of now.
func (t *TokenRecord) ExpiresWithin(now time.Time, window time.Duration) bool {
	return !now.Add(window).Before(t.ExpiresAt)
}

// ScopeList splits the stored scopes string.
func (t *TokenRecord) ScopeList() []string {
	return SplitScopes(t.Scopes)
}

// JoinScopes produces the comma-joined form stored on a token record.
func JoinScopes(scopes []string) string {
	cleaned := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return strings.Join(cleaned, ",")
}

// SplitScopes parses a comma- or space-separated scope list.
func SplitScopes(scopes string) []string {
	fields := strings.FieldsFunc(scopes, func(r rune) bool {
		return r == ',' || r == ' '
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
