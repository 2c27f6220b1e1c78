// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package models

import "time"

// LifecycleEventType names a change in token or identity state.
type LifecycleEventType string

const (
	EventTokenCreated        LifecycleEventType = "token.created"
	EventTokenRenewed        LifecycleEventType = "token.renewed"
	EventTokenRevoked        LifecycleEventType = "token.revoked"
	EventTokenExpired        LifecycleEventType = "token.expired"
	EventIdentityLinked      LifecycleEventType = "identity.linked"
	EventIdentityDeactivated LifecycleEventType = "identity.deactivated"
	EventIdentityDeleted     LifecycleEventType = "identity.deleted"
	EventMetadataPublished   LifecycleEventType = "metadata.published"
	EventMetadataFailed      LifecycleEventType = "metadata.failed"
	EventQuotaUpdated        LifecycleEventType = "quota.updated"
)

// LifecycleEvent is one audit entry. TokenHint is a redacted form of the
// access token involved, never the token itself.
type LifecycleEvent struct {
	ID            string             `json:"id"`
	Type          LifecycleEventType `json:"type"`
	DiscordUserID string             `json:"discord_user_id"`
	TokenHint     string             `json:"token_hint,omitempty"`
	Detail        string             `json:"detail,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}
