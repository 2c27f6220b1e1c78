// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package models

// Role-connection metadata keys declared to Discord.
const (
	MetadataKeyWatchedHours = "watched_hours"
	MetadataKeyIsSubscriber = "is_subscriber"
	MetadataKeyRequestTier  = "request_tier"
)

// Discord application role connection metadata types.
const (
	MetadataTypeIntegerLessThanOrEqual    = 1
	MetadataTypeIntegerGreaterThanOrEqual = 2
	MetadataTypeIntegerEqual              = 3
	MetadataTypeBooleanEqual              = 7
)

// RoleConnection is the document written to a user's application role
// connection.
type RoleConnection struct {
	PlatformName     string                 `json:"platform_name"`
	PlatformUsername string                 `json:"platform_username,omitempty"`
	Metadata         RoleConnectionMetadata `json:"metadata"`
}

// RoleConnectionMetadata carries the declared metadata values. Discord
// encodes booleans as 0 or 1.
type RoleConnectionMetadata struct {
	WatchedHours int `json:"watched_hours"`
	IsSubscriber int `json:"is_subscriber"`
	RequestTier  int `json:"request_tier"`
}

// NewRoleConnectionMetadata builds the metadata values for a subscriber.
func NewRoleConnectionMetadata(watchedHours int, subscriber bool, tierRank int) RoleConnectionMetadata {
	m := RoleConnectionMetadata{
		WatchedHours: watchedHours,
		RequestTier:  tierRank,
	}
	if subscriber {
		m.IsSubscriber = 1
	}
	return m
}

// MetadataRecord declares one metadata key on the application.
type MetadataRecord struct {
	Type        int    `json:"type"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DefaultMetadataSchema returns the records registered for the application.
func DefaultMetadataSchema() []MetadataRecord {
	return []MetadataRecord{
		{
			Type:        MetadataTypeIntegerGreaterThanOrEqual,
			Key:         MetadataKeyWatchedHours,
			Name:        "Hours Watched",
			Description: "Minimum hours watched on the Plex server",
		},
		{
			Type:        MetadataTypeBooleanEqual,
			Key:         MetadataKeyIsSubscriber,
			Name:        "Subscriber",
			Description: "Has a linked Plex account on the server",
		},
		{
			Type:        MetadataTypeIntegerGreaterThanOrEqual,
			Key:         MetadataKeyRequestTier,
			Name:        "Request Tier",
			Description: "Minimum request quota tier",
		},
	}
}

// WatchedHours converts a watch time in seconds to whole hours, truncating
// any partial hour.
func WatchedHours(totalSeconds int64) int {
	if totalSeconds <= 0 {
		return 0
	}
	return int(totalSeconds / 3600)
}
