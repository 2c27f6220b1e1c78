// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/plexcord/internal/models"
)

// ErrNoBotToken is returned by RegisterMetadata when no bot token is configured.
var ErrNoBotToken = errors.New("discord: bot token not configured")

// PushMetadata replaces the user's role connection for this application.
func (c *Client) PushMetadata(ctx context.Context, accessToken string, conn *models.RoleConnection) error {
	if conn.PlatformName == "" {
		conn.PlatformName = c.platformName
	}
	path := "/users/@me/applications/" + c.applicationID + "/role-connection"
	return c.doJSON(ctx, "push metadata", http.MethodPut, path, "Bearer "+accessToken, conn, nil)
}

// RegisterMetadata publishes the application's role-connection metadata
// schema. It needs a bot token.
func (c *Client) RegisterMetadata(ctx context.Context, records []models.MetadataRecord) error {
	if c.botToken == "" {
		return ErrNoBotToken
	}
	path := "/applications/" + c.applicationID + "/role-connections/metadata"
	return c.doJSON(ctx, "register metadata", http.MethodPut, path, "Bot "+c.botToken, records, nil)
}
