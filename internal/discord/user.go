// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package discord

import (
	"context"
	"net/http"
)

// User is the subset of GET /users/@me used for linking.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	GlobalName    string `json:"global_name,omitempty"`
	Discriminator string `json:"discriminator,omitempty"`
}

// GetCurrentUser returns the user that owns accessToken.
func (c *Client) GetCurrentUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.doJSON(ctx, "get current user", http.MethodGet, "/users/@me", "Bearer "+accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
