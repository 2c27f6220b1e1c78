// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package models

import "time"

// Identity is a Discord account that has completed the link flow.
type Identity struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkedAccount is the Plex account associated with an Identity. The ID is
// the Plex user id as reported by Tautulli.
type LinkedAccount struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	IsSubscriber  bool      `json:"is_subscriber"`
	DiscordUserID string    `json:"discord_user_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LinkedIdentity is an Identity together with its linked accounts, ordered
// by creation time.
type LinkedIdentity struct {
	Identity Identity        `json:"identity"`
	Accounts []LinkedAccount `json:"accounts"`
}

// PrimaryAccount returns the earliest linked account, or false when the
// identity has none.
func (li LinkedIdentity) PrimaryAccount() (LinkedAccount, bool) {
	if len(li.Accounts) == 0 {
		return LinkedAccount{}, false
	}
	return li.Accounts[0], true
}
