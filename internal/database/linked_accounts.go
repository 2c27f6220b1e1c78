// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/plexcord/internal/models"
)

// UpsertLinkedAccount stores the Plex account, moving it to the given owner
// if it was linked to another identity before.
func (db *DB) UpsertLinkedAccount(ctx context.Context, account *models.LinkedAccount) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	return upsertLinkedAccount(ctx, db.conn, account)
}

func upsertLinkedAccount(ctx context.Context, ex execer, account *models.LinkedAccount) error {
	if account.ID == "" || account.DiscordUserID == "" {
		return fmt.Errorf("linked account id and owner are required")
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	_, err := ex.ExecContext(ctx, `
		INSERT INTO linked_accounts (id, username, is_subscriber, discord_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			is_subscriber = excluded.is_subscriber,
			discord_user_id = excluded.discord_user_id,
			updated_at = excluded.updated_at`,
		account.ID, account.Username, account.IsSubscriber, account.DiscordUserID,
		account.CreatedAt.UTC(), account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert linked account: %w", err)
	}
	return nil
}

// ListLinkedAccounts returns the accounts owned by an identity, oldest first.
func (db *DB) ListLinkedAccounts(ctx context.Context, discordUserID string) ([]models.LinkedAccount, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, username, is_subscriber, discord_user_id, created_at, updated_at
		FROM linked_accounts
		WHERE discord_user_id = ?
		ORDER BY created_at ASC, id ASC`,
		discordUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked accounts: %w", err)
	}
	defer closeWithLog(rows, "linked account rows")

	var accounts []models.LinkedAccount
	for rows.Next() {
		var a models.LinkedAccount
		if err := rows.Scan(&a.ID, &a.Username, &a.IsSubscriber, &a.DiscordUserID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan linked account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
