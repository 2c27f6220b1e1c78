// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/plexcord/internal/metrics"
	"github.com/tomtom215/plexcord/internal/models"
)

// UpsertIdentity creates the identity or refreshes its username. An
// existing identity is reactivated.
func (db *DB) UpsertIdentity(ctx context.Context, identity *models.Identity) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	return upsertIdentity(ctx, db.conn, identity)
}

func upsertIdentity(ctx context.Context, ex execer, identity *models.Identity) error {
	if identity.ID == "" {
		return fmt.Errorf("identity id is required")
	}
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now
	identity.IsActive = true

	_, err := ex.ExecContext(ctx, `
		INSERT INTO identities (id, username, is_active, created_at, updated_at)
		VALUES (?, ?, true, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			is_active = true,
			updated_at = excluded.updated_at`,
		identity.ID, identity.Username, identity.CreatedAt.UTC(), identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

// GetIdentity returns one identity or ErrIdentityNotFound.
func (db *DB) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var identity models.Identity
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, username, is_active, created_at, updated_at FROM identities WHERE id = ?`, id,
	).Scan(&identity.ID, &identity.Username, &identity.IsActive, &identity.CreatedAt, &identity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &identity, nil
}

// ListActiveLinkedIdentities returns every active identity that has at
// least one linked account, with accounts ordered by creation time.
func (db *DB) ListActiveLinkedIdentities(ctx context.Context) ([]models.LinkedIdentity, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT
			i.id, i.username, i.is_active, i.created_at, i.updated_at,
			a.id, a.username, a.is_subscriber, a.discord_user_id, a.created_at, a.updated_at
		FROM identities i
		JOIN linked_accounts a ON a.discord_user_id = i.id
		WHERE i.is_active = true
		ORDER BY i.created_at ASC, i.id ASC, a.created_at ASC, a.id ASC`)
	metrics.RecordDBQuery("SELECT", "identities", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked identities: %w", err)
	}
	defer closeWithLog(rows, "identity rows")

	var result []models.LinkedIdentity
	for rows.Next() {
		var identity models.Identity
		var account models.LinkedAccount
		if err := rows.Scan(
			&identity.ID, &identity.Username, &identity.IsActive, &identity.CreatedAt, &identity.UpdatedAt,
			&account.ID, &account.Username, &account.IsSubscriber, &account.DiscordUserID,
			&account.CreatedAt, &account.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan linked identity: %w", err)
		}

		if n := len(result); n > 0 && result[n-1].Identity.ID == identity.ID {
			result[n-1].Accounts = append(result[n-1].Accounts, account)
			continue
		}
		result = append(result, models.LinkedIdentity{
			Identity: identity,
			Accounts: []models.LinkedAccount{account},
		})
	}
	return result, rows.Err()
}

// DeactivateIdentity marks the identity inactive so sync passes skip it.
func (db *DB) DeactivateIdentity(ctx context.Context, id string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE identities SET is_active = false, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate identity: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// DeleteIdentity removes the identity along with its token records, linked
// accounts and audit events in one transaction.
func (db *DB) DeleteIdentity(ctx context.Context, id string) (err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			rollback(tx, err)
		}
	}()

	for _, q := range []string{
		`DELETE FROM tokens WHERE discord_user_id = ?`,
		`DELETE FROM linked_accounts WHERE discord_user_id = ?`,
		`DELETE FROM token_events WHERE discord_user_id = ?`,
	} {
		if _, err = tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete dependent rows: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted identities: %w", err)
	}
	if n == 0 {
		err = ErrIdentityNotFound
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit identity delete: %w", err)
	}
	return nil
}
