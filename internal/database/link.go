// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/metrics"
	"github.com/tomtom215/plexcord/internal/models"
)

// LinkRequest is the unit of work written when a user completes the link
// flow.
type LinkRequest struct {
	Identity models.Identity
	Account  models.LinkedAccount
	Token    models.TokenRecord
}

// LinkAccount writes the identity, linked account and first token record in
// one transaction so a partial link is never visible. Re-linking replaces any
// Plex account the identity owned before.
func (db *DB) LinkAccount(ctx context.Context, req *LinkRequest) (err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	req.Account.DiscordUserID = req.Identity.ID
	req.Token.DiscordUserID = req.Identity.ID
	req.Token.Status = models.TokenActive

	start := time.Now()
	defer func() {
		metrics.RecordDBQuery("TRANSACTION", "link", time.Since(start), err)
	}()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			rollback(tx, err)
		}
	}()

	if err = upsertIdentity(ctx, tx, &req.Identity); err != nil {
		return err
	}
	if err = unlinkOtherAccounts(ctx, tx, req.Identity.ID, req.Account.ID); err != nil {
		return err
	}
	if err = upsertLinkedAccount(ctx, tx, &req.Account); err != nil {
		return err
	}
	if err = db.insertToken(ctx, tx, &req.Token); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit link: %w", err)
	}
	return nil
}

func unlinkOtherAccounts(ctx context.Context, ex execer, discordUserID, keepID string) error {
	result, err := ex.ExecContext(ctx,
		`DELETE FROM linked_accounts WHERE discord_user_id = ? AND id <> ?`,
		discordUserID, keepID,
	)
	if err != nil {
		return fmt.Errorf("failed to unlink previous accounts: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		logging.Info().
			Str("discord_user_id", discordUserID).
			Int64("unlinked", n).
			Msg("Replaced previously linked Plex account")
	}
	return nil
}

func rollback(tx *sql.Tx, cause error) {
	if rbErr := tx.Rollback(); rbErr != nil {
		logging.Error().
			Err(rbErr).
			AnErr("original_error", cause).
			Msg("Transaction rollback failed")
	}
}
