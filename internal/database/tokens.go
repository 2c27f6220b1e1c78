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

const tokenColumns = `access_token, refresh_token, scopes, expires_at, discord_user_id, status, created_at, updated_at`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateToken inserts a token record and returns its key. Inserting an
// access token that already exists leaves the stored row untouched and
// returns the same key without error.
func (db *DB) CreateToken(ctx context.Context, rec *models.TokenRecord) (string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	err := db.insertToken(ctx, db.conn, rec)
	metrics.RecordDBQuery("INSERT", "tokens", time.Since(start), err)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

func (db *DB) insertToken(ctx context.Context, ex execer, rec *models.TokenRecord) error {
	if rec.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid token status %d", rec.Status)
	}

	refresh, err := db.sealRefreshToken(rec.RefreshToken)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (access_token) DO NOTHING`,
		rec.AccessToken, refresh, rec.Scopes, rec.ExpiresAt.UTC(), rec.DiscordUserID,
		int8(rec.Status), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// LatestToken returns the Active token with the greatest expiry for the
// identity, or ErrNoTokenFound.
func (db *DB) LatestToken(ctx context.Context, discordUserID string) (*models.TokenRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE discord_user_id = ? AND status = ?
		ORDER BY expires_at DESC
		LIMIT 1`,
		discordUserID, int8(models.TokenActive),
	)
	rec, err := db.scanToken(row)
	metrics.RecordDBQuery("SELECT", "tokens", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoTokenFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest token: %w", err)
	}
	return rec, nil
}

// GetToken returns the record for an access token.
func (db *DB) GetToken(ctx context.Context, accessToken string) (*models.TokenRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE access_token = ?`, accessToken)
	rec, err := db.scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return rec, nil
}

// SetTokenStatus changes the status of one Active record. It is the only
// mutation permitted on a stored token. A record already in a terminal status
// is left unchanged and models.ErrInvalidTransition is returned.
func (db *DB) SetTokenStatus(ctx context.Context, accessToken string, status models.TokenStatus) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if !status.Valid() {
		return fmt.Errorf("invalid token status %d", status)
	}

	start := time.Now()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE tokens SET status = ?, updated_at = ? WHERE access_token = ? AND status = ?`,
		int8(status), time.Now().UTC(), accessToken, int8(models.TokenActive),
	)
	metrics.RecordDBQuery("UPDATE", "tokens", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to update token status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil || n > 0 {
		return nil
	}

	current, err := db.GetToken(ctx, accessToken)
	if err != nil {
		return err
	}
	return fmt.Errorf("token already %s: %w", current.Status, models.ErrInvalidTransition)
}

// DeleteToken removes one record.
func (db *DB) DeleteToken(ctx context.Context, accessToken string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx, `DELETE FROM tokens WHERE access_token = ?`, accessToken)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// ListActiveTokens returns every Active record ordered by expiry.
func (db *DB) ListActiveTokens(ctx context.Context) ([]models.TokenRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE status = ?
		ORDER BY expires_at ASC, access_token ASC`,
		int8(models.TokenActive),
	)
	metrics.RecordDBQuery("SELECT", "tokens", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tokens: %w", err)
	}
	return db.collectTokens(rows)
}

// ListTokensForIdentity returns every record owned by the identity, newest
// expiry first.
func (db *DB) ListTokensForIdentity(ctx context.Context, discordUserID string) ([]models.TokenRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE discord_user_id = ?
		ORDER BY expires_at DESC, created_at DESC`,
		discordUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return db.collectTokens(rows)
}

// PurgeTokens deletes terminal records whose expiry is before cutoff and
// returns the number removed. Active records are never purged.
func (db *DB) PurgeTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM tokens WHERE status <> ? AND expires_at < ?`,
		int8(models.TokenActive), cutoff.UTC(),
	)
	metrics.RecordDBQuery("DELETE", "tokens", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged tokens: %w", err)
	}
	return n, nil
}

// CountTokensByStatus returns the number of records per status.
func (db *DB) CountTokensByStatus(ctx context.Context) (map[models.TokenStatus]int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM tokens GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tokens: %w", err)
	}
	defer closeWithLog(rows, "token count rows")

	counts := make(map[models.TokenStatus]int)
	for rows.Next() {
		var status, count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan token count: %w", err)
		}
		counts[models.TokenStatus(status)] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanToken(row rowScanner) (*models.TokenRecord, error) {
	var rec models.TokenRecord
	var status int
	if err := row.Scan(
		&rec.AccessToken, &rec.RefreshToken, &rec.Scopes, &rec.ExpiresAt,
		&rec.DiscordUserID, &status, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = models.TokenStatus(status)

	refresh, err := db.openRefreshToken(rec.RefreshToken)
	if err != nil {
		return nil, err
	}
	rec.RefreshToken = refresh
	return &rec, nil
}

func (db *DB) collectTokens(rows *sql.Rows) ([]models.TokenRecord, error) {
	defer closeWithLog(rows, "token rows")

	var records []models.TokenRecord
	for rows.Next() {
		rec, err := db.scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (db *DB) sealRefreshToken(plaintext string) (string, error) {
	if db.cipher == nil || plaintext == "" {
		return plaintext, nil
	}
	sealed, err := db.cipher.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return sealed, nil
}

func (db *DB) openRefreshToken(stored string) (string, error) {
	if db.cipher == nil || stored == "" {
		return stored, nil
	}
	plaintext, err := db.cipher.Decrypt(stored)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return plaintext, nil
}
