// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// tableCreationQueries returns the table creation SQL statements. Ownership
// is enforced in application code: DuckDB has no ON DELETE CASCADE, so
// DeleteIdentity removes dependent rows in one transaction.
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS identities (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS linked_accounts (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			is_subscriber BOOLEAN NOT NULL DEFAULT true,
			discord_user_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,

		// status: 0=active 1=revoked 2=renewed 3=expired
		`CREATE TABLE IF NOT EXISTS tokens (
			access_token TEXT PRIMARY KEY,
			refresh_token TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMP NOT NULL,
			discord_user_id TEXT NOT NULL,
			status TINYINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS token_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			discord_user_id TEXT NOT NULL,
			token_hint TEXT,
			detail TEXT,
			occurred_at TIMESTAMP NOT NULL
		);`,
	}
}
