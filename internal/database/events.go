// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/plexcord/internal/models"
)

// InsertLifecycleEvent appends an audit entry. Entries with an id that is
// already stored are ignored so redelivered messages are harmless.
func (db *DB) InsertLifecycleEvent(ctx context.Context, event *models.LifecycleEvent) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO token_events (id, event_type, discord_user_id, token_hint, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, string(event.Type), event.DiscordUserID, event.TokenHint, event.Detail,
		event.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert lifecycle event: %w", err)
	}
	return nil
}

// ListLifecycleEvents returns the most recent events for an identity, newest
// first. A limit of zero or less defaults to 100.
func (db *DB) ListLifecycleEvents(ctx context.Context, discordUserID string, limit int) ([]models.LifecycleEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, event_type, discord_user_id, COALESCE(token_hint, ''), COALESCE(detail, ''), occurred_at
		FROM token_events
		WHERE discord_user_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`,
		discordUserID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycle events: %w", err)
	}
	defer closeWithLog(rows, "event rows")

	var events []models.LifecycleEvent
	for rows.Next() {
		var e models.LifecycleEvent
		var eventType string
		if err := rows.Scan(&e.ID, &eventType, &e.DiscordUserID, &e.TokenHint, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle event: %w", err)
		}
		e.Type = models.LifecycleEventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}
