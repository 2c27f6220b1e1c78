// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/plexcord/internal/database"
	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/models"
	"github.com/tomtom215/plexcord/internal/sync"
	"github.com/tomtom215/plexcord/internal/validation"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// TriggerSync runs a full pass synchronously and returns its report. The
// pass runs to completion even if the client goes away.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	report, err := h.sync.TriggerSync(context.WithoutCancel(r.Context()))
	if errors.Is(err, sync.ErrPassInProgress) {
		rw.Conflict(err.Error())
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Manual sync pass finished with errors")
	}
	rw.Success(report)
}

// LastSync returns the most recent pass report.
func (h *Handler) LastSync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	report, ok := h.sync.LastReport()
	if !ok {
		rw.NotFound("no sync pass has run yet")
		return
	}
	rw.Success(report)
}

// TokenStats returns token counts keyed by status name.
func (h *Handler) TokenStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	counts, err := h.store.CountTokensByStatus(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[status.String()] = n
	}
	rw.Success(out)
}

// IdentityEvents returns the newest audit events for one identity.
func (h *Handler) IdentityEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, ok := identityParam(rw, r)
	if !ok {
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventLimit {
			rw.BadRequest("limit must be between 1 and " + strconv.Itoa(maxEventLimit))
			return
		}
		limit = n
	}

	list, err := h.store.ListLifecycleEvents(r.Context(), id, limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(list)
}

// DeleteIdentity removes an identity with its accounts and tokens.
func (h *Handler) DeleteIdentity(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, ok := identityParam(rw, r)
	if !ok {
		return
	}

	if err := h.store.DeleteIdentity(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrIdentityNotFound) {
			rw.NotFound("identity not found")
			return
		}
		rw.DatabaseError(err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("discord_user_id", id).Msg("Identity deleted by admin")
	if err := h.events.Publish(r.Context(), &models.LifecycleEvent{
		Type:          models.EventIdentityDeleted,
		DiscordUserID: id,
		Detail:        "admin",
	}); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Failed to publish lifecycle event")
	}
	rw.NoContent()
}

func identityParam(rw *ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateVar(id, "required,snowflake"); err != nil {
		rw.BadRequest("id must be a Discord user id")
		return "", false
	}
	return id, true
}
