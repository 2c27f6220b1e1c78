// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/plexcord/internal/auth"
	"github.com/tomtom215/plexcord/internal/discord"
	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/validation"
)

// LinkStart validates plex_username and redirects to Discord consent.
func (h *Handler) LinkStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	authURL, err := h.links.Start(r.Context(), q.Get("plex_username"), q.Get("redirect_uri"))
	if err != nil {
		rw := NewResponseWriter(w, r)
		var verr *validation.RequestValidationError
		if errors.As(err, &verr) {
			rw.ValidationError(verr.Error(), verr.Fields)
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to start link flow")
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError, "could not start account linking")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// LinkCallback completes the link after Discord consent.
func (h *Handler) LinkCallback(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := r.URL.Query()

	if denied := q.Get("error"); denied != "" {
		logging.Ctx(r.Context()).Info().Str("error", denied).Msg("Discord authorization declined")
		rw.BadRequest("Discord authorization was declined: " + denied)
		return
	}

	result, err := h.links.Callback(r.Context(), q.Get("state"), q.Get("code"))
	switch {
	case err == nil:
		rw.Success(result)
	case errors.Is(err, auth.ErrStateNotFound), errors.Is(err, auth.ErrStateExpired):
		rw.BadRequest("link session is invalid or expired; start again")
	case errors.Is(err, auth.ErrMissingCode):
		rw.BadRequest("authorization code missing")
	case errors.Is(err, auth.ErrUnknownPlexUser):
		rw.NotFound("no Plex user with that name on this server")
	case errors.Is(err, discord.ErrInvalidGrant):
		rw.BadRequest("authorization code rejected by Discord; start again")
	case discord.IsTransient(err):
		rw.ExternalServiceError("discord", err)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Link callback failed")
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError, "account linking failed")
	}
}
