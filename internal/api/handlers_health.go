// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/plexcord/internal/logging"
)

const readinessTimeout = 2 * time.Second

// Healthz reports that the process is serving.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// Readyz reports whether the token store answers.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	rw := NewResponseWriter(w, r)
	if err := h.store.Ping(ctx); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Readiness check failed")
		rw.ServiceUnavailable("database unavailable")
		return
	}
	rw.Success(map[string]string{"status": "ready", "database": "ok"})
}
