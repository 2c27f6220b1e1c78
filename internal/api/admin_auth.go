// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/tomtom215/plexcord/internal/authz"
	"github.com/tomtom215/plexcord/internal/logging"
)

// roleTokens are the configured bearer tokens. An empty token grants
// nothing.
type roleTokens struct {
	admin  string
	viewer string
}

// role returns the role a presented token grants. Every configured token is
// compared so timing does not reveal which one matched.
func (t roleTokens) role(presented string) (string, bool) {
	got := []byte(presented)
	isAdmin := t.admin != "" && subtle.ConstantTimeCompare(got, []byte(t.admin)) == 1
	isViewer := t.viewer != "" && subtle.ConstantTimeCompare(got, []byte(t.viewer)) == 1
	switch {
	case isAdmin:
		return authz.RoleAdmin, true
	case isViewer:
		return authz.RoleViewer, true
	default:
		return "", false
	}
}

// authenticate accepts "Authorization: Bearer <token>" for a configured
// token and attaches its role for the policy middleware.
func authenticate(tokens roleTokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := bearerToken(r)
			role, known := tokens.role(presented)
			if !ok || !known {
				logging.Ctx(r.Context()).Warn().
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Str("remote_addr", r.RemoteAddr).
					Msg("Admin request rejected")
				NewResponseWriter(w, r).Unauthorized("admin token required")
				return
			}
			next.ServeHTTP(w, r.WithContext(authz.WithRole(r.Context(), role)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
