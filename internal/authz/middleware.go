// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package authz

import (
	"context"
	"net/http"

	"github.com/tomtom215/plexcord/internal/logging"
)

type roleKey struct{}

// WithRole attaches the authenticated role to ctx.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFrom returns the role attached by WithRole.
func RoleFrom(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleKey{}).(string)
	return role, ok && role != ""
}

// Middleware enforces the policy for each request.
type Middleware struct {
	enforcer *Enforcer
	deny     func(w http.ResponseWriter, r *http.Request, status int)
}

// NewMiddleware creates a middleware. deny writes the rejection body;
// nil uses http.Error.
func NewMiddleware(enforcer *Enforcer, deny func(w http.ResponseWriter, r *http.Request, status int)) *Middleware {
	if deny == nil {
		deny = func(w http.ResponseWriter, _ *http.Request, status int) {
			http.Error(w, http.StatusText(status), status)
		}
	}
	return &Middleware{enforcer: enforcer, deny: deny}
}

// Authorize rejects requests without a role (403) or whose role the policy
// does not allow (403). Enforcement errors are 500.
func (m *Middleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := RoleFrom(r.Context())
		if !ok {
			m.deny(w, r, http.StatusForbidden)
			return
		}

		action := ActionForMethod(r.Method)
		allowed, err := m.enforcer.Enforce(role, r.URL.Path, action)
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Authorization error")
			m.deny(w, r, http.StatusInternalServerError)
			return
		}
		if !allowed {
			logging.Ctx(r.Context()).Warn().
				Str("role", role).
				Str("action", action).
				Str("path", r.URL.Path).
				Msg("Admin request denied by policy")
			m.deny(w, r, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
