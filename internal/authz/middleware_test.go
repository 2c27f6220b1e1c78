// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareAuthorize(t *testing.T) {
	m := NewMiddleware(MustNewEnforcer(), nil)
	handler := m.Authorize(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		role   string
		method string
		path   string
		want   int
	}{
		{"no role", "", http.MethodGet, "/api/v1/admin/sync", http.StatusForbidden},
		{"viewer reads", RoleViewer, http.MethodGet, "/api/v1/admin/sync", http.StatusNoContent},
		{"viewer triggers sync", RoleViewer, http.MethodPost, "/api/v1/admin/sync", http.StatusForbidden},
		{"admin triggers sync", RoleAdmin, http.MethodPost, "/api/v1/admin/sync", http.StatusNoContent},
		{"admin deletes", RoleAdmin, http.MethodDelete, "/api/v1/admin/identities/1", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.role != "" {
				req = req.WithContext(WithRole(req.Context(), tt.role))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMiddlewareCustomDeny(t *testing.T) {
	var gotStatus int
	m := NewMiddleware(MustNewEnforcer(), func(w http.ResponseWriter, _ *http.Request, status int) {
		gotStatus = status
		w.WriteHeader(status)
	})
	handler := m.Authorize(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/identities/1", nil)
	req = req.WithContext(WithRole(req.Context(), RoleViewer))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotStatus != http.StatusForbidden {
		t.Errorf("deny status = %d, want 403", gotStatus)
	}
}

func TestRoleFromEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := RoleFrom(WithRole(req.Context(), "")); ok {
		t.Error("empty role should not count as authenticated")
	}
}
