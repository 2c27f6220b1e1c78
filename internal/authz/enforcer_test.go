// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package authz

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/plexcord/internal/metrics"
)

func TestBuiltInPolicy(t *testing.T) {
	e := MustNewEnforcer()

	tests := []struct {
		role   string
		path   string
		action string
		want   bool
	}{
		{RoleViewer, "/api/v1/admin/sync", ActionRead, true},
		{RoleViewer, "/api/v1/admin/tokens/stats", ActionRead, true},
		{RoleViewer, "/api/v1/admin/sync", ActionWrite, false},
		{RoleViewer, "/api/v1/admin/identities/1", ActionDelete, false},
		{RoleAdmin, "/api/v1/admin/sync", ActionWrite, true},
		{RoleAdmin, "/api/v1/admin/identities/1", ActionDelete, true},
		{RoleAdmin, "/api/v1/admin/identities/1/events", ActionRead, true},
		{RoleAdmin, "/link", ActionRead, false},
		{"stranger", "/api/v1/admin/sync", ActionRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+" "+tt.action+" "+tt.path, func(t *testing.T) {
			got, err := e.Enforce(tt.role, tt.path, tt.action)
			if err != nil {
				t.Fatalf("Enforce: %v", err)
			}
			if got != tt.want {
				t.Errorf("Enforce = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnforcerCachesDecisions(t *testing.T) {
	e, err := NewEnforcer(&EnforcerConfig{CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}

	cached := metrics.AuthzDecisions.WithLabelValues(RoleViewer, ActionWrite, "denied", "true")
	before := testutil.ToFloat64(cached)

	for i := 0; i < 3; i++ {
		if ok, _ := e.Enforce(RoleViewer, "/api/v1/admin/sync", ActionWrite); ok {
			t.Fatal("viewer allowed to write")
		}
	}
	if got := testutil.ToFloat64(cached) - before; got != 2 {
		t.Errorf("cached decisions = %v, want 2", got)
	}
}

func TestPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	policy := "p, auditor, /api/v1/admin/identities/*, read\n"
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatal(err)
	}

	e, err := NewEnforcer(&EnforcerConfig{PolicyPath: path})
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}

	if ok, _ := e.Enforce("auditor", "/api/v1/admin/identities/42/events", ActionRead); !ok {
		t.Error("auditor should read identity events")
	}
	if ok, _ := e.Enforce("auditor", "/api/v1/admin/sync", ActionRead); ok {
		t.Error("auditor should not read sync")
	}
	if ok, _ := e.Enforce(RoleAdmin, "/api/v1/admin/sync", ActionWrite); ok {
		t.Error("a policy file replaces the built-in policy")
	}
}

func TestPolicyFileMissing(t *testing.T) {
	if _, err := NewEnforcer(&EnforcerConfig{PolicyPath: filepath.Join(t.TempDir(), "nope.csv")}); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestActionForMethod(t *testing.T) {
	tests := map[string]string{
		"GET":     ActionRead,
		"HEAD":    ActionRead,
		"OPTIONS": ActionRead,
		"POST":    ActionWrite,
		"PUT":     ActionWrite,
		"patch":   ActionWrite,
		"DELETE":  ActionDelete,
	}
	for method, want := range tests {
		if got := ActionForMethod(method); got != want {
			t.Errorf("ActionForMethod(%s) = %s, want %s", method, got, want)
		}
	}
}
