// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package authz

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/plexcord/internal/cache"
	"github.com/tomtom215/plexcord/internal/metrics"
)

// Roles known to the built-in policy.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// Actions derived from HTTP methods.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

const defaultPolicy = `
p, viewer, /api/v1/admin/*, read
p, admin, /api/v1/admin/*, *
g, admin, viewer
`

// EnforcerConfig configures NewEnforcer.
type EnforcerConfig struct {
	// PolicyPath is a Casbin CSV policy file. Empty uses the built-in policy.
	PolicyPath string

	// CacheTTL is how long a decision is memoized. Zero disables caching.
	CacheTTL time.Duration
}

// DefaultEnforcerConfig uses the built-in policy with a one-minute cache.
func DefaultEnforcerConfig() *EnforcerConfig {
	return &EnforcerConfig{CacheTTL: time.Minute}
}

// Enforcer wraps a Casbin enforcer with a decision cache.
type Enforcer struct {
	enforcer  *casbin.SyncedEnforcer
	decisions *cache.Cache[bool]
}

// NewEnforcer loads the model and policy.
func NewEnforcer(config *EnforcerConfig) (*Enforcer, error) {
	if config == nil {
		config = DefaultEnforcerConfig()
	}

	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if config.PolicyPath != "" {
		if _, statErr := os.Stat(config.PolicyPath); statErr != nil {
			return nil, fmt.Errorf("policy file: %w", statErr)
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(config.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicy(enforcer, defaultPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	e := &Enforcer{enforcer: enforcer}
	if config.CacheTTL > 0 {
		e.decisions = cache.New[bool](config.CacheTTL)
	}
	return e, nil
}

// MustNewEnforcer is NewEnforcer for the built-in policy, which always
// parses.
func MustNewEnforcer() *Enforcer {
	e, err := NewEnforcer(nil)
	if err != nil {
		panic(err)
	}
	return e
}

// loadPolicy adds CSV policy lines to the enforcer.
func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		var err error
		switch {
		case parts[0] == "p" && len(parts) == 4:
			_, err = enforcer.AddPolicy(parts[1], parts[2], parts[3])
		case parts[0] == "g" && len(parts) == 3:
			_, err = enforcer.AddGroupingPolicy(parts[1], parts[2])
		default:
			err = errors.New("malformed rule")
		}
		if err != nil {
			return fmt.Errorf("policy line %q: %w", line, err)
		}
	}
	return nil
}

// Enforce reports whether role may perform action on path.
func (e *Enforcer) Enforce(role, path, action string) (bool, error) {
	key := role + "\x00" + path + "\x00" + action
	if e.decisions != nil {
		if allowed, ok := e.decisions.Get(key); ok {
			metrics.RecordAuthzDecision(role, action, allowed, true)
			return allowed, nil
		}
	}

	allowed, err := e.enforcer.Enforce(role, path, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	if e.decisions != nil {
		e.decisions.Set(key, allowed)
	}
	metrics.RecordAuthzDecision(role, action, allowed, false)
	return allowed, nil
}

// ActionForMethod maps an HTTP method to a policy action.
func ActionForMethod(method string) string {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return ActionWrite
	case "DELETE":
		return ActionDelete
	default:
		return ActionRead
	}
}
