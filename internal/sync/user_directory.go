// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package sync

import (
	"context"
	"time"

	"github.com/tomtom215/plexcord/internal/cache"
	"github.com/tomtom215/plexcord/internal/models/tautulli"
)

const usersCacheKey = "get_users"

// UserDirectoryCache is a TautulliAPI that memoizes GetUsers. The link
// callback resolves every Plex username against the full user list, so a
// burst of links costs one Tautulli call per TTL. Watch stats pass through
// uncached.
type UserDirectoryCache struct {
	TautulliAPI
	users *cache.Cache[*tautulli.TautulliUsers]
}

// NewUserDirectoryCache wraps api. A non-positive ttl defaults to 5m.
func NewUserDirectoryCache(api TautulliAPI, ttl time.Duration) *UserDirectoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &UserDirectoryCache{
		TautulliAPI: api,
		users:       cache.New[*tautulli.TautulliUsers](ttl),
	}
}

// GetUsers returns the cached list or fetches it. Errors are not cached.
func (c *UserDirectoryCache) GetUsers(ctx context.Context) (*tautulli.TautulliUsers, error) {
	if users, ok := c.users.Get(usersCacheKey); ok {
		return users, nil
	}
	users, err := c.TautulliAPI.GetUsers(ctx)
	if err != nil {
		return nil, err
	}
	c.users.Set(usersCacheKey, users)
	return users, nil
}

// Invalidate drops the cached list.
func (c *UserDirectoryCache) Invalidate() {
	c.users.Delete(usersCacheKey)
}

// Stats exposes cache counters.
func (c *UserDirectoryCache) Stats() cache.Stats {
	return c.users.GetStats()
}
