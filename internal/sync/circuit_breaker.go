// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package sync

import (
	"context"

	"github.com/tomtom215/plexcord/internal/breaker"
	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/models/tautulli"
)

// CircuitBreakerClient wraps TautulliClient with a circuit breaker so an
// unavailable Tautulli fails each identity fast instead of stalling the pass
// on timeouts.
type CircuitBreakerClient struct {
	client  *TautulliClient
	breaker *breaker.Breaker
}

// NewCircuitBreakerClient creates a Tautulli client behind the
// "tautulli-api" breaker.
func NewCircuitBreakerClient(cfg *config.TautulliConfig) *CircuitBreakerClient {
	return &CircuitBreakerClient{
		client:  NewTautulliClient(cfg),
		breaker: breaker.New("tautulli-api"),
	}
}

// Ping checks connectivity through the breaker.
func (c *CircuitBreakerClient) Ping(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.client.Ping(ctx)
	})
	return err
}

// GetUsers lists Tautulli users through the breaker.
func (c *CircuitBreakerClient) GetUsers(ctx context.Context) (*tautulli.TautulliUsers, error) {
	return breaker.Call(c.breaker, func() (*tautulli.TautulliUsers, error) {
		return c.client.GetUsers(ctx)
	})
}

// GetUserWatchTimeStats fetches watch stats through the breaker.
func (c *CircuitBreakerClient) GetUserWatchTimeStats(ctx context.Context, userID string, queryDays int) (*tautulli.TautulliUserWatchTimeStats, error) {
	return breaker.Call(c.breaker, func() (*tautulli.TautulliUserWatchTimeStats, error) {
		return c.client.GetUserWatchTimeStats(ctx, userID, queryDays)
	})
}
