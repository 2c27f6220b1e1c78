// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package config loads Plexcord configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
//
// Sections:
//   - Discord: OAuth2 application, role-connection platform and API endpoints
//   - Tautulli: watch statistics source
//   - Overseerr: request quota target (optional)
//   - Database: DuckDB token store
//   - Tokens: refresh window, fallback lifetimes, retention
//   - Sync: scheduler interval and inline-refresh staleness
//   - Quota: request tiers
//   - Server, Security: HTTP surface
//   - StateStore: badger directory for OAuth state
//   - NATS: optional external event fan-out
//   - Logging
//
// Config is immutable after Load and safe for concurrent reads.
type Config struct {
	Discord    DiscordConfig    `koanf:"discord"`
	Tautulli   TautulliConfig   `koanf:"tautulli"`
	Overseerr  OverseerrConfig  `koanf:"overseerr"`
	Database   DatabaseConfig   `koanf:"database"`
	Tokens     TokensConfig     `koanf:"tokens"`
	Sync       SyncConfig       `koanf:"sync"`
	Quota      QuotaConfig      `koanf:"quota"`
	Server     ServerConfig     `koanf:"server"`
	Security   SecurityConfig   `koanf:"security"`
	StateStore StateStoreConfig `koanf:"state_store"`
	NATS       NATSConfig       `koanf:"nats"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// DiscordConfig configures the Discord OAuth2 application.
type DiscordConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURI  string `koanf:"redirect_uri"`

	// ApplicationID defaults to ClientID; Discord uses the same snowflake for both.
	ApplicationID string `koanf:"application_id"`

	// BotToken enables role-connection metadata registration at startup.
	BotToken string `koanf:"bot_token"`

	APIBaseURL   string `koanf:"api_base_url"`
	AuthorizeURL string `koanf:"authorize_url"`

	// PlatformName is shown on the user's Discord profile next to the connection.
	PlatformName string `koanf:"platform_name"`

	// RequestsPerSecond paces outbound Discord calls. 0 disables pacing.
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Timeout           time.Duration `koanf:"timeout"`
}

// AppID returns ApplicationID, falling back to ClientID.
func (d DiscordConfig) AppID() string {
	if d.ApplicationID != "" {
		return d.ApplicationID
	}
	return d.ClientID
}

// TautulliConfig configures the Tautulli API client.
type TautulliConfig struct {
	URL     string        `koanf:"url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`

	// UserCacheTTL bounds how stale the user list used by linking may be.
	UserCacheTTL time.Duration `koanf:"user_cache_ttl"`

	// MaxRetries is how often an HTTP 429 is retried before the call fails.
	MaxRetries int `koanf:"max_retries"`
}

// OverseerrConfig configures quota reconciliation against Overseerr.
type OverseerrConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig configures DuckDB.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// TokensConfig holds token lifecycle policy.
type TokensConfig struct {
	// RefreshWindow is how long before expires_at the maintenance pass refreshes a token.
	RefreshWindow time.Duration `koanf:"refresh_window"`

	// FirstIssueLifetime applies when the code exchange response omits expires_in.
	FirstIssueLifetime time.Duration `koanf:"first_issue_lifetime"`

	// RefreshLifetime applies when a refresh response omits expires_in.
	RefreshLifetime time.Duration `koanf:"refresh_lifetime"`

	// Retention is how long terminal rows are kept past expires_at before purge.
	Retention time.Duration `koanf:"retention"`
}

// SyncConfig configures the scheduler.
type SyncConfig struct {
	Interval time.Duration `koanf:"interval"`

	// StalenessThreshold: the subscriber sync refreshes inline when the latest
	// token expired more than this long ago.
	StalenessThreshold time.Duration `koanf:"staleness_threshold"`

	RunOnStart bool `koanf:"run_on_start"`
}

// QuotaConfig configures request tiers.
type QuotaConfig struct {
	Tiers []TierConfig `koanf:"tiers"`
}

// TierConfig is one request tier. Tiers are sorted by MinHours at load time.
type TierConfig struct {
	Name       string `koanf:"name" validate:"required,max=32"`
	MinHours   int    `koanf:"min_hours" validate:"gte=0"`
	MovieLimit int    `koanf:"movie_limit" validate:"gte=0"`
	MovieDays  int    `koanf:"movie_days" validate:"gte=0"`
	TVLimit    int    `koanf:"tv_limit" validate:"gte=0"`
	TVDays     int    `koanf:"tv_days" validate:"gte=0"`
}

// DefaultTiers is used when no tiers are configured.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Name: "Bronze", MinHours: 10, MovieLimit: 5, MovieDays: 7, TVLimit: 3, TVDays: 7},
		{Name: "Silver", MinHours: 25, MovieLimit: 10, MovieDays: 7, TVLimit: 5, TVDays: 7},
		{Name: "Gold", MinHours: 50, MovieLimit: 20, MovieDays: 7, TVLimit: 10, TVDays: 7},
	}
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig holds HTTP surface protection settings.
type SecurityConfig struct {
	// AdminToken grants full access to the admin routes.
	AdminToken string `koanf:"admin_token"`

	// ViewerToken grants read-only access to the admin routes. The routes
	// are disabled when neither token is set.
	ViewerToken string `koanf:"viewer_token"`

	// PolicyPath replaces the built-in admin RBAC policy with a Casbin CSV
	// file.
	PolicyPath string `koanf:"policy_path"`

	// TokenEncryptionKey is a base64 master key for refresh token encryption at rest.
	TokenEncryptionKey string `koanf:"token_encryption_key"`

	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// StateStoreConfig configures the badger OAuth state store.
type StateStoreConfig struct {
	Path string        `koanf:"path"`
	TTL  time.Duration `koanf:"ttl"`
}

// NATSConfig configures optional forwarding of lifecycle events to NATS JetStream.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
