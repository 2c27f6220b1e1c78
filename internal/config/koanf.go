// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/plexcord/config.yaml",
	"/etc/plexcord/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			APIBaseURL:        "https://discord.com/api/v10",
			AuthorizeURL:      "https://discord.com/oauth2/authorize",
			PlatformName:      "Plex",
			RequestsPerSecond: 5,
			Timeout:           15 * time.Second,
		},
		Tautulli: TautulliConfig{
			Timeout:      30 * time.Second,
			UserCacheTTL: 5 * time.Minute,
			MaxRetries:   0,
		},
		Overseerr: OverseerrConfig{
			Enabled: false,
			Timeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/plexcord.duckdb",
			MaxMemory: "512MB",
			Threads:   0,
		},
		Tokens: TokensConfig{
			RefreshWindow:      72 * time.Hour,
			FirstIssueLifetime: 7 * 24 * time.Hour,
			RefreshLifetime:    3 * 24 * time.Hour,
			Retention:          30 * 24 * time.Hour,
		},
		Sync: SyncConfig{
			Interval:           time.Hour,
			StalenessThreshold: 24 * time.Hour,
			RunOnStart:         true,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			RateLimitRequests: 20,
			RateLimitWindow:   time.Minute,
		},
		StateStore: StateStoreConfig{
			Path: "/data/state",
			TTL:  10 * time.Minute,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			MaxReconnects: 10,
			ReconnectWait: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf layers defaults, the config file and environment variables,
// then validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// DISCORD_CLIENT_ID -> discord.client_id
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// normalize fills derived values the providers cannot express.
func (c *Config) normalize() {
	if len(c.Quota.Tiers) == 0 {
		c.Quota.Tiers = DefaultTiers()
	}
	sort.SliceStable(c.Quota.Tiers, func(i, j int) bool {
		return c.Quota.Tiers[i].MinHours < c.Quota.Tiers[j].MinHours
	})
	c.Discord.APIBaseURL = strings.TrimRight(c.Discord.APIBaseURL, "/")
	c.Tautulli.URL = strings.TrimRight(c.Tautulli.URL, "/")
	c.Overseerr.URL = strings.TrimRight(c.Overseerr.URL, "/")
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps lowercased environment variable names to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"discord_client_id":           "discord.client_id",
	"discord_client_secret":       "discord.client_secret",
	"discord_redirect_uri":        "discord.redirect_uri",
	"discord_application_id":      "discord.application_id",
	"discord_bot_token":           "discord.bot_token",
	"discord_api_base_url":        "discord.api_base_url",
	"discord_authorize_url":       "discord.authorize_url",
	"discord_platform_name":       "discord.platform_name",
	"discord_requests_per_second": "discord.requests_per_second",
	"discord_timeout":             "discord.timeout",

	"tautulli_url":            "tautulli.url",
	"tautulli_api_key":        "tautulli.api_key",
	"tautulli_timeout":        "tautulli.timeout",
	"tautulli_user_cache_ttl": "tautulli.user_cache_ttl",
	"tautulli_max_retries":    "tautulli.max_retries",

	"overseerr_enabled": "overseerr.enabled",
	"overseerr_url":     "overseerr.url",
	"overseerr_api_key": "overseerr.api_key",
	"overseerr_timeout": "overseerr.timeout",

	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"token_refresh_window":       "tokens.refresh_window",
	"token_first_issue_lifetime": "tokens.first_issue_lifetime",
	"token_refresh_lifetime":     "tokens.refresh_lifetime",
	"token_retention":            "tokens.retention",

	"sync_interval":            "sync.interval",
	"sync_staleness_threshold": "sync.staleness_threshold",
	"sync_run_on_start":        "sync.run_on_start",

	"http_host":    "server.host",
	"http_port":    "server.port",
	"http_timeout": "server.timeout",

	"admin_token":          "security.admin_token",
	"viewer_token":         "security.viewer_token",
	"authz_policy_path":    "security.policy_path",
	"token_encryption_key": "security.token_encryption_key",
	"rate_limit_requests":  "security.rate_limit_requests",
	"rate_limit_window":    "security.rate_limit_window",

	"state_store_path": "state_store.path",
	"state_store_ttl":  "state_store.ttl",

	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_max_reconnects": "nats.max_reconnects",
	"nats_reconnect_wait": "nats.reconnect_wait",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
