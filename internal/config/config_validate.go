// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/plexcord/internal/validation"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "console": true,
}

// Validate checks required fields and policy consistency.
func (c *Config) Validate() error {
	if err := c.validateDiscord(); err != nil {
		return err
	}
	if err := c.validateTautulli(); err != nil {
		return err
	}
	if err := c.validateOverseerr(); err != nil {
		return err
	}
	if err := c.validateTokens(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateQuota(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDiscord() error {
	if c.Discord.ClientID == "" {
		return fmt.Errorf("DISCORD_CLIENT_ID is required")
	}
	if c.Discord.ClientSecret == "" {
		return fmt.Errorf("DISCORD_CLIENT_SECRET is required")
	}
	if containsPlaceholder(c.Discord.ClientSecret) {
		return fmt.Errorf("DISCORD_CLIENT_SECRET contains a placeholder value")
	}
	if c.Discord.RedirectURI == "" {
		return fmt.Errorf("DISCORD_REDIRECT_URI is required")
	}
	if !strings.HasPrefix(c.Discord.RedirectURI, "http://") && !strings.HasPrefix(c.Discord.RedirectURI, "https://") {
		return fmt.Errorf("DISCORD_REDIRECT_URI must be an http or https URL")
	}
	if c.Discord.RequestsPerSecond < 0 {
		return fmt.Errorf("DISCORD_REQUESTS_PER_SECOND must be >= 0")
	}
	return nil
}

func (c *Config) validateTautulli() error {
	if c.Tautulli.URL == "" {
		return fmt.Errorf("TAUTULLI_URL is required")
	}
	if err := validateHTTPURL(c.Tautulli.URL, "TAUTULLI_URL"); err != nil {
		return fmt.Errorf("TAUTULLI_URL is invalid: %w", err)
	}
	if c.Tautulli.APIKey == "" {
		return fmt.Errorf("TAUTULLI_API_KEY is required")
	}
	if c.Tautulli.MaxRetries < 0 || c.Tautulli.MaxRetries > 1 {
		return fmt.Errorf("TAUTULLI_MAX_RETRIES must be 0 or 1, got %d", c.Tautulli.MaxRetries)
	}
	return nil
}

func (c *Config) validateOverseerr() error {
	if !c.Overseerr.Enabled {
		return nil
	}
	if c.Overseerr.URL == "" {
		return fmt.Errorf("OVERSEERR_URL is required when OVERSEERR_ENABLED=true")
	}
	if err := validateHTTPURL(c.Overseerr.URL, "OVERSEERR_URL"); err != nil {
		return fmt.Errorf("OVERSEERR_URL is invalid: %w", err)
	}
	if c.Overseerr.APIKey == "" {
		return fmt.Errorf("OVERSEERR_API_KEY is required when OVERSEERR_ENABLED=true")
	}
	return nil
}

func (c *Config) validateTokens() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"TOKEN_REFRESH_WINDOW", c.Tokens.RefreshWindow},
		{"TOKEN_FIRST_ISSUE_LIFETIME", c.Tokens.FirstIssueLifetime},
		{"TOKEN_REFRESH_LIFETIME", c.Tokens.RefreshLifetime},
		{"TOKEN_RETENTION", c.Tokens.Retention},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.value)
		}
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1m, got %v", c.Sync.Interval)
	}
	if c.Sync.StalenessThreshold < 0 {
		return fmt.Errorf("SYNC_STALENESS_THRESHOLD must be >= 0")
	}
	return nil
}

func (c *Config) validateQuota() error {
	seen := make(map[string]bool, len(c.Quota.Tiers))
	for i := range c.Quota.Tiers {
		tier := &c.Quota.Tiers[i]
		if err := validation.ValidateStruct(tier); err != nil {
			return fmt.Errorf("quota tier %d: %w", i, err)
		}
		if seen[tier.Name] {
			return fmt.Errorf("quota tier %q is defined more than once", tier.Name)
		}
		seen[tier.Name] = true
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.Security.AdminToken != "" && len(c.Security.AdminToken) < 16 {
		return fmt.Errorf("ADMIN_TOKEN must be at least 16 characters")
	}
	if c.Security.ViewerToken != "" && len(c.Security.ViewerToken) < 16 {
		return fmt.Errorf("VIEWER_TOKEN must be at least 16 characters")
	}
	if c.Security.ViewerToken != "" && c.Security.ViewerToken == c.Security.AdminToken {
		return fmt.Errorf("VIEWER_TOKEN must differ from ADMIN_TOKEN")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, p := range placeholderPatterns {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}
