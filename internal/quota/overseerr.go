// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package quota

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/plexcord/internal/breaker"
	"github.com/tomtom215/plexcord/internal/config"
)

// maxErrorBodySize limits the maximum amount of response body read for error reporting
const maxErrorBodySize = 64 * 1024

const usersPageSize = 50

// OverseerrUser is the subset of an Overseerr user record used for quota
// matching.
type OverseerrUser struct {
	ID              int    `json:"id"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	PlexUsername    string `json:"plexUsername"`
	DisplayName     string `json:"displayName"`
	MovieQuotaLimit *int   `json:"movieQuotaLimit"`
	MovieQuotaDays  *int   `json:"movieQuotaDays"`
	TVQuotaLimit    *int   `json:"tvQuotaLimit"`
	TVQuotaDays     *int   `json:"tvQuotaDays"`
}

// Matches reports whether the Overseerr user belongs to the Plex username.
func (u *OverseerrUser) Matches(plexUsername string) bool {
	if u.PlexUsername != "" {
		return strings.EqualFold(u.PlexUsername, plexUsername)
	}
	return strings.EqualFold(u.Username, plexUsername)
}

// HasQuota reports whether the user's current quota already equals q.
func (u *OverseerrUser) HasQuota(q Quota) bool {
	eq := func(p *int, v int) bool { return p != nil && *p == v }
	return eq(u.MovieQuotaLimit, q.MovieQuotaLimit) &&
		eq(u.MovieQuotaDays, q.MovieQuotaDays) &&
		eq(u.TVQuotaLimit, q.TVQuotaLimit) &&
		eq(u.TVQuotaDays, q.TVQuotaDays)
}

// Quota is the request allowance written to an Overseerr user.
type Quota struct {
	MovieQuotaLimit int `json:"movieQuotaLimit"`
	MovieQuotaDays  int `json:"movieQuotaDays"`
	TVQuotaLimit    int `json:"tvQuotaLimit"`
	TVQuotaDays     int `json:"tvQuotaDays"`
}

// QuotaFor returns the quota of a tier.
func QuotaFor(t Tier) Quota {
	return Quota{
		MovieQuotaLimit: t.MovieLimit,
		MovieQuotaDays:  t.MovieDays,
		TVQuotaLimit:    t.TVLimit,
		TVQuotaDays:     t.TVDays,
	}
}

type usersPage struct {
	PageInfo struct {
		Pages   int `json:"pages"`
		Page    int `json:"page"`
		Results int `json:"results"`
	} `json:"pageInfo"`
	Results []OverseerrUser `json:"results"`
}

// OverseerrClient talks to the Overseerr v1 API through a circuit breaker.
type OverseerrClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *breaker.Breaker
}

// NewOverseerrClient creates a client from configuration.
func NewOverseerrClient(cfg *config.OverseerrConfig) *OverseerrClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OverseerrClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker.New("overseerr-api"),
	}
}

// ListUsers pages through every Overseerr user.
func (c *OverseerrClient) ListUsers(ctx context.Context) ([]OverseerrUser, error) {
	var users []OverseerrUser
	for skip := 0; ; skip += usersPageSize {
		q := url.Values{}
		q.Set("take", strconv.Itoa(usersPageSize))
		q.Set("skip", strconv.Itoa(skip))

		page, err := breaker.Call(c.breaker, func() (*usersPage, error) {
			var page usersPage
			if err := c.do(ctx, http.MethodGet, "/api/v1/user?"+q.Encode(), nil, &page); err != nil {
				return nil, err
			}
			return &page, nil
		})
		if err != nil {
			return nil, fmt.Errorf("list overseerr users: %w", err)
		}

		users = append(users, page.Results...)
		if len(page.Results) < usersPageSize || len(users) >= page.PageInfo.Results {
			return users, nil
		}
	}
}

// UpdateQuota writes q to the user's main settings.
func (c *OverseerrClient) UpdateQuota(ctx context.Context, userID int, q Quota) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/user/%d/settings/main", userID), q, nil)
	})
	if err != nil {
		return fmt.Errorf("update overseerr quota for user %d: %w", userID, err)
	}
	return nil
}

func (c *OverseerrClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(errBody))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
