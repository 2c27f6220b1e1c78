// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/models"
	"github.com/tomtom215/plexcord/internal/models/tautulli"
)

// maxErrorBodySize limits the maximum amount of response body read for error reporting
const maxErrorBodySize = 64 * 1024

// ErrNoStatsAvailable means Tautulli returned no all-time watch row for the
// user. The identity is skipped without mutation.
var ErrNoStatsAvailable = errors.New("no watch stats available")

// ErrUserNotFound means no Tautulli user matched a lookup.
var ErrUserNotFound = errors.New("tautulli user not found")

// ErrRateLimited means Tautulli kept answering HTTP 429. The caller skips the
// item and the next pass tries again.
var ErrRateLimited = errors.New("tautulli rate limit exceeded")

// maxRetryDelay caps the wait before a 429 retry, including Retry-After.
const maxRetryDelay = 5 * time.Second

// readBodyForError reads the response body for error reporting (max 64KB)
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// TautulliAPI is the watch-stats provider.
type TautulliAPI interface {
	Ping(ctx context.Context) error
	GetUsers(ctx context.Context) (*tautulli.TautulliUsers, error)
	GetUserWatchTimeStats(ctx context.Context, userID string, queryDays int) (*tautulli.TautulliUserWatchTimeStats, error)
}

// TautulliClient handles communication with the Tautulli HTTP API.
//
// An HTTP 429 fails the call with ErrRateLimited unless retries are
// configured; at most one retry is made, after the server's Retry-After or
// one second, capped at maxRetryDelay.
type TautulliClient struct {
	baseURL        string
	apiKey         string
	client         *http.Client
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewTautulliClient creates a Tautulli API client.
func NewTautulliClient(cfg *config.TautulliConfig) *TautulliClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TautulliClient{
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		apiKey:         cfg.APIKey,
		client:         &http.Client{Timeout: timeout},
		maxRetries:     min(max(cfg.MaxRetries, 0), 1),
		retryBaseDelay: 1 * time.Second,
	}
}

// doRequestWithRateLimit performs an HTTP request with automatic rate limit handling.
// The context is used for cancellation during backoff waits.
func (c *TautulliClient) doRequestWithRateLimit(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("%w after %d retries (HTTP 429)", ErrRateLimited, c.maxRetries)
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
				delay = time.Duration(seconds) * time.Second
			}
		}
		delay = min(delay, maxRetryDelay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// callTautulliAPI builds the command URL, performs the request, decodes the
// JSON envelope and checks response.result.
func callTautulliAPI[T any](ctx context.Context, c *TautulliClient, cmd string, params url.Values, result func(*T) (string, *string)) (*T, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)
	params.Set("cmd", cmd)

	reqURL := fmt.Sprintf("%s/api/v2?%s", c.baseURL, params.Encode())

	resp, err := c.doRequestWithRateLimit(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to make %s request: %w", cmd, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return nil, fmt.Errorf("%s request failed with status %d: %s", cmd, resp.StatusCode, string(body))
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", cmd, err)
	}

	if status, message := result(&out); status != "success" {
		msg := "unknown error"
		if message != nil {
			msg = *message
		}
		return nil, fmt.Errorf("tautulli %s failed: %s", cmd, msg)
	}
	return &out, nil
}

// Ping checks connectivity and the API key.
func (c *TautulliClient) Ping(ctx context.Context) error {
	_, err := callTautulliAPI(ctx, c, "arnold", nil, func(r *tautulli.TautulliServerStatus) (string, *string) {
		return r.Response.Result, r.Response.Message
	})
	return err
}

// GetUsers lists every Plex user Tautulli knows about.
func (c *TautulliClient) GetUsers(ctx context.Context) (*tautulli.TautulliUsers, error) {
	return callTautulliAPI(ctx, c, "get_users", nil, func(r *tautulli.TautulliUsers) (string, *string) {
		return r.Response.Result, r.Response.Message
	})
}

// GetUserWatchTimeStats returns aggregate watch time grouped by title. A
// queryDays of 0 is the all-time window.
func (c *TautulliClient) GetUserWatchTimeStats(ctx context.Context, userID string, queryDays int) (*tautulli.TautulliUserWatchTimeStats, error) {
	params := url.Values{}
	params.Set("user_id", userID)
	params.Set("grouping", "1")
	params.Set("query_days", strconv.Itoa(queryDays))

	return callTautulliAPI(ctx, c, "get_user_watch_time_stats", params, func(r *tautulli.TautulliUserWatchTimeStats) (string, *string) {
		return r.Response.Result, r.Response.Message
	})
}

// WatchedTime returns the all-time total watch time in seconds, or
// ErrNoStatsAvailable.
func WatchedTime(ctx context.Context, api TautulliAPI, plexUserID string) (int64, error) {
	stats, err := api.GetUserWatchTimeStats(ctx, plexUserID, 0)
	if err != nil {
		return 0, err
	}
	row, ok := stats.Response.AllTime()
	if !ok {
		return 0, fmt.Errorf("user %s: %w", plexUserID, ErrNoStatsAvailable)
	}
	return row.TotalTime, nil
}

// invalidator is implemented by TautulliAPI decorators that cache the user
// list.
type invalidator interface {
	Invalidate()
}

// FindUserByUsername resolves a Plex username (or friendly name) to a
// Tautulli user, case-insensitively. Deleted users are ignored. A miss
// against a cached user list refetches once.
func FindUserByUsername(ctx context.Context, api TautulliAPI, username string) (*tautulli.TautulliUserData, error) {
	user, err := findUser(ctx, api, username)
	if errors.Is(err, ErrUserNotFound) {
		if inv, ok := api.(invalidator); ok {
			inv.Invalidate()
			return findUser(ctx, api, username)
		}
	}
	return user, err
}

func findUser(ctx context.Context, api TautulliAPI, username string) (*tautulli.TautulliUserData, error) {
	users, err := api.GetUsers(ctx)
	if err != nil {
		return nil, err
	}
	var friendly *tautulli.TautulliUserData
	for i := range users.Response.Data {
		u := &users.Response.Data[i]
		if u.DeletedUser != 0 {
			continue
		}
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
		if friendly == nil && strings.EqualFold(u.FriendlyName, username) {
			friendly = u
		}
	}
	if friendly != nil {
		return friendly, nil
	}
	return nil, fmt.Errorf("%q: %w", username, ErrUserNotFound)
}

// WatchStats adapts a TautulliAPI to the watched-hours lookups used by the
// sync and quota passes.
type WatchStats struct {
	API TautulliAPI
}

// WatchedHours returns all-time watched hours, truncated.
func (w WatchStats) WatchedHours(ctx context.Context, plexUserID string) (int, error) {
	seconds, err := WatchedTime(ctx, w.API, plexUserID)
	if err != nil {
		return 0, err
	}
	return models.WatchedHours(seconds), nil
}
