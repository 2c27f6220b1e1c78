// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package discord is the client for the Discord OAuth2 endpoints and the
// application role-connection API.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/plexcord/internal/config"
	"github.com/tomtom215/plexcord/internal/metrics"
)

// Scopes requested during the link flow.
var Scopes = []string{"identify", "role_connections.write"}

// maxErrorBodySize limits the maximum amount of response body read for error reporting
const maxErrorBodySize = 64 * 1024

// Client talks to Discord on behalf of one application.
type Client struct {
	oauth         *oauth2.Config
	httpClient    *http.Client
	limiter       *rate.Limiter
	apiBaseURL    string
	applicationID string
	botToken      string
	platformName  string
}

// NewClient builds a client from configuration. A RequestsPerSecond of zero
// disables pacing.
func NewClient(cfg *config.DiscordConfig) *Client {
	apiBase := strings.TrimRight(cfg.APIBaseURL, "/")

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  apiBase + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		limiter:       rate.NewLimiter(limit, burst),
		apiBaseURL:    apiBase,
		applicationID: cfg.AppID(),
		botToken:      cfg.BotToken,
		platformName:  cfg.PlatformName,
	}
}

// PlatformName is the name shown on the role connection.
func (c *Client) PlatformName() string {
	return c.platformName
}

// wait blocks until the limiter admits one request.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

// doJSON sends a request with an optional JSON body and decodes a JSON
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, op, method, path, authorization string, body, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUpstreamAuth, op, err)
	}
	return nil
}

// statusError maps a non-2xx response to an APIError.
func statusError(op string, resp *http.Response) error {
	body := readBodyForError(resp.Body)
	kind := ErrUpstreamAuth
	if resp.StatusCode == http.StatusTooManyRequests {
		kind = ErrRateLimited
		metrics.DiscordRateLimited.Inc()
	}

	apiErr := &APIError{
		Operation:  op,
		StatusCode: resp.StatusCode,
		Body:       string(body),
		kind:       kind,
	}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		apiErr.Code = payload.Error
		if payload.Error == "invalid_grant" {
			apiErr.kind = ErrInvalidGrant
		}
	}
	return apiErr
}

// readBodyForError reads at most maxErrorBodySize bytes of a response body.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}

// classifyOAuthError maps an error returned by x/oauth2 to a sentinel.
func classifyOAuthError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		statusCode := 0
		if retrieveErr.Response != nil {
			statusCode = retrieveErr.Response.StatusCode
		}
		kind := ErrUpstreamAuth
		switch {
		case retrieveErr.ErrorCode == "invalid_grant":
			kind = ErrInvalidGrant
		case statusCode == http.StatusTooManyRequests:
			kind = ErrRateLimited
			metrics.DiscordRateLimited.Inc()
		}
		return &APIError{
			Operation:  op,
			StatusCode: statusCode,
			Code:       retrieveErr.ErrorCode,
			Body:       string(retrieveErr.Body),
			kind:       kind,
		}
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUpstreamAuth, op, err)
}
