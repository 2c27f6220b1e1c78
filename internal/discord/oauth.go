// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package discord

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tomtom215/plexcord/internal/models"
)

// TokenResponse is the result of a code exchange or refresh.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scopes       []string

	// ExpiresIn is zero when Discord omitted expires_in.
	ExpiresIn time.Duration
}

// ExpiresAt returns now+ExpiresIn, or now+fallback when Discord omitted it.
func (t *TokenResponse) ExpiresAt(now time.Time, fallback time.Duration) time.Time {
	if t.ExpiresIn <= 0 {
		return now.Add(fallback)
	}
	return now.Add(t.ExpiresIn)
}

// NewState returns an unguessable OAuth2 state value.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthorizeURL builds the consent URL the user is redirected to along with
// the fresh state embedded in it. An empty redirectURI uses the configured one.
func (c *Client) AuthorizeURL(redirectURI string) (authURL, state string, err error) {
	state, err = NewState()
	if err != nil {
		return "", "", err
	}
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("prompt", "consent")}
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	return c.oauth.AuthCodeURL(state, opts...), state, nil
}

// ExchangeCode trades an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}

	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code, opts...)
	if err != nil {
		return nil, classifyOAuthError("exchange code", err)
	}
	return newTokenResponse(tok), nil
}

// Refresh exchanges a refresh token for a new pair. When Discord does not
// rotate the refresh token the old one is carried over.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, &APIError{Operation: "refresh token", Code: "invalid_grant", Body: "empty refresh token", kind: ErrInvalidGrant}
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuthError("refresh token", err)
	}
	resp := newTokenResponse(tok)
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

// Revoke invalidates a token at Discord. Revoking either half of a pair
// invalidates both.
func (c *Client) Revoke(ctx context.Context, token string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("client_id", c.oauth.ClientID)
	form.Set("client_secret", c.oauth.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/oauth2/token/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: revoke token: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError("revoke token", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func newTokenResponse(tok *oauth2.Token) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scopes = models.SplitScopes(scope)
	}
	return resp
}
