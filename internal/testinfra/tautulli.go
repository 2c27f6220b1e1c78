// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tomtom215/plexcord/internal/config"
)

const (
	// DefaultTautulliImage is the linuxserver.io Tautulli build.
	DefaultTautulliImage = "lscr.io/linuxserver/tautulli:latest"

	// DefaultTautulliPort is Tautulli's web and API port.
	DefaultTautulliPort = "8181"

	// DefaultAPIKey must be 32 hex characters; Tautulli rejects other shapes.
	DefaultAPIKey = "0123456789abcdef0123456789abcdef"
)

// TautulliContainer is a running Tautulli instance with a known API key.
type TautulliContainer struct {
	testcontainers.Container
	URL    string
	APIKey string
}

// TautulliOption configures NewTautulliContainer.
type TautulliOption func(*tautulliConfig)

type tautulliConfig struct {
	image        string
	apiKey       string
	startTimeout time.Duration
}

// WithTautulliImage overrides the image.
func WithTautulliImage(image string) TautulliOption {
	return func(c *tautulliConfig) { c.image = image }
}

// WithAPIKey overrides the API key written into config.ini.
func WithAPIKey(apiKey string) TautulliOption {
	return func(c *tautulliConfig) { c.apiKey = apiKey }
}

// WithStartTimeout bounds how long to wait for the web port.
func WithStartTimeout(timeout time.Duration) TautulliOption {
	return func(c *tautulliConfig) { c.startTimeout = timeout }
}

// NewTautulliContainer starts Tautulli and installs the API key.
func NewTautulliContainer(ctx context.Context, opts ...TautulliOption) (*TautulliContainer, error) {
	cfg := &tautulliConfig{
		image:        DefaultTautulliImage,
		apiKey:       DefaultAPIKey,
		startTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.image,
		ExposedPorts: []string{DefaultTautulliPort + "/tcp"},
		Env: map[string]string{
			"PUID": "1000",
			"PGID": "1000",
			"TZ":   "UTC",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(DefaultTautulliPort+"/tcp"),
			wait.ForHTTP("/").WithPort(DefaultTautulliPort+"/tcp"),
		).WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create tautulli container: %w", err)
	}

	if err := configureAPIKey(ctx, container, cfg.apiKey); err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("configure API key: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, DefaultTautulliPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	return &TautulliContainer{
		Container: container,
		URL:       fmt.Sprintf("http://%s:%s", host, port.Port()),
		APIKey:    cfg.apiKey,
	}, nil
}

// Config returns a TautulliConfig pointing at the container.
func (c *TautulliContainer) Config() *config.TautulliConfig {
	return &config.TautulliConfig{
		URL:     c.URL,
		APIKey:  c.APIKey,
		Timeout: 10 * time.Second,
	}
}

// configureAPIKey rewrites api_key in /config/config.ini and restarts the
// Tautulli process; s6 brings it back up.
func configureAPIKey(ctx context.Context, container testcontainers.Container, apiKey string) error {
	code, _, err := container.Exec(ctx, []string{"test", "-f", "/config/config.ini"})
	if err != nil || code != 0 {
		ini := fmt.Sprintf("[General]\napi_key = %s\nfirst_run_complete = 1\n", apiKey)
		if err := container.CopyToContainer(ctx, []byte(ini), "/config/config.ini", 0o644); err != nil {
			return fmt.Errorf("create config.ini: %w", err)
		}
		return nil
	}

	sedCmd := fmt.Sprintf("sed -i 's/^api_key = .*/api_key = %s/' /config/config.ini", apiKey)
	code, output, err := container.Exec(ctx, []string{"sh", "-c", sedCmd})
	if err != nil {
		return fmt.Errorf("exec sed: %w", err)
	}
	if code != 0 {
		msg, _ := io.ReadAll(output)
		return fmt.Errorf("sed failed with code %d: %s", code, msg)
	}

	// pkill exits 1 when nothing matched; either is fine.
	if _, _, err := container.Exec(ctx, []string{"pkill", "-f", "Tautulli.py"}); err != nil {
		return fmt.Errorf("exec pkill: %w", err)
	}

	for i := 0; i < 30; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
		code, _, err = container.Exec(ctx, []string{"curl", "-sf", "http://localhost:" + DefaultTautulliPort + "/"})
		if err == nil && code == 0 {
			return nil
		}
	}
	return fmt.Errorf("tautulli did not restart within 30 seconds")
}
