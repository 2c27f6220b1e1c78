// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newCapturedSlog(buf *bytes.Buffer) *slog.Logger {
	SetLogger(NewTestLogger(buf))
	return NewSlogLogger()
}

func TestSlogHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newCapturedSlog(&buf)
	t.Cleanup(func() { Init(DefaultConfig()) })

	logger.Warn("service restarting", "service", "subscriber-sync")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level, got: %s", out)
	}
	if !strings.Contains(out, `"service":"subscriber-sync"`) {
		t.Errorf("expected service attr, got: %s", out)
	}
}

func TestSlogHandlerAttrKinds(t *testing.T) {
	var buf bytes.Buffer
	logger := newCapturedSlog(&buf)
	t.Cleanup(func() { Init(DefaultConfig()) })

	logger.Info("kinds",
		"count", 3,
		"ok", true,
		"ratio", 0.5,
		"wait", 2*time.Second,
		"err", errors.New("boom"),
	)

	out := buf.String()
	for _, want := range []string{`"count":3`, `"ok":true`, `"ratio":0.5`, `"err":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestSlogHandlerGroupsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newCapturedSlog(&buf)
	t.Cleanup(func() { Init(DefaultConfig()) })

	logger.With("layer", "messaging").WithGroup("svc").Info("started", "name", "scheduler")

	out := buf.String()
	if !strings.Contains(out, `"svc.layer":"messaging"`) && !strings.Contains(out, `"layer":"messaging"`) {
		t.Errorf("expected layer attr, got: %s", out)
	}
	if !strings.Contains(out, `"svc.name":"scheduler"`) {
		t.Errorf("expected grouped name attr, got: %s", out)
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "error", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	h := NewSlogHandler()
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at error level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at error level")
	}
}
