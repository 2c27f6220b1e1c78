// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package events carries lifecycle events from the token and sync engines to
// the audit log and, optionally, to NATS JetStream.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/metrics"
	"github.com/tomtom215/plexcord/internal/models"
)

// Topic is the in-process and NATS topic for lifecycle events.
const Topic = "plexcord_lifecycle"

// Publisher accepts lifecycle events. Implementations never block on a slow
// consumer for longer than the publish itself.
type Publisher interface {
	Publish(ctx context.Context, event *models.LifecycleEvent) error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, *models.LifecycleEvent) error { return nil }

// Bus is the in-process event bus. Every event goes to the gochannel pubsub
// and, when configured, to a forward publisher.
type Bus struct {
	pubsub  *gochannel.GoChannel
	forward message.Publisher
	logger  watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// NewBus creates a bus logging through the global logger.
func NewBus() *Bus {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger),
		logger: logger,
		now:    time.Now,
	}
}

// SetForward adds a publisher that receives a copy of every event.
func (b *Bus) SetForward(p message.Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forward = p
}

// Subscribe returns the in-process stream of lifecycle event messages.
// Messages must be acked.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

// Publish fills in ID and OccurredAt when empty and fans the event out.
// A forward failure is logged; only an in-process failure is returned.
func (b *Bus) Publish(ctx context.Context, event *models.LifecycleEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.now().UTC()
	}

	msg, err := newMessage(event)
	if err != nil {
		return err
	}

	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	metrics.RecordEventPublished("bus")

	if b.forward != nil {
		fwd, err := newMessage(event)
		if err == nil {
			err = b.forward.Publish(Topic, fwd)
		}
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to forward lifecycle event")
		} else {
			metrics.RecordEventPublished("nats")
		}
	}
	return nil
}

// Close shuts down the bus and the forward publisher.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	if b.forward != nil {
		if err := b.forward.Close(); err != nil {
			firstErr = fmt.Errorf("close forward publisher: %w", err)
		}
	}
	if err := b.pubsub.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close bus: %w", err)
	}
	return firstErr
}

func newMessage(event *models.LifecycleEvent) (*message.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}
	msg := message.NewMessage(event.ID, data)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("discord_user_id", event.DiscordUserID)
	return msg, nil
}

// Decode parses a lifecycle event message.
func Decode(msg *message.Message) (*models.LifecycleEvent, error) {
	var event models.LifecycleEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	return &event, nil
}
