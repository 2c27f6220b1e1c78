// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/plexcord/internal/logging"
	"github.com/tomtom215/plexcord/internal/models"
)

// AuditStore persists lifecycle events.
type AuditStore interface {
	InsertLifecycleEvent(ctx context.Context, event *models.LifecycleEvent) error
}

// AuditConsumer writes every bus event to the audit log. It subscribes at
// construction so events published before Serve starts are not lost.
type AuditConsumer struct {
	store    AuditStore
	messages <-chan *message.Message
}

// NewAuditConsumer subscribes to the bus.
func NewAuditConsumer(bus *Bus, store AuditStore) (*AuditConsumer, error) {
	messages, err := bus.Subscribe(context.Background())
	if err != nil {
		return nil, fmt.Errorf("subscribe audit consumer: %w", err)
	}
	return &AuditConsumer{store: store, messages: messages}, nil
}

// Serve consumes until ctx is done or the bus closes. It implements
// suture.Service.
func (c *AuditConsumer) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.messages:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

// handle always acks. gochannel redelivers nacked messages immediately, so a
// store outage would otherwise spin.
func (c *AuditConsumer) handle(ctx context.Context, msg *message.Message) {
	event, err := Decode(msg)
	if err != nil {
		logging.Error().Err(err).Msg("Dropping malformed lifecycle event")
		msg.Ack()
		return
	}

	if err := c.store.InsertLifecycleEvent(context.WithoutCancel(ctx), event); err != nil {
		logging.Error().Err(err).
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("Failed to persist lifecycle event")
	}
	msg.Ack()
}

// String names the service in supervisor logs.
func (c *AuditConsumer) String() string {
	return "audit-consumer"
}
