// Package events exports durable messaging events to the platform event
// stream, where the notification service picks them up for offline
// delivery. Publishing is fire-and-forget from the pipeline's point of
// view: a failed publish is logged, never surfaced to the sender.
package events

import (
	"context"
	"encoding/json"
	"time"
)

type Event struct {
	Type      string    `json:"type"`
	ChannelId int64     `json:"channel_id"`
	MessageId int64     `json:"message_id,omitempty"`
	UserId    int64     `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

func marshal(evt Event) ([]byte, error) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return json.Marshal(evt)
}

// NopPublisher discards events. Used when no event stream is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
