package types

import "time"

// Event types pushed to connected clients and exported to the platform
// event stream.
const (
	EventMessageCreated  = "messageCreated"
	EventMessageUpdated  = "messageUpdated"
	EventMessageDeleted  = "messageDeleted"
	EventReactionChanged = "reactionChanged"
	EventReactionRemoved = "reactionRemoved"
	EventPresenceChanged = "presenceChanged"
	EventTyping          = "typing"
	EventMessagesRead    = "messagesRead"
)

type TypingEvent struct {
	ChannelId int64 `json:"channel_id"`
	UserId    int64 `json:"user_id"`
	IsTyping  bool  `json:"is_typing"`
}

type ReadEvent struct {
	ChannelId int64     `json:"channel_id"`
	UserId    int64     `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// Event is the tagged union fanned out to subscribed connections.
// Exactly one payload field is set, matching Type.
type Event struct {
	Type      string       `json:"type"`
	ChannelId int64        `json:"channel_id"`
	MessageId int64        `json:"message_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Message   *Message     `json:"message,omitempty"`
	Reaction  *Reaction    `json:"reaction,omitempty"`
	Presence  *Presence    `json:"presence,omitempty"`
	Typing    *TypingEvent `json:"typing,omitempty"`
	Read      *ReadEvent   `json:"read,omitempty"`
}
