package types

import (
	"time"
)

type ChannelType string

const (
	ChannelGeneral      ChannelType = "general"
	ChannelDirect       ChannelType = "direct"
	ChannelGroup        ChannelType = "group"
	ChannelDepartment   ChannelType = "department"
	ChannelAnnouncement ChannelType = "announcement"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

type MemberRole string

const (
	RoleAdmin     MemberRole = "admin"
	RoleModerator MemberRole = "moderator"
	RoleMember    MemberRole = "member"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

type Channel struct {
	Id         int64       `json:"id"`
	ExternalId string      `json:"external_id"`
	Name       string      `json:"name"`
	Type       ChannelType `json:"type"`
	Private    bool        `json:"private"`
	Archived   bool        `json:"archived"`
	CreatorId  int64       `json:"creator_id"`
	CreatedAt  time.Time   `json:"created_at,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at,omitempty"`
}

type Membership struct {
	ChannelId  int64      `json:"channel_id"`
	UserId     int64      `json:"user_id"`
	Role       MemberRole `json:"role"`
	JoinedAt   time.Time  `json:"joined_at,omitempty"`
	LastReadAt time.Time  `json:"last_read_at,omitempty"`
	Active     bool       `json:"active"`
}

type Message struct {
	Id          int64        `json:"id"`
	ChannelId   int64        `json:"channel_id"`
	SenderId    int64        `json:"sender_id"`
	Type        MessageType  `json:"type"`
	Content     string       `json:"content"`
	ParentId    int64        `json:"parent_id,omitempty"`
	Edited      bool         `json:"edited,omitempty"`
	EditedAt    time.Time    `json:"edited_at,omitempty"`
	Deleted     bool         `json:"deleted,omitempty"`
	DeletedAt   time.Time    `json:"deleted_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
}

type Reaction struct {
	MessageId int64     `json:"message_id"`
	UserId    int64     `json:"user_id"`
	Kind      string    `json:"kind"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Attachment struct {
	Id         int64  `json:"id,omitempty"`
	MessageId  int64  `json:"message_id,omitempty"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mime_type"`
	StorageKey string `json:"storage_key"`
}

type Presence struct {
	UserId    int64          `json:"user_id"`
	Status    PresenceStatus `json:"status"`
	Note      string         `json:"note,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ChannelSummary is a channel joined with the caller's membership,
// used by the channel listing endpoint to drive unread badges.
type ChannelSummary struct {
	Channel
	Role          MemberRole `json:"role"`
	LastReadAt    time.Time  `json:"last_read_at,omitempty"`
	LastMessageAt time.Time  `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
}
