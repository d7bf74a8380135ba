package store

import (
	"context"
	"time"

	"github.com/wfplatform/chat-service/internal/types"
)

// Repository is the single source of truth for channels, memberships,
// messages, reactions and attachments. Implementations classify failures
// with errs kinds: NotFound for absent rows, Transient for store
// unavailability.
type Repository interface {
	Ping(ctx context.Context) error

	CreateChannel(ctx context.Context, params CreateChannelParams) (types.Channel, error)
	GetChannelById(ctx context.Context, id int64) (types.Channel, error)
	GetChannelByExternalId(ctx context.Context, externalId string) (types.Channel, error)
	// EnsureDirectChannel returns the direct channel for the unordered
	// user pair, creating the channel and both memberships atomically on
	// first use. The second return reports whether it was created.
	EnsureDirectChannel(ctx context.Context, userA, userB int64) (types.Channel, bool, error)

	GetMembership(ctx context.Context, channelId, userId int64) (types.Membership, error)
	ListChannelsForUser(ctx context.Context, userId int64) ([]types.ChannelSummary, error)
	ListMemberUserIds(ctx context.Context, channelId int64) ([]int64, error)
	// ListCoMemberUserIds returns the distinct users sharing at least one
	// channel with userId, excluding userId itself. Drives presence fan-out.
	ListCoMemberUserIds(ctx context.Context, userId int64) ([]int64, error)
	UpdateLastReadAt(ctx context.Context, channelId, userId int64, readAt time.Time) error

	// CreateMessage persists a message with a server-assigned id and a
	// created_at that is strictly non-decreasing within the channel.
	CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error)
	GetMessageById(ctx context.Context, id int64) (types.Message, error)
	UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) (types.Message, error)
	// SoftDeleteMessage clears content, sets the deleted flag and removes
	// attachments in the same transaction.
	SoftDeleteMessage(ctx context.Context, id int64, deletedAt time.Time) error
	// GetMessages returns messages ordered by (created_at, id) descending,
	// strictly before the (beforeTs, beforeId) cursor position when set.
	GetMessages(ctx context.Context, channelId int64, beforeTs time.Time, beforeId int64, limit int) ([]types.Message, error)

	UpsertReaction(ctx context.Context, messageId, userId int64, kind string) (types.Reaction, error)
	DeleteReaction(ctx context.Context, messageId, userId int64) (bool, error)
	// ListReactions returns the reactions on any of the given messages in
	// one round trip, ordered by message then update time.
	ListReactions(ctx context.Context, messageIds []int64) ([]types.Reaction, error)
}

type CreateChannelParams struct {
	Name       string
	ExternalId string
	Type       types.ChannelType
	Private    bool
	CreatorId  int64
}

type CreateMessageParams struct {
	ChannelId   int64
	SenderId    int64
	Type        types.MessageType
	Content     string
	ParentId    int64
	Attachments []types.Attachment
}
