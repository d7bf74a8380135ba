package pipeline

import (
	"context"
	"time"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/types"
)

// PostDirect sends a direct message, lazily creating the direct channel
// for the pair on first contact. Channel plus both memberships are
// created atomically, exactly once per unordered pair. The content is
// checked first; a rejected message must not leave a channel behind.
func (p *Pipeline) PostDirect(ctx context.Context, senderId, recipientId int64, input PostInput) (types.Message, error) {
	if err := p.ValidatePost(input); err != nil {
		return types.Message{}, err
	}

	channel, err := p.EnsureDirect(ctx, senderId, recipientId)
	if err != nil {
		return types.Message{}, err
	}
	return p.PostMessage(ctx, channel.Id, senderId, input)
}

// EnsureDirect resolves the direct channel for a pair of users,
// creating it on first contact.
func (p *Pipeline) EnsureDirect(ctx context.Context, userA, userB int64) (types.Channel, error) {
	if userA == userB {
		return types.Channel{}, errs.New(errs.KindInvalidContent, "cannot message yourself")
	}

	channel, created, err := p.db.EnsureDirectChannel(ctx, userA, userB)
	if err != nil {
		return types.Channel{}, err
	}
	if created {
		p.log.Infow("created direct channel", "channel_id", channel.Id, "users", []int64{userA, userB})
	}
	return channel, nil
}

// MarkRead records the caller's read position and tells the other
// members' connections. The read event itself is never persisted.
func (p *Pipeline) MarkRead(ctx context.Context, channelId, userId int64) error {
	if _, err := p.requireMembership(ctx, channelId, userId); err != nil {
		return err
	}

	readAt := time.Now().UTC()
	if err := p.db.UpdateLastReadAt(ctx, channelId, userId, readAt); err != nil {
		return err
	}

	evt := &types.Event{
		Type:      types.EventMessagesRead,
		ChannelId: channelId,
		Timestamp: readAt,
		Read: &types.ReadEvent{
			ChannelId: channelId,
			UserId:    userId,
			ReadAt:    readAt,
		},
	}
	p.hub.Broadcast(channelId, evt)
	p.notifyOtherMembers(ctx, channelId, userId, evt)

	return nil
}
