package pipeline

import (
	"context"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/types"
)

const maxReactionKindLen = 64

// SetReaction upserts the caller's reaction on a message: a new kind
// from the same user replaces the old one, never appends.
func (p *Pipeline) SetReaction(ctx context.Context, messageId, userId int64, kind string) (types.Reaction, error) {
	if kind == "" || len(kind) > maxReactionKindLen {
		return types.Reaction{}, errs.New(errs.KindInvalidContent, "invalid reaction kind")
	}

	msg, err := p.db.GetMessageById(ctx, messageId)
	if err != nil {
		return types.Reaction{}, err
	}
	if msg.Deleted {
		return types.Reaction{}, errs.New(errs.KindNotFound, "message deleted")
	}

	if _, err := p.requireMembership(ctx, msg.ChannelId, userId); err != nil {
		return types.Reaction{}, err
	}

	reaction, err := p.db.UpsertReaction(ctx, messageId, userId, kind)
	if err != nil {
		return types.Reaction{}, err
	}

	evt := &types.Event{
		Type:      types.EventReactionChanged,
		ChannelId: msg.ChannelId,
		MessageId: messageId,
		Timestamp: reaction.UpdatedAt,
		Reaction:  &reaction,
	}
	p.hub.Broadcast(msg.ChannelId, evt)
	p.publish(ctx, evt)

	return reaction, nil
}

// ClearReaction removes the caller's reaction if present. Clearing a
// reaction that does not exist is a no-op, not an error.
func (p *Pipeline) ClearReaction(ctx context.Context, messageId, userId int64) error {
	msg, err := p.db.GetMessageById(ctx, messageId)
	if err != nil {
		return err
	}

	removed, err := p.db.DeleteReaction(ctx, messageId, userId)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	evt := &types.Event{
		Type:      types.EventReactionRemoved,
		ChannelId: msg.ChannelId,
		MessageId: messageId,
		Reaction: &types.Reaction{
			MessageId: messageId,
			UserId:    userId,
		},
	}
	p.hub.Broadcast(msg.ChannelId, evt)
	p.publish(ctx, evt)

	return nil
}
