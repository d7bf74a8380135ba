// Package pipeline is the single source of truth for message ordering
// and durability. Every durable mutation follows persist-then-broadcast:
// nothing is fanned out until the store has committed, and a store
// failure means the operation never happened.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/events"
	"github.com/wfplatform/chat-service/internal/store"
	"github.com/wfplatform/chat-service/internal/types"
)

// Broadcaster is how the pipeline drives fan-out. The hub implements it.
type Broadcaster interface {
	// Broadcast delivers the event to every connection currently
	// subscribed to the channel. Best effort, never blocks the caller.
	Broadcast(channelId int64, evt *types.Event)
	// NotifyUser delivers the event to the user's connections that are
	// not subscribed to the event's channel, so a recipient who never
	// joined (e.g. the other party of a fresh direct channel) still
	// hears about it without being delivered twice.
	NotifyUser(userId int64, evt *types.Event)
}

// Policy holds the content and attachment constraints enforced on post
// and edit.
type Policy struct {
	MaxContentBytes    int
	MaxAttachmentBytes int64
	AllowedMimeTypes   []string
}

var defaultMimeTypes = []string{
	"image/png", "image/jpeg", "image/gif", "image/webp",
	"application/pdf", "text/plain", "text/csv",
	"application/zip",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func DefaultPolicy() Policy {
	return Policy{
		MaxContentBytes:    4096,
		MaxAttachmentBytes: 25 << 20,
		AllowedMimeTypes:   defaultMimeTypes,
	}
}

type Pipeline struct {
	db     store.Repository
	hub    Broadcaster
	events events.Publisher
	policy Policy
	log    *zap.SugaredLogger
}

func New(db store.Repository, hub Broadcaster, pub events.Publisher, policy Policy, log *zap.SugaredLogger) *Pipeline {
	if policy.MaxContentBytes <= 0 {
		policy = DefaultPolicy()
	}
	if len(policy.AllowedMimeTypes) == 0 {
		policy.AllowedMimeTypes = defaultMimeTypes
	}
	return &Pipeline{
		db:     db,
		hub:    hub,
		events: pub,
		policy: policy,
		log:    log,
	}
}

type PostInput struct {
	Type        types.MessageType
	Content     string
	ParentId    int64
	Attachments []types.Attachment
}

// requireMembership loads the caller's active membership. Absent or
// inactive memberships are Forbidden, not NotFound: the caller is
// authenticated but lacks access.
func (p *Pipeline) requireMembership(ctx context.Context, channelId, userId int64) (types.Membership, error) {
	m, err := p.db.GetMembership(ctx, channelId, userId)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return types.Membership{}, errs.New(errs.KindForbidden, "not a channel member")
		}
		return types.Membership{}, err
	}
	if !m.Active {
		return types.Membership{}, errs.New(errs.KindForbidden, "membership inactive")
	}
	return m, nil
}

// ValidatePost checks a post against the content policy without touching
// any state. Callers with side effects to sequence around posting (such
// as lazy channel creation) run it up front.
func (p *Pipeline) ValidatePost(input PostInput) error {
	return p.validateContent(input)
}

func (p *Pipeline) validateContent(input PostInput) error {
	switch input.Type {
	case types.MessageText:
		if input.Content == "" {
			return errs.New(errs.KindInvalidContent, "empty message")
		}
	case types.MessageFile:
		if len(input.Attachments) == 0 {
			return errs.New(errs.KindInvalidContent, "file message requires an attachment")
		}
	default:
		// system messages are server-generated only
		return errs.Newf(errs.KindInvalidContent, "unsupported message type %q", input.Type)
	}

	if len(input.Content) > p.policy.MaxContentBytes {
		return errs.Newf(errs.KindInvalidContent, "content exceeds %d bytes", p.policy.MaxContentBytes)
	}

	for _, att := range input.Attachments {
		if err := p.validateAttachment(att); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) validateAttachment(att types.Attachment) error {
	if att.Name == "" || att.StorageKey == "" {
		return errs.New(errs.KindInvalidContent, "attachment missing name or storage key")
	}
	if att.Size <= 0 || att.Size > p.policy.MaxAttachmentBytes {
		return errs.Newf(errs.KindInvalidContent, "attachment size %d out of bounds", att.Size)
	}
	for _, mime := range p.policy.AllowedMimeTypes {
		if att.MimeType == mime {
			return nil
		}
	}
	return errs.Newf(errs.KindInvalidContent, "attachment type %q not allowed", att.MimeType)
}

// PostMessage validates, persists and fans out a channel message. The
// caller only sees success after the store has committed; a Transient
// failure aborts before any broadcast.
func (p *Pipeline) PostMessage(ctx context.Context, channelId, senderId int64, input PostInput) (types.Message, error) {
	membership, err := p.requireMembership(ctx, channelId, senderId)
	if err != nil {
		return types.Message{}, err
	}

	channel, err := p.db.GetChannelById(ctx, channelId)
	if err != nil {
		return types.Message{}, err
	}
	if channel.Archived {
		return types.Message{}, errs.New(errs.KindForbidden, "channel is archived")
	}
	if channel.Type == types.ChannelAnnouncement && membership.Role == types.RoleMember {
		return types.Message{}, errs.New(errs.KindForbidden, "only moderators may post announcements")
	}

	if err := p.validateContent(input); err != nil {
		return types.Message{}, err
	}

	if input.ParentId != 0 {
		parent, err := p.db.GetMessageById(ctx, input.ParentId)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				return types.Message{}, errs.New(errs.KindInvalidContent, "parent message not found")
			}
			return types.Message{}, err
		}
		if parent.ChannelId != channelId || parent.Deleted {
			return types.Message{}, errs.New(errs.KindInvalidContent, "invalid parent message")
		}
	}

	msg, err := p.db.CreateMessage(ctx, store.CreateMessageParams{
		ChannelId:   channelId,
		SenderId:    senderId,
		Type:        input.Type,
		Content:     input.Content,
		ParentId:    input.ParentId,
		Attachments: input.Attachments,
	})
	if err != nil {
		return types.Message{}, err
	}

	evt := &types.Event{
		Type:      types.EventMessageCreated,
		ChannelId: channelId,
		MessageId: msg.Id,
		Timestamp: msg.CreatedAt,
		Message:   &msg,
	}
	p.hub.Broadcast(channelId, evt)
	if channel.Type == types.ChannelDirect {
		p.notifyOtherMembers(ctx, channelId, senderId, evt)
	}
	p.publish(ctx, evt)

	return msg, nil
}

// EditMessage is sender-only. The ordering key never changes on edit.
func (p *Pipeline) EditMessage(ctx context.Context, messageId, editorId int64, newContent string) (types.Message, error) {
	msg, err := p.db.GetMessageById(ctx, messageId)
	if err != nil {
		return types.Message{}, err
	}
	if msg.Deleted {
		return types.Message{}, errs.New(errs.KindNotFound, "message deleted")
	}
	if msg.SenderId != editorId {
		return types.Message{}, errs.New(errs.KindForbidden, "only the sender may edit")
	}
	if newContent == "" || len(newContent) > p.policy.MaxContentBytes {
		return types.Message{}, errs.New(errs.KindInvalidContent, "invalid content length")
	}

	updated, err := p.db.UpdateMessageContent(ctx, messageId, newContent, time.Now().UTC())
	if err != nil {
		return types.Message{}, err
	}

	evt := &types.Event{
		Type:      types.EventMessageUpdated,
		ChannelId: updated.ChannelId,
		MessageId: updated.Id,
		Timestamp: updated.EditedAt,
		Message:   &updated,
	}
	p.hub.Broadcast(updated.ChannelId, evt)
	p.publish(ctx, evt)

	return updated, nil
}

// DeleteMessage soft-deletes: content cleared, flag set, attachments
// cascade-removed. Allowed for the sender or a channel moderator/admin.
func (p *Pipeline) DeleteMessage(ctx context.Context, messageId, actorId int64) error {
	msg, err := p.db.GetMessageById(ctx, messageId)
	if err != nil {
		return err
	}
	if msg.Deleted {
		return errs.New(errs.KindNotFound, "message deleted")
	}

	if msg.SenderId != actorId {
		membership, err := p.requireMembership(ctx, msg.ChannelId, actorId)
		if err != nil {
			return err
		}
		if membership.Role != types.RoleAdmin && membership.Role != types.RoleModerator {
			return errs.New(errs.KindForbidden, "not allowed to delete this message")
		}
	}

	deletedAt := time.Now().UTC()
	if err := p.db.SoftDeleteMessage(ctx, messageId, deletedAt); err != nil {
		return err
	}

	evt := &types.Event{
		Type:      types.EventMessageDeleted,
		ChannelId: msg.ChannelId,
		MessageId: messageId,
		Timestamp: deletedAt,
	}
	p.hub.Broadcast(msg.ChannelId, evt)
	p.publish(ctx, evt)

	return nil
}

// notifyOtherMembers reaches members who never subscribed to the
// channel. The hub skips connections already covered by Broadcast.
func (p *Pipeline) notifyOtherMembers(ctx context.Context, channelId, senderId int64, evt *types.Event) {
	members, err := p.db.ListMemberUserIds(ctx, channelId)
	if err != nil {
		p.log.Warnw("list members for notify", "channel_id", channelId, "err", err)
		return
	}
	for _, userId := range members {
		if userId == senderId {
			continue
		}
		p.hub.NotifyUser(userId, evt)
	}
}

// publish exports the event to the platform stream. Failures are logged
// and swallowed: live fan-out and history remain the delivery paths.
func (p *Pipeline) publish(ctx context.Context, evt *types.Event) {
	if p.events == nil {
		return
	}
	err := p.events.Publish(ctx, events.Event{
		Type:      evt.Type,
		ChannelId: evt.ChannelId,
		MessageId: evt.MessageId,
		Timestamp: evt.Timestamp,
		Payload:   evt,
	})
	if err != nil {
		p.log.Warnw("publish event", "type", evt.Type, "channel_id", evt.ChannelId, "err", err)
	}
}
