package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/events"
	"github.com/wfplatform/chat-service/internal/store"
	"github.com/wfplatform/chat-service/internal/testutil"
	"github.com/wfplatform/chat-service/internal/types"
)

// captureBroadcaster records fan-out calls in order.
type captureBroadcaster struct {
	mu         sync.Mutex
	broadcasts []*types.Event
	notified   map[int64][]*types.Event
}

func newCaptureBroadcaster() *captureBroadcaster {
	return &captureBroadcaster{notified: make(map[int64][]*types.Event)}
}

func (b *captureBroadcaster) Broadcast(channelId int64, evt *types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, evt)
}

func (b *captureBroadcaster) NotifyUser(userId int64, evt *types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notified[userId] = append(b.notified[userId], evt)
}

func (b *captureBroadcaster) events() []*types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Event(nil), b.broadcasts...)
}

func newTestPipeline(t *testing.T, db store.Repository) (*Pipeline, *captureBroadcaster) {
	t.Helper()
	hub := newCaptureBroadcaster()
	return New(db, hub, events.NopPublisher{}, DefaultPolicy(), testutil.TestLogger(t)), hub
}

func activeMembership(channelId, userId int64, role types.MemberRole) types.Membership {
	return types.Membership{ChannelId: channelId, UserId: userId, Role: role, Active: true}
}

func TestPostMessage(t *testing.T) {
	input := PostInput{Type: types.MessageText, Content: "hello"}

	t.Run("persists then broadcasts", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, hub := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(activeMembership(1, 10, types.RoleMember), nil)
		db.On("GetChannelById", mock.Anything, int64(1)).
			Return(types.Channel{Id: 1, Type: types.ChannelGeneral}, nil)
		createdAt := time.Now().UTC()
		db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p store.CreateMessageParams) bool {
			return p.ChannelId == 1 && p.SenderId == 10 && p.Content == "hello"
		})).Return(types.Message{Id: 100, ChannelId: 1, SenderId: 10, Content: "hello", CreatedAt: createdAt}, nil)

		msg, err := pl.PostMessage(context.Background(), 1, 10, input)
		require.NoError(t, err)
		assert.Equal(t, int64(100), msg.Id)

		evts := hub.events()
		require.Len(t, evts, 1, "expected exactly one broadcast")
		assert.Equal(t, types.EventMessageCreated, evts[0].Type)
		assert.Equal(t, int64(100), evts[0].MessageId)
		db.AssertExpectations(t)
	})

	t.Run("non-member is forbidden", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, hub := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(types.Membership{}, errs.New(errs.KindNotFound, "no rows"))

		_, err := pl.PostMessage(context.Background(), 1, 10, input)
		assert.True(t, errs.Is(err, errs.KindForbidden), "expected forbidden, got %v", err)
		assert.Empty(t, hub.events(), "no broadcast on rejection")
	})

	t.Run("inactive membership is forbidden", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(types.Membership{ChannelId: 1, UserId: 10, Active: false}, nil)

		_, err := pl.PostMessage(context.Background(), 1, 10, input)
		assert.True(t, errs.Is(err, errs.KindForbidden))
	})

	t.Run("archived channel rejects posts", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(activeMembership(1, 10, types.RoleAdmin), nil)
		db.On("GetChannelById", mock.Anything, int64(1)).
			Return(types.Channel{Id: 1, Archived: true}, nil)

		_, err := pl.PostMessage(context.Background(), 1, 10, input)
		assert.True(t, errs.Is(err, errs.KindForbidden))
	})

	t.Run("plain members cannot post announcements", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(activeMembership(1, 10, types.RoleMember), nil)
		db.On("GetChannelById", mock.Anything, int64(1)).
			Return(types.Channel{Id: 1, Type: types.ChannelAnnouncement}, nil)

		_, err := pl.PostMessage(context.Background(), 1, 10, input)
		assert.True(t, errs.Is(err, errs.KindForbidden))
	})

	t.Run("empty content rejected", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(activeMembership(1, 10, types.RoleMember), nil)
		db.On("GetChannelById", mock.Anything, int64(1)).
			Return(types.Channel{Id: 1}, nil)

		_, err := pl.PostMessage(context.Background(), 1, 10, PostInput{Type: types.MessageText})
		assert.True(t, errs.Is(err, errs.KindInvalidContent))
	})

	t.Run("oversized content rejected", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(activeMembership(1, 10, types.RoleMember), nil)
		db.On("GetChannelById", mock.Anything, int64(1)).
			Return(types.Channel{Id: 1}, nil)

		big := make([]byte, DefaultPolicy().MaxContentBytes+1)
		for i := range big {
			big[i] = 'a'
		}
		_, err := pl.PostMessage(context.Background(), 1, 10, PostInput{Type: types.MessageText, Content: string(big)})
		assert.True(t, errs.Is(err, errs.KindInvalidContent))
	})

	t.Run("disallowed attachment type rejected", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(activeMembership(1, 10, types.RoleMember), nil)
		db.On("GetChannelById", mock.Anything, int64(1)).
			Return(types.Channel{Id: 1}, nil)

		_, err := pl.PostMessage(context.Background(), 1, 10, PostInput{
			Type: types.MessageFile,
			Attachments: []types.Attachment{
				{Name: "run.exe", Size: 128, MimeType: "application/x-msdownload", StorageKey: "k"},
			},
		})
		assert.True(t, errs.Is(err, errs.KindInvalidContent))
	})

	t.Run("reply parent must exist in same channel", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(activeMembership(1, 10, types.RoleMember), nil)
		db.On("GetChannelById", mock.Anything, int64(1)).
			Return(types.Channel{Id: 1}, nil)
		db.On("GetMessageById", mock.Anything, int64(55)).
			Return(types.Message{Id: 55, ChannelId: 2}, nil)

		_, err := pl.PostMessage(context.Background(), 1, 10, PostInput{
			Type: types.MessageText, Content: "re", ParentId: 55,
		})
		assert.True(t, errs.Is(err, errs.KindInvalidContent))
	})

	t.Run("store failure aborts before broadcast", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, hub := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(activeMembership(1, 10, types.RoleMember), nil)
		db.On("GetChannelById", mock.Anything, int64(1)).
			Return(types.Channel{Id: 1}, nil)
		db.On("CreateMessage", mock.Anything, mock.Anything).
			Return(types.Message{}, errs.New(errs.KindTransient, "connection refused"))

		_, err := pl.PostMessage(context.Background(), 1, 10, input)
		assert.True(t, errs.Is(err, errs.KindTransient))
		assert.Empty(t, hub.events(), "nothing may be broadcast when the store rejects the write")
	})

	t.Run("direct channel notifies unsubscribed recipient", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, hub := newTestPipeline(t, db)

		db.On("GetMembership", mock.Anything, int64(7), int64(10)).
			Return(activeMembership(7, 10, types.RoleMember), nil)
		db.On("GetChannelById", mock.Anything, int64(7)).
			Return(types.Channel{Id: 7, Type: types.ChannelDirect}, nil)
		db.On("CreateMessage", mock.Anything, mock.Anything).
			Return(types.Message{Id: 200, ChannelId: 7, SenderId: 10}, nil)
		db.On("ListMemberUserIds", mock.Anything, int64(7)).
			Return([]int64{10, 20}, nil)

		_, err := pl.PostMessage(context.Background(), 7, 10, input)
		require.NoError(t, err)

		assert.Len(t, hub.notified[20], 1, "recipient should be notified out of band")
		assert.Empty(t, hub.notified[10], "sender is covered by the broadcast")
	})
}

func TestEditMessage(t *testing.T) {
	t.Run("sender edits content", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, hub := newTestPipeline(t, db)

		createdAt := time.Now().UTC().Add(-time.Hour)
		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1, SenderId: 10, Content: "old", CreatedAt: createdAt}, nil)
		db.On("UpdateMessageContent", mock.Anything, int64(100), "new", mock.Anything).
			Return(types.Message{Id: 100, ChannelId: 1, SenderId: 10, Content: "new", Edited: true, CreatedAt: createdAt, EditedAt: time.Now().UTC()}, nil)

		updated, err := pl.EditMessage(context.Background(), 100, 10, "new")
		require.NoError(t, err)
		assert.True(t, updated.Edited)
		assert.Equal(t, createdAt, updated.CreatedAt, "ordering key must not change on edit")

		evts := hub.events()
		require.Len(t, evts, 1)
		assert.Equal(t, types.EventMessageUpdated, evts[0].Type)
	})

	t.Run("only the sender may edit", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1, SenderId: 10}, nil)

		_, err := pl.EditMessage(context.Background(), 100, 11, "new")
		assert.True(t, errs.Is(err, errs.KindForbidden))
	})

	t.Run("deleted message cannot be edited", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, SenderId: 10, Deleted: true}, nil)

		_, err := pl.EditMessage(context.Background(), 100, 10, "new")
		assert.True(t, errs.Is(err, errs.KindNotFound))
	})
}

func TestDeleteMessage(t *testing.T) {
	t.Run("sender deletes own message", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, hub := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1, SenderId: 10}, nil)
		db.On("SoftDeleteMessage", mock.Anything, int64(100), mock.Anything).Return(nil)

		err := pl.DeleteMessage(context.Background(), 100, 10)
		require.NoError(t, err)

		evts := hub.events()
		require.Len(t, evts, 1)
		assert.Equal(t, types.EventMessageDeleted, evts[0].Type)
		assert.Nil(t, evts[0].Message, "deleted event carries no content")
	})

	t.Run("moderator deletes another user's message", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1, SenderId: 10}, nil)
		db.On("GetMembership", mock.Anything, int64(1), int64(20)).
			Return(activeMembership(1, 20, types.RoleModerator), nil)
		db.On("SoftDeleteMessage", mock.Anything, int64(100), mock.Anything).Return(nil)

		assert.NoError(t, pl.DeleteMessage(context.Background(), 100, 20))
	})

	t.Run("plain member cannot delete another user's message", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1, SenderId: 10}, nil)
		db.On("GetMembership", mock.Anything, int64(1), int64(20)).
			Return(activeMembership(1, 20, types.RoleMember), nil)

		err := pl.DeleteMessage(context.Background(), 100, 20)
		assert.True(t, errs.Is(err, errs.KindForbidden))
	})

	t.Run("deleting twice reports not found", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1, SenderId: 10, Deleted: true}, nil)

		err := pl.DeleteMessage(context.Background(), 100, 10)
		assert.True(t, errs.Is(err, errs.KindNotFound))
	})
}
