package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/store"
	"github.com/wfplatform/chat-service/internal/types"
)

func TestSetReaction(t *testing.T) {
	t.Run("upserts and broadcasts", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, hub := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1}, nil)
		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(activeMembership(1, 10, types.RoleMember), nil)
		db.On("UpsertReaction", mock.Anything, int64(100), int64(10), "thumbsup").
			Return(types.Reaction{MessageId: 100, UserId: 10, Kind: "thumbsup", UpdatedAt: time.Now().UTC()}, nil)

		reaction, err := pl.SetReaction(context.Background(), 100, 10, "thumbsup")
		require.NoError(t, err)
		assert.Equal(t, "thumbsup", reaction.Kind)

		evts := hub.events()
		require.Len(t, evts, 1)
		assert.Equal(t, types.EventReactionChanged, evts[0].Type)
	})

	t.Run("replacing a reaction stays a single upsert", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1}, nil)
		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(activeMembership(1, 10, types.RoleMember), nil)
		db.On("UpsertReaction", mock.Anything, int64(100), int64(10), "heart").
			Return(types.Reaction{MessageId: 100, UserId: 10, Kind: "heart"}, nil)

		reaction, err := pl.SetReaction(context.Background(), 100, 10, "heart")
		require.NoError(t, err)
		assert.Equal(t, "heart", reaction.Kind)
		db.AssertNumberOfCalls(t, "UpsertReaction", 1)
	})

	t.Run("invalid kind rejected", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		_, err := pl.SetReaction(context.Background(), 100, 10, "")
		assert.True(t, errs.Is(err, errs.KindInvalidContent))
	})

	t.Run("deleted message rejects reactions", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1, Deleted: true}, nil)

		_, err := pl.SetReaction(context.Background(), 100, 10, "thumbsup")
		assert.True(t, errs.Is(err, errs.KindNotFound))
	})

	t.Run("non-member cannot react", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, _ := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1}, nil)
		db.On("GetMembership", mock.Anything, int64(1), int64(10)).
			Return(types.Membership{}, errs.New(errs.KindNotFound, "no rows"))

		_, err := pl.SetReaction(context.Background(), 100, 10, "thumbsup")
		assert.True(t, errs.Is(err, errs.KindForbidden))
	})
}

func TestClearReaction(t *testing.T) {
	t.Run("removes and broadcasts", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, hub := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1}, nil)
		db.On("DeleteReaction", mock.Anything, int64(100), int64(10)).Return(true, nil)

		require.NoError(t, pl.ClearReaction(context.Background(), 100, 10))

		evts := hub.events()
		require.Len(t, evts, 1)
		assert.Equal(t, types.EventReactionRemoved, evts[0].Type)
	})

	t.Run("clearing an absent reaction is a silent no-op", func(t *testing.T) {
		db := &store.MockRepository{}
		pl, hub := newTestPipeline(t, db)

		db.On("GetMessageById", mock.Anything, int64(100)).
			Return(types.Message{Id: 100, ChannelId: 1}, nil)
		db.On("DeleteReaction", mock.Anything, int64(100), int64(10)).Return(false, nil)

		require.NoError(t, pl.ClearReaction(context.Background(), 100, 10))
		assert.Empty(t, hub.events(), "no event when nothing was removed")
	})
}
