package store

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/wfplatform/chat-service/internal/types"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) CreateChannel(ctx context.Context, params CreateChannelParams) (types.Channel, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Channel), args.Error(1)
}

func (m *MockRepository) GetChannelById(ctx context.Context, id int64) (types.Channel, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Channel), args.Error(1)
}

func (m *MockRepository) GetChannelByExternalId(ctx context.Context, externalId string) (types.Channel, error) {
	args := m.Called(ctx, externalId)
	return args.Get(0).(types.Channel), args.Error(1)
}

func (m *MockRepository) EnsureDirectChannel(ctx context.Context, userA, userB int64) (types.Channel, bool, error) {
	args := m.Called(ctx, userA, userB)
	return args.Get(0).(types.Channel), args.Bool(1), args.Error(2)
}

func (m *MockRepository) GetMembership(ctx context.Context, channelId, userId int64) (types.Membership, error) {
	args := m.Called(ctx, channelId, userId)
	return args.Get(0).(types.Membership), args.Error(1)
}

func (m *MockRepository) ListChannelsForUser(ctx context.Context, userId int64) ([]types.ChannelSummary, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]types.ChannelSummary), args.Error(1)
}

func (m *MockRepository) ListMemberUserIds(ctx context.Context, channelId int64) ([]int64, error) {
	args := m.Called(ctx, channelId)
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockRepository) ListCoMemberUserIds(ctx context.Context, userId int64) ([]int64, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockRepository) UpdateLastReadAt(ctx context.Context, channelId, userId int64, readAt time.Time) error {
	args := m.Called(ctx, channelId, userId, readAt)
	return args.Error(0)
}

func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockRepository) GetMessageById(ctx context.Context, id int64) (types.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockRepository) UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) (types.Message, error) {
	args := m.Called(ctx, id, content, editedAt)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockRepository) SoftDeleteMessage(ctx context.Context, id int64, deletedAt time.Time) error {
	args := m.Called(ctx, id, deletedAt)
	return args.Error(0)
}

func (m *MockRepository) GetMessages(ctx context.Context, channelId int64, beforeTs time.Time, beforeId int64, limit int) ([]types.Message, error) {
	args := m.Called(ctx, channelId, beforeTs, beforeId, limit)
	return args.Get(0).([]types.Message), args.Error(1)
}

func (m *MockRepository) UpsertReaction(ctx context.Context, messageId, userId int64, kind string) (types.Reaction, error) {
	args := m.Called(ctx, messageId, userId, kind)
	return args.Get(0).(types.Reaction), args.Error(1)
}

func (m *MockRepository) DeleteReaction(ctx context.Context, messageId, userId int64) (bool, error) {
	args := m.Called(ctx, messageId, userId)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ListReactions(ctx context.Context, messageIds []int64) ([]types.Reaction, error) {
	args := m.Called(ctx, messageIds)
	return args.Get(0).([]types.Reaction), args.Error(1)
}
