package pipeline

import (
	"context"

	"github.com/teris-io/shortid"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/store"
	"github.com/wfplatform/chat-service/internal/types"
)

const maxChannelNameLen = 128

// CreateChannel creates a named channel with the creator as admin.
// Direct channels are never created here; they come from PostDirect.
func (p *Pipeline) CreateChannel(ctx context.Context, creatorId int64, name string, chType types.ChannelType, private bool) (types.Channel, error) {
	if name == "" || len(name) > maxChannelNameLen {
		return types.Channel{}, errs.New(errs.KindInvalidContent, "invalid channel name")
	}

	switch chType {
	case types.ChannelGeneral, types.ChannelGroup, types.ChannelDepartment, types.ChannelAnnouncement:
	default:
		return types.Channel{}, errs.Newf(errs.KindInvalidContent, "invalid channel type %q", chType)
	}

	externalId, err := shortid.Generate()
	if err != nil {
		return types.Channel{}, errs.Wrap(err, errs.KindTransient, "generate channel id")
	}

	return p.db.CreateChannel(ctx, store.CreateChannelParams{
		Name:       name,
		ExternalId: externalId,
		Type:       chType,
		Private:    private,
		CreatorId:  creatorId,
	})
}

// ListChannels returns the caller's channels with unread counts.
func (p *Pipeline) ListChannels(ctx context.Context, userId int64) ([]types.ChannelSummary, error) {
	return p.db.ListChannelsForUser(ctx, userId)
}

func (p *Pipeline) GetChannelByExternalId(ctx context.Context, externalId string) (types.Channel, error) {
	return p.db.GetChannelByExternalId(ctx, externalId)
}

// IsMember reports whether the user holds an active membership. The hub
// consults this on subscribe.
func (p *Pipeline) IsMember(ctx context.Context, channelId, userId int64) bool {
	_, err := p.requireMembership(ctx, channelId, userId)
	return err == nil
}
