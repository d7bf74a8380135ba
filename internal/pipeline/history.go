package pipeline

import (
	"context"
	"time"

	"github.com/wfplatform/chat-service/internal/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// History is a page of backlog plus the cursor for the next (older) page.
type History struct {
	Messages   []types.Message `json:"messages"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// GetHistory returns messages ordered descending by (created_at, id),
// strictly before the cursor when one is supplied. This is the sole
// recovery path for messages missed while disconnected; live broadcast
// is an optimization, not a guarantee.
func (p *Pipeline) GetHistory(ctx context.Context, channelId, userId int64, cursor string, limit int) (History, error) {
	if _, err := p.requireMembership(ctx, channelId, userId); err != nil {
		return History{}, err
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var (
		beforeTs time.Time
		beforeId int64
	)
	if cursor != "" {
		var err error
		beforeTs, beforeId, err = DecodeCursor(cursor)
		if err != nil {
			return History{}, err
		}
	}

	messages, err := p.db.GetMessages(ctx, channelId, beforeTs, beforeId, limit)
	if err != nil {
		return History{}, err
	}
	if err := p.attachReactions(ctx, messages); err != nil {
		return History{}, err
	}

	h := History{Messages: messages}
	if len(messages) == limit {
		h.NextCursor = EncodeCursor(messages[len(messages)-1])
	}
	return h, nil
}

// attachReactions folds the page's reactions into their messages so a
// recovering client rebuilds reaction state from history alone.
func (p *Pipeline) attachReactions(ctx context.Context, messages []types.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.Id)
	}

	reactions, err := p.db.ListReactions(ctx, ids)
	if err != nil {
		return err
	}
	if len(reactions) == 0 {
		return nil
	}

	byMessage := make(map[int64][]types.Reaction)
	for _, r := range reactions {
		byMessage[r.MessageId] = append(byMessage[r.MessageId], r)
	}
	for i := range messages {
		messages[i].Reactions = byMessage[messages[i].Id]
	}
	return nil
}
