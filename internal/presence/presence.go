// Package presence stores ephemeral user status with a TTL. Entries that
// are not refreshed expire, which is how users revert to offline without
// an explicit sign-off. The store is a cache, never a source of truth.
package presence

import (
	"context"
	"time"

	"github.com/wfplatform/chat-service/internal/types"
)

type Store interface {
	// Set writes the user's status and note, resetting the TTL.
	Set(ctx context.Context, userId int64, status types.PresenceStatus, note string) error
	// Get returns the user's presence. A missing or expired entry is
	// reported as offline, not as an error.
	Get(ctx context.Context, userId int64) (types.Presence, error)
	// Refresh extends the TTL of an existing entry without changing it.
	Refresh(ctx context.Context, userId int64) error
	// Clear drops the entry, reverting the user to offline immediately.
	Clear(ctx context.Context, userId int64) error
}

func offline(userId int64) types.Presence {
	return types.Presence{
		UserId:    userId,
		Status:    types.StatusOffline,
		UpdatedAt: time.Now().UTC(),
	}
}
