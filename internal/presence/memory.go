package presence

import (
	"context"
	"sync"
	"time"

	"github.com/wfplatform/chat-service/internal/types"
)

// MemoryStore is a process-local Store used in tests and single-node
// deployments without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]memoryEntry
}

type memoryEntry struct {
	presence  types.Presence
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[int64]memoryEntry),
	}
}

func (s *MemoryStore) Set(_ context.Context, userId int64, status types.PresenceStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[userId] = memoryEntry{
		presence: types.Presence{
			UserId:    userId,
			Status:    status,
			Note:      note,
			UpdatedAt: time.Now().UTC(),
		},
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userId int64) (types.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userId]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.entries, userId)
		return offline(userId), nil
	}
	return entry.presence, nil
}

func (s *MemoryStore) Refresh(_ context.Context, userId int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[userId]; ok {
		entry.expiresAt = time.Now().Add(s.ttl)
		s.entries[userId] = entry
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userId int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, userId)
	return nil
}
