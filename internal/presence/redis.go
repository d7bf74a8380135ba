package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/types"
)

// RedisStore keeps presence entries in Redis under presence:<userID>
// with the configured TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(addr, password string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func key(userId int64) string {
	return fmt.Sprintf("presence:%d", userId)
}

func (s *RedisStore) Set(ctx context.Context, userId int64, status types.PresenceStatus, note string) error {
	p := types.Presence{
		UserId:    userId,
		Status:    status,
		Note:      note,
		UpdatedAt: time.Now().UTC(),
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, key(userId), raw, s.ttl).Err(); err != nil {
		return errs.Wrap(err, errs.KindTransient, "presence set")
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userId int64) (types.Presence, error) {
	raw, err := s.client.Get(ctx, key(userId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return offline(userId), nil
	}
	if err != nil {
		return types.Presence{}, errs.Wrap(err, errs.KindTransient, "presence get")
	}

	var p types.Presence
	if err := json.Unmarshal(raw, &p); err != nil {
		return types.Presence{}, err
	}
	return p, nil
}

func (s *RedisStore) Refresh(ctx context.Context, userId int64) error {
	if err := s.client.Expire(ctx, key(userId), s.ttl).Err(); err != nil {
		return errs.Wrap(err, errs.KindTransient, "presence refresh")
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userId int64) error {
	if err := s.client.Del(ctx, key(userId)).Err(); err != nil {
		return errs.Wrap(err, errs.KindTransient, "presence clear")
	}
	return nil
}
