package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

// RedisStore persists ConversationState as a JSON string in Redis.
type RedisStore struct {
	rdb       redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{rdb: rdb, keyPrefix: defaultStoreKeyPrefix, ttl: ttl}
}

func (r *RedisStore) Load(ctx context.Context, conversationID string) (*ConversationState, error) {
	key, err := storeKey(r.keyPrefix, conversationID)
	if err != nil {
		return nil, err
	}

	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load conversation state from redis")
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return decodeState(raw)
}

func (r *RedisStore) Save(ctx context.Context, st *ConversationState) error {
	payload, err := encodeState(st)
	if err != nil {
		return err
	}
	key, err := storeKey(r.keyPrefix, st.ConversationID)
	if err != nil {
		return err
	}

	if err := r.rdb.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save conversation state to redis")
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, conversationID string) error {
	key, err := storeKey(r.keyPrefix, conversationID)
	if err != nil {
		return err
	}
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
