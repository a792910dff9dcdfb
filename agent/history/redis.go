package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

var ErrInvalidConversation = errors.New("conversation id is empty")

// RedisRepository stores a conversation transcript as a Redis list of JSON messages.
type RedisRepository struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	maxLen int64
}

// NewRedisRepository keeps at most maxLen messages per conversation (0 = unbounded)
// and refreshes ttl on every append.
func NewRedisRepository(rdb redis.Cmdable, ttl time.Duration, maxLen int) *RedisRepository {
	return &RedisRepository{rdb: rdb, ttl: ttl, maxLen: int64(maxLen)}
}

func (r *RedisRepository) conversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func (r *RedisRepository) Append(ctx context.Context, conversationID string, msgs ...*schema.Message) error {
	if strings.TrimSpace(conversationID) == "" {
		return ErrInvalidConversation
	}
	if len(msgs) == 0 {
		return nil
	}

	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		b, err := json.Marshal(m)
		if err != nil {
			logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to marshal message")
			return fmt.Errorf("marshal message: %w", err)
		}
		values = append(values, b)
	}
	key := r.conversationKey(conversationID)

	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if r.maxLen > 0 {
		pipe.LTrim(ctx, key, -r.maxLen, -1)
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to append messages to redis")
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Recent returns the last limit messages in chronological order (limit <= 0 = all).
func (r *RedisRepository) Recent(ctx context.Context, conversationID string, limit int) ([]*schema.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidConversation
	}
	key := r.conversationKey(conversationID)

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	rows, err := r.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*schema.Message{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load conversation history from redis")
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for i, s := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("conversation_id", conversationID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func (r *RedisRepository) Clear(ctx context.Context, conversationID string) error {
	key := r.conversationKey(conversationID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete conversation history from redis")
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}
