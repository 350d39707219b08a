package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

const redisKeyPrefix = "sentinel:history:"

// RedisStore keeps each conversation as a capped Redis list of JSON messages.
type RedisStore struct {
	client *redis.Client
	window int
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. A zero ttl keeps lists forever.
func NewRedisStore(client *redis.Client, windowSize int, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, window: window(windowSize), ttl: ttl}
}

func redisKey(conversationID string) string {
	return redisKeyPrefix + conversationID
}

// Load returns up to limit of the most recent messages.
func (s *RedisStore) Load(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	ctx, span := tracer.Start(ctx, "RedisStore.Load")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, redisKey(conversationID), start, -1).Result()
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "history", Err: err}
	}

	msgs := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Append pushes msgs, trims the list to the window and refreshes the TTL in one transaction.
func (s *RedisStore) Append(ctx context.Context, conversationID string, msgs ...domain.Message) error {
	ctx, span := tracer.Start(ctx, "RedisStore.Append")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	clean := Sanitize(msgs)
	if len(clean) == 0 {
		return nil
	}
	values := make([]any, 0, len(clean))
	for _, m := range clean {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, string(b))
	}

	key := redisKey(conversationID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -int64(s.window), -1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "history", Err: err}
	}
	return nil
}
