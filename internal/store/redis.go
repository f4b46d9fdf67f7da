package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/push-protocol/push-vnode-sub003/internal/models"
)

const recentMessagesTTL = 24 * time.Hour

// RedisStore handles Redis operations: per-chat message counters and the
// recent-message read cache. Postgres stays authoritative; everything here is
// reconstructible.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying connection for components that keep their own
// key namespaces (presence, gating caches).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// chatMessagesKey returns the key for a chat's recent-message sorted set.
func chatMessagesKey(chatID string) string {
	return fmt.Sprintf("chat:%s:messages", chatID)
}

// chatCountKey returns the key for a chat's message counter.
func chatCountKey(chatID string) string {
	return fmt.Sprintf("chat:%s:msgcount", chatID)
}

// CacheMessage adds a persisted message to the chat's recent-message cache
// and bumps the counter.
func (s *RedisStore) CacheMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := chatMessagesKey(msg.ChatID)
	err = s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.Timestamp.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return err
	}
	s.client.Expire(ctx, key, recentMessagesTTL)
	s.client.Incr(ctx, chatCountKey(msg.ChatID))

	return nil
}

// RecentMessages retrieves cached messages newest first, strictly older than
// before (zero means no bound). A miss returns an empty slice; the caller
// falls through to Postgres.
func (s *RedisStore) RecentMessages(ctx context.Context, chatID string, limit int, before time.Time) ([]models.Message, error) {
	maxScore := "+inf"
	if !before.IsZero() {
		maxScore = fmt.Sprintf("(%d", before.UnixMilli())
	}

	results, err := s.client.ZRevRangeByScore(ctx, chatMessagesKey(chatID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// MessageCount returns the cached message counter for a chat.
func (s *RedisStore) MessageCount(ctx context.Context, chatID string) (int64, error) {
	count, err := s.client.Get(ctx, chatCountKey(chatID)).Int64()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return count, nil
}

// DropChat removes a chat's cache entries. Called by the space sweep.
func (s *RedisStore) DropChat(ctx context.Context, chatID string) error {
	return s.client.Del(ctx, chatMessagesKey(chatID), chatCountKey(chatID)).Err()
}
