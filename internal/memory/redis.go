package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "todoagent:conversation:"

// RedisStore keeps conversations in Redis as JSON values whose expiry
// is the session TTL, so idle sessions vanish without a janitor.
type RedisStore struct {
	client      *redis.Client
	ttl         time.Duration
	maxMessages int
}

// NewRedisStore connects to the Redis server at url
// (redis://[:password@]host:port/db) and verifies it with PING.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration, maxMessages int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl, maxMessages: maxMessages}, nil
}

func redisKey(id string) string { return redisKeyPrefix + id }

// Get loads a conversation, or nil if the key is absent or expired.
func (s *RedisStore) Get(ctx context.Context, id string) (*Conversation, error) {
	data, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Put writes the conversation and resets its expiry.
func (s *RedisStore) Put(ctx context.Context, conv *Conversation) error {
	cp := conv.Clone()
	cp.Trim(s.maxMessages)
	cp.UpdatedAt = time.Now()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", cp.ID, err)
	}
	if err := s.client.Set(ctx, redisKey(cp.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("put conversation %s: %w", cp.ID, err)
	}
	return nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

// Count scans the key space for live sessions.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
