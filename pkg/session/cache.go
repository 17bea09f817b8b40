package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements the hot tier on a Redis list per session.
// Each list element is one JSON-encoded Message; RPUSH preserves input
// order so LRANGE 0 -1 yields the conversation in append order.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg Config, logger *slog.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    cfg.CacheTTL(),
		logger: logger.With("component", "session_cache"),
	}, nil
}

func sessionKey(sessionID string) string {
	return "chat:" + sessionID
}

// Load returns the cached message list, reporting a miss when the key
// does not exist. Corrupt list entries are skipped rather than failing
// the whole read.
func (c *RedisCache) Load(ctx context.Context, sessionID string) ([]Message, bool, error) {
	items, err := c.client.LRange(ctx, sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, false, &CacheError{SessionID: sessionID, Err: err}
	}
	if len(items) == 0 {
		return nil, false, nil
	}

	messages := make([]Message, 0, len(items))
	for _, item := range items {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			c.logger.Warn("skipping corrupt cache entry", "session_id", sessionID, "error", err)
			continue
		}
		messages = append(messages, m)
	}

	return messages, true, nil
}

// Replace rewrites the session list atomically: delete, repush all
// entries, reset the TTL. The transactional pipeline guarantees readers
// never observe the list half-written.
func (c *RedisCache) Replace(ctx context.Context, sessionID string, messages []Message) error {
	key := sessionKey(sessionID)

	encoded := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		encoded = append(encoded, data)
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(encoded) > 0 {
		pipe.RPush(ctx, key, encoded...)
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &CacheError{SessionID: sessionID, Err: err}
	}

	return nil
}

// appendIfExists pushes onto the list only when the key is still live.
// Recreating an expired key from a single append would leave a partial
// list that later reads would trust as the full history.
var appendIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("RPUSH", KEYS[1], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// Append pushes one message onto an existing session list and refreshes
// the TTL. An expired or absent key is left alone; the next read
// repopulates the full list from the durable tier.
func (c *RedisCache) Append(ctx context.Context, sessionID string, message Message) error {
	key := sessionKey(sessionID)

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := appendIfExists.Run(ctx, c.client, []string{key}, data, c.ttl.Milliseconds()).Err(); err != nil {
		return &CacheError{SessionID: sessionID, Err: err}
	}

	return nil
}

// Clear drops the session list.
func (c *RedisCache) Clear(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return &CacheError{SessionID: sessionID, Err: err}
	}
	return nil
}

// Ping verifies hot-tier connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
