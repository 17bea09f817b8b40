// Package session provides the two-tier conversation history store:
// a TTL-bounded Redis hot tier and an authoritative relational durable tier.
package session

import (
	"context"
	"time"
)

// Role values used in conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a session's ordered conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Config holds session store configuration.
type Config struct {
	// RedisURL is the hot-tier connection URL (redis://...). Overridden by
	// the REDIS_URL environment variable.
	RedisURL string `yaml:"redis_url" json:"redis_url"`

	// CacheTTLSeconds bounds how long a session list stays in the hot tier.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	// DatabaseURL is the durable-tier DSN. Overridden by DATABASE_URL.
	DatabaseURL string `yaml:"database_url" json:"database_url"`

	// MaxOpenConns and MaxIdleConns size the durable-tier pool.
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`
}

// DefaultConfig returns session store defaults.
func DefaultConfig() Config {
	return Config{
		RedisURL:        "redis://localhost:6379/0",
		CacheTTLSeconds: 1800,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
	}
}

// CacheTTL returns the hot-tier TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Cache is the non-authoritative hot tier. Loss of this tier must never
// lose data, only cost one durable-tier read.
type Cache interface {
	// Load returns the session's ordered message list. The second return
	// is false on a miss (expired or never written).
	Load(ctx context.Context, sessionID string) ([]Message, bool, error)

	// Replace rewrites the session's list wholesale and resets the TTL.
	// Used when bulk history was rebuilt from the durable tier.
	Replace(ctx context.Context, sessionID string, messages []Message) error

	// Append pushes one message onto the session's existing list and
	// refreshes the TTL. An expired or absent list is left alone so the
	// next read rebuilds it whole from the durable tier; recreating it
	// from one tail message would serve a partial history as a hit.
	Append(ctx context.Context, sessionID string, message Message) error

	// Clear drops the session's list from the hot tier.
	Clear(ctx context.Context, sessionID string) error
}

// History is the authoritative durable tier.
type History interface {
	// Messages returns all messages for the session in creation order.
	Messages(ctx context.Context, sessionID string) ([]Message, error)

	// Record persists one message for the session, creating the session
	// row on first write.
	Record(ctx context.Context, sessionID string, message Message) error
}
