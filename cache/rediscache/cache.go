// Package rediscache mirrors entitlement snapshots into Redis so balance
// reads can skip the primary store.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/tally/entitlement"
)

// Defaults used when Config leaves them empty.
const (
	DefaultKeyPrefix = "tally:snapshot:"
	DefaultTTL       = 5 * time.Minute
)

// Config holds Redis connection settings.
type Config struct {
	Addr      string        `json:"addr" mapstructure:"addr" yaml:"addr"`
	Password  string        `json:"password" mapstructure:"password" yaml:"password"`
	DB        int           `json:"db" mapstructure:"db" yaml:"db"`
	KeyPrefix string        `json:"key_prefix" mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" mapstructure:"ttl" yaml:"ttl"`
}

// Cache implements entitlement.Cache on Redis.
type Cache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

var _ entitlement.Cache = (*Cache)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rediscache: connect: %w", err)
	}

	return NewWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client. Empty prefix and zero TTL fall
// back to the defaults.
func NewWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *Cache {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (c *Cache) key(userID string) string { return c.keyPrefix + userID }

func (c *Cache) Get(ctx context.Context, userID string) (*entitlement.Snapshot, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rediscache: get: %w", err)
	}

	var s entitlement.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		// A value we cannot read is as good as a miss.
		_ = c.client.Del(ctx, c.key(userID)).Err()
		return nil, false, nil
	}
	return &s, true, nil
}

func (c *Cache) Set(ctx context.Context, s *entitlement.Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("rediscache: encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(s.UserID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("rediscache: invalidate: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
