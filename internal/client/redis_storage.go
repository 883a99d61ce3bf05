package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultRedisTTL = 24 * time.Hour

// RedisStorage keeps the tab slot in Redis so a restarted client that reuses
// its tab id picks the conversation back up.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
	tabID  string
	ttl    time.Duration
}

// NewRedisStorage connects to redisURL and verifies the connection.
func NewRedisStorage(ctx context.Context, redisURL, prefix, tabID string, ttl time.Duration) (*RedisStorage, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url must be provided")
	}
	if tabID == "" {
		return nil, fmt.Errorf("tab id must be provided")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("component", "storage").Str("tab_id", tabID).Msg("conversation storage backed by redis")
	return NewRedisStorageWithClient(client, prefix, tabID, ttl), nil
}

// NewRedisStorageWithClient wraps an existing client.
func NewRedisStorageWithClient(client redis.UniversalClient, prefix, tabID string, ttl time.Duration) *RedisStorage {
	if prefix == "" {
		prefix = "libchat"
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStorage{client: client, prefix: prefix, tabID: tabID, ttl: ttl}
}

func (r *RedisStorage) slot(key string) string {
	return r.prefix + ":" + r.tabID + ":" + key
}

// Load reads the slot; a missing key is not an error.
func (r *RedisStorage) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.slot(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

// Save writes the slot and refreshes its TTL.
func (r *RedisStorage) Save(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, r.slot(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the redis connection pool.
func (r *RedisStorage) Close() error {
	return r.client.Close()
}
