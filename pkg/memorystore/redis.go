package memorystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisKeyPrefix namespaces entry keys in a shared Redis instance.
const redisKeyPrefix = "memory:"

// RedisTierConfig holds the configuration for the Redis client.
type RedisTierConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisTier is the fast cache tier. Values are the full JSON-serialized
// entry; a positive TTL becomes the key's native Redis expiry, so the tier
// needs no sweep of its own.
type RedisTier struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisTier creates and connects the tier. It pings the Redis server to
// ensure connectivity before returning.
func NewRedisTier(ctx context.Context, cfg *RedisTierConfig, logger zerolog.Logger) (*RedisTier, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return NewRedisTierFromClient(rdb, logger), nil
}

// NewRedisTierFromClient wraps an existing client, e.g. one built from a
// REDIS_URL via redis.ParseURL.
func NewRedisTierFromClient(client *redis.Client, logger zerolog.Logger) *RedisTier {
	return &RedisTier{
		client: client,
		logger: logger.With().Str("component", "RedisTier").Logger(),
	}
}

// Put writes the serialized entry under memory:<id>.
func (t *RedisTier) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry %s: %w", entry.ID, err)
	}
	if err := t.client.Set(ctx, redisKeyPrefix+entry.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set entry %s in redis: %w", entry.ID, err)
	}
	t.logger.Debug().Str("memory_id", entry.ID).Dur("ttl", ttl).Msg("Entry written to Redis.")
	return nil
}

// Get retrieves and deserializes an entry. A missing or natively expired key
// is ErrNotFound.
func (t *RedisTier) Get(ctx context.Context, id string) (*Entry, error) {
	data, err := t.client.Get(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry %s from redis: %w", id, err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached entry %s: %w", id, err)
	}
	t.logger.Debug().Str("memory_id", id).Msg("Redis cache hit.")
	return &entry, nil
}

// Delete removes the key, reporting whether it existed.
func (t *RedisTier) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := t.client.Del(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete entry %s from redis: %w", id, err)
	}
	return removed > 0, nil
}

// Close closes the Redis client connection.
func (t *RedisTier) Close() error {
	if t.client != nil {
		t.logger.Info().Msg("Closing Redis client connection...")
		return t.client.Close()
	}
	return nil
}
