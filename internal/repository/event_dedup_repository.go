package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spacehub/booking-backend/internal/config"
)

// NewRedisClient creates a redis client from configuration
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisEventDeduplicator remembers gateway event ids for a TTL
type RedisEventDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisEventDeduplicator creates a deduplicator over client
func NewRedisEventDeduplicator(client *redis.Client, ttl time.Duration) *RedisEventDeduplicator {
	return &RedisEventDeduplicator{client: client, ttl: ttl}
}

// Key builds the redis key for a gateway event id
func (d *RedisEventDeduplicator) Key(eventID string) string {
	return fmt.Sprintf("gateway_event:%s", eventID)
}

// Seen marks eventID as processed and reports whether it had been seen before
func (d *RedisEventDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	if d.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := d.client.SetNX(ctx, d.Key(eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record gateway event: %w", err)
	}
	return !ok, nil
}

// Forget removes an event id so a failed delivery can be processed again
func (d *RedisEventDeduplicator) Forget(ctx context.Context, eventID string) error {
	if d.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := d.client.Del(ctx, d.Key(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to forget gateway event: %w", err)
	}
	return nil
}
