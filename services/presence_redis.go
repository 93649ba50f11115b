package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "presence:"

// RedisPresenceStore keeps liveness records in Redis so multiple relay
// instances share one presence view. The key TTL only bounds storage; online
// status is always derived from the stored timestamp so the freshness window
// stays exact and configurable independently of Redis expiry.
type RedisPresenceStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisPresenceStore creates a store whose keys expire after ttl. Pass at
// least twice the online window so a record never expires while it could
// still count as online.
func NewRedisPresenceStore(redisClient *redis.Client, ttl time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

func (s *RedisPresenceStore) Touch(ctx context.Context, userID string, ts time.Time) error {
	key := presenceKeyPrefix + userID
	if err := s.redis.Set(ctx, key, ts.UnixMilli(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

func (s *RedisPresenceStore) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	key := presenceKeyPrefix + userID

	millis, err := s.redis.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get presence: %w", err)
	}

	return time.UnixMilli(millis), true, nil
}
