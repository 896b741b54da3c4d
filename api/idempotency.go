package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/afom12/Taskflow/internal/consts"
)

// RedisDeduper records processed request ids in Redis so every instance
// skips a request it has already seen.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, requestID string) string {
	return consts.DedupeKeyPrefix + userID + ":" + requestID
}

// Add records the request id and reports whether it was new.
func (r *RedisDeduper) Add(ctx context.Context, userID, requestID string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, requestID), 1, r.ttl).Result()
}

// Remove forgets a request id so a failed request can be retried.
func (r *RedisDeduper) Remove(ctx context.Context, userID, requestID string) error {
	return r.client.Del(ctx, r.key(userID, requestID)).Err()
}
