package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skillsift/evalengine/internal/adapter/observability"
	"github.com/skillsift/evalengine/internal/domain"
)

const redisKeyPrefix = "evalengine:result:"

// Redis is a domain.ResultCache backed by go-redis with TTL expiry, shared
// across server and worker processes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis builds a Redis cache. ttl <= 0 stores entries without expiry.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get implements domain.ResultCache.
func (c *Redis) Get(ctx domain.Context, key string) (domain.Evaluation, bool, error) {
	val, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.RecordCacheMiss()
		return domain.Evaluation{}, false, nil
	}
	if err != nil {
		observability.RecordCacheMiss()
		return domain.Evaluation{}, false, fmt.Errorf("op=cache.Get: %w", err)
	}
	var ev domain.Evaluation
	if err := json.Unmarshal(val, &ev); err != nil {
		observability.RecordCacheMiss()
		return domain.Evaluation{}, false, fmt.Errorf("op=cache.Get: decode: %w", err)
	}
	observability.RecordCacheHit()
	return ev, true, nil
}

// Set implements domain.ResultCache.
func (c *Redis) Set(ctx domain.Context, key string, ev domain.Evaluation) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=cache.Set: encode: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.Set: %w", err)
	}
	return nil
}
