package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Pinger is the minimal probe surface shared by the pgx pool and the Kafka
// client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns db, redis, and broker probes. Nil
// dependencies yield a "not configured" error so a missing wire shows up in
// readyz instead of passing silently.
func BuildReadinessChecks(pool Pinger, rdb *redis.Client, broker Pinger) (
	dbCheck func(ctx context.Context) error,
	redisCheck func(ctx context.Context) error,
	brokerCheck func(ctx context.Context) error,
) {
	dbCheck = func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck = func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	brokerCheck = func(ctx context.Context) error {
		if broker == nil {
			return fmt.Errorf("broker not configured")
		}
		return broker.Ping(ctx)
	}
	return dbCheck, redisCheck, brokerCheck
}
