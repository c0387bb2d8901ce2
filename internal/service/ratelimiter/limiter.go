// Package ratelimiter throttles outbound provider calls with token buckets.
// Buckets are keyed by provider id and shared across all in-flight
// evaluations in the process; the Redis variant shares them across
// instances.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skillsift/evalengine/internal/domain"
)

// Limiter answers whether a call against the keyed bucket may proceed now.
// Implementations fail open: infrastructure trouble never blocks a call.
type Limiter interface {
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// BucketConfig describes one token bucket.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64
}

// NewBucketConfigFromPerMinute converts a requests-per-minute limit into a
// bucket with matching burst capacity.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// BucketsForProviders builds one bucket per provider from its configured
// per-minute limit. Providers without a limit get no bucket and pass freely.
func BucketsForProviders(cfgs []domain.ProviderConfig) map[string]BucketConfig {
	buckets := map[string]BucketConfig{}
	for _, cfg := range cfgs {
		if cfg.RateLimitPerMin <= 0 {
			continue
		}
		buckets[cfg.ID] = NewBucketConfigFromPerMinute(cfg.RateLimitPerMin)
	}
	return buckets
}

// LocalLimiter enforces buckets in process memory. It is the default when
// no Redis is configured.
type LocalLimiter struct {
	mu       sync.Mutex
	configs  map[string]BucketConfig
	limiters map[string]*rate.Limiter
}

// NewLocalLimiter creates an in-process limiter over the given buckets.
func NewLocalLimiter(buckets map[string]BucketConfig) *LocalLimiter {
	if buckets == nil {
		buckets = map[string]BucketConfig{}
	}
	return &LocalLimiter{
		configs:  buckets,
		limiters: map[string]*rate.Limiter{},
	}
}

// Allow consumes cost tokens from the keyed bucket if they are available.
// Keys without a configured bucket always pass.
func (l *LocalLimiter) Allow(_ context.Context, key string, cost int64) (bool, time.Duration, error) {
	if l == nil {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		cfg, configured := l.configs[key]
		if !configured || cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
			l.mu.Unlock()
			return true, 0, nil
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RefillRate), int(cfg.Capacity))
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	now := time.Now()
	res := lim.ReserveN(now, int(cost))
	if !res.OK() {
		return false, 0, nil
	}
	delay := res.DelayFrom(now)
	if delay <= 0 {
		return true, 0, nil
	}
	res.CancelAt(now)
	return false, delay, nil
}

// SetBucketConfig replaces the bucket for key, resetting its token state.
// Callers use it to tighten a bucket when a provider reports its limits.
func (l *LocalLimiter) SetBucketConfig(key string, cfg BucketConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[key] = cfg
	delete(l.limiters, key)
}

// Wait blocks until the keyed bucket admits one call or the context ends.
// Limiter errors fail open immediately.
func Wait(ctx context.Context, l Limiter, key string) error {
	if l == nil {
		return nil
	}
	for {
		allowed, retryAfter, err := l.Allow(ctx, key, 1)
		if err != nil || allowed {
			return nil
		}
		if retryAfter <= 0 {
			retryAfter = 50 * time.Millisecond
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
