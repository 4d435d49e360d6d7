// Package redislimiter is the multi-node assertion throttle: a
// sliding-window limiter over Redis sorted sets, one key per
// bucket/caller pair with server-side expiry.
package redislimiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limit caps attempts per key to Attempts within Window.
type Limit struct {
	Attempts int
	Window   time.Duration
}

// DefaultLimit applies to buckets with no configured limit.
var DefaultLimit = Limit{Attempts: 100, Window: time.Minute}

// Limiter is a Redis-backed sliding-window limiter.
type Limiter struct {
	rdb    *redis.Client
	limits map[string]Limit
}

// New constructs a limiter over rdb with the given per-bucket limits.
func New(rdb *redis.Client, limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Limiter{rdb: rdb, limits: limits}
}

func (l *Limiter) limit(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return DefaultLimit
}

// Allow records one attempt for key in bucket and reports whether it
// fits the bucket's window. The attempt is withdrawn again when it
// overflows the limit, so a blocked caller does not extend its own
// penalty.
func (l *Limiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("redislimiter: bucket and key required")
	}

	lim := l.limit(bucket)
	now := time.Now().UnixMilli()
	windowStart := now - lim.Window.Milliseconds()
	stateKey := "assert:throttle:" + bucket + ":" + key

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, stateKey, redis.Z{Score: float64(now), Member: now})
	pipe.ZRemRangeByScore(ctx, stateKey, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, stateKey)
	pipe.Expire(ctx, stateKey, lim.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redislimiter: %w", err)
	}

	count, err := countCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redislimiter: %w", err)
	}
	if count > int64(lim.Attempts) {
		l.rdb.ZRem(ctx, stateKey, now)
		return false, nil
	}
	return true, nil
}
