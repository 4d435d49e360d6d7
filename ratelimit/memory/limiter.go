// Package memorylimiter is the single-node assertion throttle: a
// sliding-window limiter over in-process timestamp buckets.
package memorylimiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limit caps attempts per key to Attempts within Window.
type Limit struct {
	Attempts int
	Window   time.Duration
}

// DefaultLimit applies to buckets with no configured limit.
var DefaultLimit = Limit{Attempts: 100, Window: time.Minute}

type bucketState struct {
	// attempt times in Unix ms, oldest first
	timestamps []int64
}

// Limiter is an in-memory sliding-window rate limiter. Buckets whose
// window emptied are dropped so the map does not grow without bound.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string]*bucketState
}

// New constructs a limiter with the given per-bucket limits.
func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Limiter{
		limits:  limits,
		buckets: make(map[string]*bucketState),
	}
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
// fits the bucket's window. A denied attempt is not recorded, so a
// blocked caller does not extend its own penalty.
func (l *Limiter) Allow(_ context.Context, bucket, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("memorylimiter: bucket and key required")
	}

	lim := l.limit(bucket)
	nowMs := time.Now().UnixMilli()
	windowStart := nowMs - lim.Window.Milliseconds()
	stateKey := bucket + ":" + key

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[stateKey]
	if !ok {
		b = &bucketState{}
		l.buckets[stateKey] = b
	}

	ts := b.timestamps
	prune := 0
	for prune < len(ts) && ts[prune] < windowStart {
		prune++
	}
	if prune > 0 {
		ts = ts[prune:]
	}

	if len(ts) >= lim.Attempts {
		b.timestamps = ts
		return false, nil
	}

	b.timestamps = append(ts, nowMs)
	return true, nil
}
