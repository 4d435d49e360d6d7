// Package redisstore provides the Redis-backed permission cache for
// multi-node deployments where every node should see the same expiry.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/identigraph/assertkit/assert"
)

// PermissionCache stores permission sets as JSON values with a
// server-side TTL, so expiry needs no lazy evaluation on read.
type PermissionCache struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
}

var _ assert.PermissionCache = (*PermissionCache)(nil)

// NewPermissionCache creates a cache on rdb under keyPrefix with the
// given per-entry TTL.
func NewPermissionCache(rdb *redis.Client, keyPrefix string, ttl time.Duration) *PermissionCache {
	if keyPrefix == "" {
		keyPrefix = "assert:permission:"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PermissionCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (c *PermissionCache) key(username string) string { return c.keyNS + username }

func (c *PermissionCache) Get(ctx context.Context, username string) ([]string, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(username)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var permissions []string
	if err := json.Unmarshal(raw, &permissions); err != nil {
		return nil, false, err
	}
	return permissions, true, nil
}

func (c *PermissionCache) Put(ctx context.Context, username string, permissions []string) error {
	raw, err := json.Marshal(permissions)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(username), raw, c.ttl).Err()
}

// Del drops the cached entry, for management-plane invalidation after a
// permission change.
func (c *PermissionCache) Del(ctx context.Context, username string) error {
	return c.rdb.Del(ctx, c.key(username)).Err()
}
