// Package memorystore provides the in-process permission cache backend.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/identigraph/assertkit/assert"
)

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = 5 * time.Minute

// PermissionCache is an in-memory assert.PermissionCache with per-entry
// expiry. Expiry is evaluated lazily on read; a background sweep keeps
// the map from accumulating entries for principals that never return.
type PermissionCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	data   map[string]entry
	closed chan struct{}
}

type entry struct {
	permissions []string
	expires     time.Time
}

var _ assert.PermissionCache = (*PermissionCache)(nil)

// NewPermissionCache creates a cache with the given per-entry TTL.
// A non-positive ttl selects DefaultTTL.
func NewPermissionCache(ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &PermissionCache{
		ttl:    ttl,
		now:    time.Now,
		data:   make(map[string]entry),
		closed: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached permission set while unexpired. An expired
// entry is evicted and reported as a miss.
func (c *PermissionCache) Get(_ context.Context, username string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[username]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expires) {
		delete(c.data, username)
		return nil, false, nil
	}
	out := make([]string, len(e.permissions))
	copy(out, e.permissions)
	return out, true, nil
}

// Put stores the permission set with a fresh TTL, replacing any entry.
func (c *PermissionCache) Put(_ context.Context, username string, permissions []string) error {
	stored := make([]string, len(permissions))
	copy(stored, permissions)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[username] = entry{permissions: stored, expires: c.now().Add(c.ttl)}
	return nil
}

// Close stops the background sweep goroutine.
func (c *PermissionCache) Close() error {
	close(c.closed)
	return nil
}

func (c *PermissionCache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.closed:
			return
		}
	}
}

func (c *PermissionCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for username, e := range c.data {
		if now.After(e.expires) {
			delete(c.data, username)
		}
	}
}
