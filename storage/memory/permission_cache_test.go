package memorystore

import (
	"context"
	"testing"
	"time"
)

func TestGetMissesUnknownUser(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	defer cache.Close()

	_, ok, err := cache.Get(context.Background(), "jane.doe")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("unexpected hit")
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	defer cache.Close()

	clock := time.Now()
	cache.now = func() time.Time { return clock }

	if err := cache.Put(context.Background(), "jane.doe", []string{"viewer"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// just inside the window
	clock = clock.Add(59 * time.Second)
	permissions, ok, _ := cache.Get(context.Background(), "jane.doe")
	if !ok || len(permissions) != 1 || permissions[0] != "viewer" {
		t.Fatalf("expected a hit, got ok=%v %v", ok, permissions)
	}

	// just past it
	clock = clock.Add(2 * time.Second)
	if _, ok, _ := cache.Get(context.Background(), "jane.doe"); ok {
		t.Fatal("expired entry must miss")
	}
}

func TestPutReplacesAndRefreshes(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	defer cache.Close()

	clock := time.Now()
	cache.now = func() time.Time { return clock }

	_ = cache.Put(context.Background(), "jane.doe", []string{"viewer"})
	clock = clock.Add(45 * time.Second)
	_ = cache.Put(context.Background(), "jane.doe", []string{"editor"})

	// the first entry's deadline has passed, the replacement's has not
	clock = clock.Add(30 * time.Second)
	permissions, ok, _ := cache.Get(context.Background(), "jane.doe")
	if !ok || permissions[0] != "editor" {
		t.Fatalf("expected the refreshed entry, got ok=%v %v", ok, permissions)
	}
}

func TestGetReturnsACopy(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	defer cache.Close()

	_ = cache.Put(context.Background(), "jane.doe", []string{"viewer"})
	permissions, _, _ := cache.Get(context.Background(), "jane.doe")
	permissions[0] = "mutated"

	again, _, _ := cache.Get(context.Background(), "jane.doe")
	if again[0] != "viewer" {
		t.Fatal("callers must not be able to mutate the cached set")
	}
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	defer cache.Close()

	clock := time.Now()
	cache.now = func() time.Time { return clock }

	_ = cache.Put(context.Background(), "jane.doe", []string{"viewer"})
	_ = cache.Put(context.Background(), "john.roe", []string{"viewer"})

	clock = clock.Add(2 * time.Minute)
	cache.sweep()

	cache.mu.Lock()
	remaining := len(cache.data)
	cache.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("sweep left %d entries", remaining)
	}
}
