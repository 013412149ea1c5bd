package cron

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) DelIfValue(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryStore) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

func (m *memoryStore) held(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func TestRedisLockIsExclusiveAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	first, err := NewRedisLock(store, "bo:lock:cron-worker", 0, "worker-a")
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(store, "bo:lock:cron-worker", 0, "worker-b")

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if store.ttls["bo:lock:cron-worker"] != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", store.ttls["bo:lock:cron-worker"])
	}
	owner, _ := store.held("bo:lock:cron-worker")
	if !strings.HasPrefix(owner, "worker-a:") {
		t.Fatalf("expected owner to carry the worker id, got %q", owner)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second worker should not acquire a held lock")
	}

	if err := second.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, ok := store.held("bo:lock:cron-worker"); !ok {
		t.Fatal("a non-owner release must leave the lock held")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("second worker should acquire after release")
	}
}

func TestRedisLockReleaseAfterTakeover(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	stale, _ := NewRedisLock(store, "k", time.Minute, "worker-a")
	fresh, _ := NewRedisLock(store, "k", time.Minute, "worker-b")

	if ok, _ := stale.Acquire(ctx); !ok {
		t.Fatal("expected acquire")
	}
	store.expire("k")
	if ok, _ := fresh.Acquire(ctx); !ok {
		t.Fatal("expected takeover after expiry")
	}

	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release should be a no-op: %v", err)
	}
	owner, ok := store.held("k")
	if !ok || !strings.HasPrefix(owner, "worker-b:") {
		t.Fatalf("stale owner removed the new holder's lock: %q", owner)
	}
}

func TestRedisLockSurfacesStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	lock, _ := NewRedisLock(store, "k", time.Minute, "")

	if _, err := lock.Acquire(context.Background()); err == nil {
		t.Fatal("expected acquire error")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", 0, "w"); err == nil {
		t.Fatal("expected client error")
	}
	if _, err := NewRedisLock(newMemoryStore(), " ", 0, "w"); err == nil {
		t.Fatal("expected key error")
	}
}
