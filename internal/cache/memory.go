package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryClient is an in-process RedisClient used for local runs without Redis
// and for tests of the Redis-backed components.
type MemoryClient struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// NewMemoryClient creates an empty in-process client. A nil clock uses time.Now.
func NewMemoryClient(now func() time.Time) *MemoryClient {
	if now == nil {
		now = time.Now
	}
	return &MemoryClient{items: make(map[string]memoryItem), now: now}
}

func (m *MemoryClient) lookup(key string) (memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (m *MemoryClient) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookup(key)
	if !ok {
		return "", ErrMiss
	}
	return item.value, nil
}

func (m *MemoryClient) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: value, expiresAt: m.expiry(expiration)}
	return nil
}

func (m *MemoryClient) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.items[key] = memoryItem{value: value, expiresAt: m.expiry(expiration)}
	return true, nil
}

// PTTL follows Redis: -2ns for a missing key, -1ns for a key without expiry
func (m *MemoryClient) PTTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookup(key)
	if !ok {
		return -2, nil
	}
	if item.expiresAt.IsZero() {
		return -1, nil
	}
	return item.expiresAt.Sub(m.now()), nil
}

func (m *MemoryClient) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryClient) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryClient) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryClient) Close() error {
	return nil
}
