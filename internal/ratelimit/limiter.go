// Package ratelimit gates device calls to a minimum interval per key.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/cache"
)

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed bool
	Wait    time.Duration
}

// WaitMs is the remaining wait rounded up to whole milliseconds
func (d Decision) WaitMs() int64 {
	if d.Allowed || d.Wait <= 0 {
		return 0
	}
	ms := d.Wait / time.Millisecond
	if d.Wait%time.Millisecond != 0 {
		ms++
	}
	return int64(ms)
}

// Limiter allows at most one call per key within minInterval
type Limiter interface {
	Allow(ctx context.Context, key string, minInterval time.Duration) Decision
}

// Key builds the conventional deviceId:operation key
func Key(deviceID, operation string) string {
	return deviceID + ":" + operation
}

// Memory is a single-process limiter. Two racing calls on one key may both pass.
type Memory struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewMemory creates an in-process limiter. A nil clock uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{last: make(map[string]time.Time), now: now}
}

// Allow records the call time when it is allowed
func (m *Memory) Allow(ctx context.Context, key string, minInterval time.Duration) Decision {
	if minInterval <= 0 {
		return Decision{Allowed: true}
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.last[key]; ok {
		if elapsed := now.Sub(last); elapsed < minInterval {
			return Decision{Allowed: false, Wait: minInterval - elapsed}
		}
	}
	m.last[key] = now
	return Decision{Allowed: true}
}

// Sweep drops keys idle for longer than maxAge and returns how many were removed
func (m *Memory) Sweep(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, t := range m.last {
		if t.Before(cutoff) {
			delete(m.last, k)
			removed++
		}
	}
	return removed
}

// Redis shares the gate across instances using SET NX with a TTL of minInterval
type Redis struct {
	client cache.RedisClient
	prefix string
	now    func() time.Time
}

// NewRedis creates a limiter backed by Redis
func NewRedis(client cache.RedisClient) *Redis {
	return &Redis{client: client, prefix: "ratelimit:", now: time.Now}
}

// Allow fails open when Redis is unreachable, since throttling is best effort
func (r *Redis) Allow(ctx context.Context, key string, minInterval time.Duration) Decision {
	if minInterval <= 0 {
		return Decision{Allowed: true}
	}

	k := r.prefix + key
	ok, err := r.client.SetNX(ctx, k, strconv.FormatInt(r.now().UnixMilli(), 10), minInterval)
	if err != nil || ok {
		return Decision{Allowed: true}
	}

	ttl, err := r.client.PTTL(ctx, k)
	if err != nil || ttl <= 0 {
		// The key vanished or has no expiry, wait a full interval
		return Decision{Allowed: false, Wait: minInterval}
	}
	return Decision{Allowed: false, Wait: ttl}
}
