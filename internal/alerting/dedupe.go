package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/cache"
)

// DefaultDedupeWindow is how long a sent alert suppresses repeats of the same key
const DefaultDedupeWindow = 30 * time.Minute

// DedupeCache gates outbound notifications per device and alert key
type DedupeCache interface {
	ShouldSend(ctx context.Context, key string) bool
	MarkSent(ctx context.Context, key string)
}

// MemoryDedupe keeps send times in process. Sweep bounds its size.
type MemoryDedupe struct {
	mu     sync.Mutex
	sent   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewMemoryDedupe creates an in-process dedupe cache. A nil clock uses time.Now.
func NewMemoryDedupe(window time.Duration, now func() time.Time) *MemoryDedupe {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryDedupe{sent: make(map[string]time.Time), window: window, now: now}
}

func (d *MemoryDedupe) ShouldSend(ctx context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.sent[key]
	return !ok || d.now().Sub(last) >= d.window
}

func (d *MemoryDedupe) MarkSent(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[key] = d.now()
}

// Sweep evicts entries older than the window and returns how many were removed
func (d *MemoryDedupe) Sweep() int {
	cutoff := d.now().Add(-d.window)

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for k, t := range d.sent {
		if !t.After(cutoff) {
			delete(d.sent, k)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked keys
func (d *MemoryDedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

// RedisDedupe stores alert:<key> with a TTL of the window, so expiry needs no sweep
type RedisDedupe struct {
	client cache.RedisClient
	window time.Duration
}

// NewRedisDedupe creates a dedupe cache shared across instances
func NewRedisDedupe(client cache.RedisClient, window time.Duration) *RedisDedupe {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &RedisDedupe{client: client, window: window}
}

// ShouldSend fails open so a Redis outage never silences alerts
func (d *RedisDedupe) ShouldSend(ctx context.Context, key string) bool {
	exists, err := d.client.Exists(ctx, "alert:"+key)
	if err != nil {
		return true
	}
	return !exists
}

func (d *RedisDedupe) MarkSent(ctx context.Context, key string) {
	_ = d.client.Set(ctx, "alert:"+key, "1", d.window)
}
