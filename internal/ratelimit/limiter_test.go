package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/cache"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func TestMemory_SecondCallWithinIntervalIsRejected(t *testing.T) {
	clock := newClock()
	l := NewMemory(clock.Now)
	ctx := context.Background()
	key := Key("OIL-0001", "heartbeat")

	first := l.Allow(ctx, key, 5*time.Second)
	assert.True(t, first.Allowed)

	clock.Advance(2 * time.Second)
	second := l.Allow(ctx, key, 5*time.Second)
	assert.False(t, second.Allowed)
	assert.Equal(t, 3*time.Second, second.Wait)
	assert.Equal(t, int64(3000), second.WaitMs())

	clock.Advance(3 * time.Second)
	third := l.Allow(ctx, key, 5*time.Second)
	assert.True(t, third.Allowed)
	assert.Equal(t, int64(0), third.WaitMs())
}

func TestMemory_RejectedCallDoesNotResetWindow(t *testing.T) {
	clock := newClock()
	l := NewMemory(clock.Now)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "k", time.Second).Allowed)
	clock.Advance(900 * time.Millisecond)
	assert.False(t, l.Allow(ctx, "k", time.Second).Allowed)
	clock.Advance(100 * time.Millisecond)
	assert.True(t, l.Allow(ctx, "k", time.Second).Allowed)
}

func TestMemory_KeysAreIndependent(t *testing.T) {
	clock := newClock()
	l := NewMemory(clock.Now)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, Key("OIL-0001", "pin"), 500*time.Millisecond).Allowed)
	assert.True(t, l.Allow(ctx, Key("OIL-0002", "pin"), 500*time.Millisecond).Allowed)
	assert.True(t, l.Allow(ctx, Key("OIL-0001", "telemetry"), 500*time.Millisecond).Allowed)
	assert.False(t, l.Allow(ctx, Key("OIL-0001", "pin"), 500*time.Millisecond).Allowed)
}

func TestMemory_ZeroIntervalAlwaysAllows(t *testing.T) {
	l := NewMemory(newClock().Now)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(ctx, "k", 0).Allowed)
	}
}

func TestMemory_Sweep(t *testing.T) {
	clock := newClock()
	l := NewMemory(clock.Now)
	ctx := context.Background()

	l.Allow(ctx, "old", time.Second)
	clock.Advance(time.Hour)
	l.Allow(ctx, "new", time.Second)

	assert.Equal(t, 1, l.Sweep(30*time.Minute))
	assert.True(t, l.Allow(ctx, "old", time.Second).Allowed)
	assert.False(t, l.Allow(ctx, "new", time.Second).Allowed)
}

func TestDecision_WaitMsRoundsUp(t *testing.T) {
	d := Decision{Allowed: false, Wait: 1500 * time.Microsecond}
	assert.Equal(t, int64(2), d.WaitMs())
}

func TestRedis_SharedGate(t *testing.T) {
	clock := newClock()
	client := cache.NewMemoryClient(clock.Now)
	l := NewRedis(client)
	l.now = clock.Now
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "OIL-0001:telemetry", 2*time.Second).Allowed)

	clock.Advance(500 * time.Millisecond)
	d := l.Allow(ctx, "OIL-0001:telemetry", 2*time.Second)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1500*time.Millisecond, d.Wait)

	clock.Advance(1500 * time.Millisecond)
	assert.True(t, l.Allow(ctx, "OIL-0001:telemetry", 2*time.Second).Allowed)
}
