package scheduler

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeMaintainer struct {
	offline int32
	expired int32
}

func (m *fakeMaintainer) DetectOffline(ctx context.Context) (int, error) {
	atomic.AddInt32(&m.offline, 1)
	return 0, nil
}

func (m *fakeMaintainer) ExpireCommands(ctx context.Context) (int64, error) {
	atomic.AddInt32(&m.expired, 1)
	return 0, errors.New("database is down")
}

type fakeDedupe struct{ calls int32 }

func (d *fakeDedupe) Sweep() int {
	atomic.AddInt32(&d.calls, 1)
	return 1
}

type fakeLimiter struct{ maxAge time.Duration }

func (l *fakeLimiter) Sweep(maxAge time.Duration) int {
	l.maxAge = maxAge
	return 0
}

func testConfig() *config.Config {
	return &config.Config{
		Alerting: config.AlertingConfig{
			SweepInterval:        time.Minute,
			OfflineCheckInterval: time.Minute,
		},
		Commands: config.CommandConfig{ExpirySweepInterval: time.Minute},
	}
}

func TestMaintenanceJobs(t *testing.T) {
	m := &fakeMaintainer{}
	dedupe := &fakeDedupe{}
	limiter := &fakeLimiter{}

	jobs := MaintenanceJobs(testConfig(), m, Sweepers{Dedupe: dedupe, Limiter: limiter}, quietLogger())

	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name)
		assert.Equal(t, time.Minute, j.Interval)
	}
	assert.Equal(t, []string{"detect-offline", "expire-commands", "sweep-alert-dedupe", "sweep-rate-limits"}, names)

	ctx := context.Background()
	assert.NoError(t, jobs[0].Run(ctx))
	assert.Error(t, jobs[1].Run(ctx))
	assert.NoError(t, jobs[2].Run(ctx))
	assert.NoError(t, jobs[3].Run(ctx))

	assert.Equal(t, int32(1), atomic.LoadInt32(&m.offline))
	assert.Equal(t, int32(1), atomic.LoadInt32(&m.expired))
	assert.Equal(t, int32(1), atomic.LoadInt32(&dedupe.calls))
	assert.Equal(t, limiterIdle, limiter.maxAge)
}

func TestMaintenanceJobs_RedisBackendsNeedNoSweep(t *testing.T) {
	jobs := MaintenanceJobs(testConfig(), &fakeMaintainer{}, Sweepers{}, quietLogger())
	assert.Len(t, jobs, 2)
}

func TestScheduler_RunsJobsUntilCancelled(t *testing.T) {
	var ticks, failures int32
	s, err := New(quietLogger(), nil,
		Job{Name: "tick", Interval: 20 * time.Millisecond, Run: func(ctx context.Context) error {
			atomic.AddInt32(&ticks, 1)
			return nil
		}},
		Job{Name: "fails", Interval: 20 * time.Millisecond, Run: func(ctx context.Context) error {
			atomic.AddInt32(&failures, 1)
			return errors.New("boom")
		}},
		Job{Name: "disabled", Interval: 0, Run: func(ctx context.Context) error {
			t.Error("disabled job ran")
			return nil
		}},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ticks) >= 2 && atomic.LoadInt32(&failures) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
