package scheduler

import (
	"context"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"

	"github.com/sirupsen/logrus"
)

// Maintainer is the part of the service the jobs drive
type Maintainer interface {
	DetectOffline(ctx context.Context) (int, error)
	ExpireCommands(ctx context.Context) (int64, error)
}

// DedupeSweeper drops expired alert dedupe entries
type DedupeSweeper interface {
	Sweep() int
}

// LimiterSweeper drops rate limit keys idle for longer than maxAge
type LimiterSweeper interface {
	Sweep(maxAge time.Duration) int
}

// Sweepers are the in-process caches that need pruning. Either may be nil
// when the Redis backend is used, since Redis expires its own keys.
type Sweepers struct {
	Dedupe  DedupeSweeper
	Limiter LimiterSweeper
}

// limiterIdle is how long a rate limit key may sit unused before it is pruned.
// It must exceed every configured interval.
const limiterIdle = 10 * time.Minute

// MaintenanceJobs builds the standard job set from configuration
func MaintenanceJobs(cfg *config.Config, svc Maintainer, sweepers Sweepers, log *logrus.Logger) []Job {
	jobs := []Job{
		{
			Name:     "detect-offline",
			Interval: cfg.Alerting.OfflineCheckInterval,
			Run: func(ctx context.Context) error {
				_, err := svc.DetectOffline(ctx)
				return err
			},
		},
		{
			Name:     "expire-commands",
			Interval: cfg.Commands.ExpirySweepInterval,
			Run: func(ctx context.Context) error {
				_, err := svc.ExpireCommands(ctx)
				return err
			},
		},
	}

	if sweepers.Dedupe != nil {
		jobs = append(jobs, Job{
			Name:     "sweep-alert-dedupe",
			Interval: cfg.Alerting.SweepInterval,
			Run: func(ctx context.Context) error {
				if n := sweepers.Dedupe.Sweep(); n > 0 {
					log.WithField("removed", n).Debug("Swept alert dedupe entries")
				}
				return nil
			},
		})
	}

	if sweepers.Limiter != nil {
		jobs = append(jobs, Job{
			Name:     "sweep-rate-limits",
			Interval: cfg.Alerting.SweepInterval,
			Run: func(ctx context.Context) error {
				if n := sweepers.Limiter.Sweep(limiterIdle); n > 0 {
					log.WithField("removed", n).Debug("Swept rate limit keys")
				}
				return nil
			},
		})
	}

	return jobs
}
