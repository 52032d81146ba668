// Package scheduler runs the periodic maintenance jobs of the ingest service:
// offline detection, command expiry and the sweeps of the in-process caches.
package scheduler

import (
	"context"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/metrics"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Job is a named task run every Interval
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler wraps a gocron scheduler. Jobs never overlap with themselves.
type Scheduler struct {
	cron gocron.Scheduler
	jobs []Job
	app  *newrelic.Application
	log  *logrus.Logger
}

// New registers the jobs. Jobs with a non-positive interval are skipped.
func New(log *logrus.Logger, app *newrelic.Application, jobs ...Job) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "create scheduler")
	}
	return &Scheduler{cron: cron, jobs: jobs, app: app, log: log}, nil
}

// Run starts the jobs and blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.log.WithField("job", job.Name).Warn("Job has no interval, not scheduling it")
			continue
		}

		job := job
		_, err := s.cron.NewJob(
			gocron.DurationJob(job.Interval),
			gocron.NewTask(func() { s.runJob(ctx, job) }),
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return errors.Wrapf(err, "schedule job %s", job.Name)
		}
		s.log.WithFields(logrus.Fields{"job": job.Name, "interval": job.Interval}).Info("Scheduled job")
	}

	s.cron.Start()
	<-ctx.Done()

	s.log.Info("Stopping scheduler...")
	return s.cron.Shutdown()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	ctx, end := tracing.Background(s.app, ctx, "job:"+job.Name)
	defer end()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		metrics.BackgroundFailures.WithLabelValues("job:" + job.Name).Inc()
		s.log.WithError(err).WithField("job", job.Name).Error("Scheduled job failed")
		return
	}
	s.log.WithField("job", job.Name).Debugf("Scheduled job finished in %v", time.Since(start))
}
