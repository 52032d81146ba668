package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/metrics"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	errQueueFull        = errors.New("background queue is full")
	errProcessorStopped = errors.New("background processor stopped")
)

// Task is one unit of fire-and-forget work
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// BackgroundProcessor runs tasks that must not hold up a device response:
// notifications, shift rollups, publishes and search indexing.
type BackgroundProcessor struct {
	log     *logrus.Logger
	workers int
	queue   chan Task

	wg      sync.WaitGroup // workers
	pending sync.WaitGroup // queued or running tasks

	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc

	queueCapacityAlertThreshold float64

	// enqueueWait bounds how long Submit waits for a free slot
	enqueueWait time.Duration
}

const defaultEnqueueWait = 100 * time.Millisecond

// NewBackgroundProcessor starts the worker pool
func NewBackgroundProcessor(log *logrus.Logger, workers, capacity int) *BackgroundProcessor {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &BackgroundProcessor{
		log:                         log,
		workers:                     workers,
		queue:                       make(chan Task, capacity),
		ctx:                         ctx,
		cancel:                      cancel,
		queueCapacityAlertThreshold: 0.8,
		enqueueWait:                 defaultEnqueueWait,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	go p.monitorQueueCapacity()

	p.log.Infof("Started background processor with %d workers", workers)
	return p
}

func (p *BackgroundProcessor) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.log.Debugf("Background worker %d shutting down", id)
			return
		case task := <-p.queue:
			p.run(task)
		}
	}
}

func (p *BackgroundProcessor) monitorQueueCapacity() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			length, capacity := len(p.queue), cap(p.queue)
			usage := float64(length) / float64(capacity)
			if usage >= p.queueCapacityAlertThreshold {
				p.log.Warnf("Background queue at %d%% capacity (%d/%d)", int(usage*100), length, capacity)
			}
		}
	}
}

func (p *BackgroundProcessor) run(task Task) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.BackgroundFailures.WithLabelValues(task.Name).Inc()
			p.log.WithField("task", task.Name).Errorf("Background task panicked: %v", r)
		}
	}()

	start := time.Now()
	if err := task.Run(p.ctx); err != nil {
		metrics.BackgroundFailures.WithLabelValues(task.Name).Inc()
		p.log.WithError(err).WithField("task", task.Name).Error("Background task failed")
		return
	}
	p.log.WithField("task", task.Name).Debugf("Background task finished in %v", time.Since(start))
}

// Submit queues a task. When the queue stays full for enqueueWait the task
// runs on the caller's goroutine rather than being dropped.
func (p *BackgroundProcessor) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return errProcessorStopped
	}

	p.pending.Add(1)
	select {
	case p.queue <- task:
		return nil
	default:
	}

	timer := time.NewTimer(p.enqueueWait)
	defer timer.Stop()

	select {
	case p.queue <- task:
		return nil
	case <-timer.C:
		metrics.BackgroundInline.WithLabelValues(task.Name).Inc()
		p.log.WithFields(logrus.Fields{"task": task.Name, "waited": p.enqueueWait}).
			Warn("Background queue full, running task inline")
		p.run(task)
		return errQueueFull
	}
}

// Wait blocks until every submitted task has finished
func (p *BackgroundProcessor) Wait() {
	p.pending.Wait()
}

// Stop refuses new tasks, drains the queue and stops the workers
func (p *BackgroundProcessor) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.log.Info("Stopping background processor...")

	drained := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-time.After(timeout):
		err = fmt.Errorf("background processor did not drain within %s, %d tasks queued", timeout, len(p.queue))
	}

	p.cancel()
	p.wg.Wait()
	p.log.Info("Background processor stopped")
	return err
}

// QueueStats returns current queue statistics
func (p *BackgroundProcessor) QueueStats() map[string]interface{} {
	return map[string]interface{}{
		"queue_length":   len(p.queue),
		"queue_capacity": cap(p.queue),
		"worker_count":   p.workers,
	}
}
