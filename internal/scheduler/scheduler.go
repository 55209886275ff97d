// Package scheduler runs periodic background jobs such as the seat-lock
// sweep and the payment-window expiry.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job runs fn every interval until its context is cancelled or Stop is
// called.  A failing run is logged and retried on the next tick; it never
// stops the job.
type Job struct {
	name       string
	interval   time.Duration
	fn         func(ctx context.Context) error
	logger     *logrus.Logger
	runAtStart bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Job.
type Option func(*Job)

// RunAtStart makes the job run once immediately before the first tick.
func RunAtStart() Option {
	return func(j *Job) { j.runAtStart = true }
}

// New returns a stopped Job.
func New(name string, interval time.Duration, fn func(ctx context.Context) error, logger *logrus.Logger, opts ...Option) *Job {
	j := &Job{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start launches the job in its own goroutine.  Calling Start on a
// running job does nothing.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		j.Run(ctx)
	}(j.done)
}

// Stop cancels the job and waits for the current run to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run blocks, running the job on every tick until ctx is done.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log := j.logger.WithField("job", j.name)
	log.WithField("interval", j.interval.String()).Info("scheduler started")

	if j.runAtStart {
		j.tick(ctx, log)
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
			j.tick(ctx, log)
		}
	}
}

func (j *Job) tick(ctx context.Context, log *logrus.Entry) {
	if err := j.fn(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("scheduled run failed")
	}
}
