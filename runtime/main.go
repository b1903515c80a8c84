// Package runtime serializes every change to a panel onto a single goroutine.
//
// The core propagates synchronously and is not safe for concurrent use, so HTTP handlers, the simulator and the terminal monitor submit jobs instead of touching the panel directly.
// A job runs to completion (including all propagation it causes) before the next one starts.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shingou_runtime_jobs_total",
		Help: "Jobs run by result",
	}, []string{"result"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shingou_runtime_job_duration_seconds",
		Help:    "Time taken by a job, including the propagation it causes",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})
)

type job struct {
	id      uuid.UUID
	comment string
	fn      func() error
	// done is nil for jobs nobody waits for.
	done chan error
}

type Instance struct {
	jobs chan job
}

// NewInstance returns an Instance buffering up to backlog submitted jobs.
func NewInstance(backlog int) *Instance {
	return &Instance{jobs: make(chan job, backlog)}
}

// Submit queues fn without waiting for it. Errors are logged.
func (i *Instance) Submit(comment string, fn func() error) uuid.UUID {
	j := job{id: uuid.New(), comment: comment, fn: fn}
	i.jobs <- j
	return j.id
}

// Do runs fn on the runtime's goroutine and returns its error.
// If ctx is done before fn is started, fn is never run.
func (i *Instance) Do(ctx context.Context, comment string, fn func() error) error {
	started := make(chan struct{})
	j := job{id: uuid.New(), comment: comment, done: make(chan error, 1)}
	j.fn = func() error {
		close(started)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("skipped %s: %w", comment, err)
		}
		return fn()
	}
	select {
	case i.jobs <- j:
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", comment, ctx.Err())
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		select {
		case <-started:
			// already running; its result is still delivered
			return <-j.done
		default:
			return fmt.Errorf("wait %s: %w", comment, ctx.Err())
		}
	}
}

// Run executes jobs in submission order until ctx is done.
func (i *Instance) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-i.jobs:
			i.run(j)
		}
	}
}

func (i *Instance) run(j job) {
	start := time.Now()
	err := j.fn()
	jobDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		jobsTotal.WithLabelValues("error").Inc()
		zap.S().Warnw("runtime: job failed",
			"job", j.id,
			"comment", j.comment,
			"err", err)
	} else {
		jobsTotal.WithLabelValues("ok").Inc()
		zap.S().Debugw("runtime: job done",
			"job", j.id,
			"comment", j.comment)
	}
	if j.done != nil {
		j.done <- err
	}
}
