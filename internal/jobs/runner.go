// Package jobs runs brief pipelines off the request path with bounded concurrency.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/drcokefloat/scanx-brief/internal/logger"
)

const (
	DefaultConcurrency = 4
	DefaultTimeout     = 10 * time.Minute
)

var ErrClosed = errors.New("job runner is shut down")

// Job receives a context detached from the submitter and bounded by the runner's
// per-job timeout.
type Job func(ctx context.Context) error

type Runner struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	log     *logger.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRunner(concurrency int, timeout time.Duration, log *logger.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
		log:     log.With("component", "jobs"),
		base:    base,
		cancel:  cancel,
	}
}

// Submit queues job and returns immediately. Jobs wait for a free slot in the
// background. A job whose slot is never granted because the runner was stopped
// still runs, with a canceled context, so it can record its own failure.
func (r *Runner) Submit(name string, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.wg.Add(1)
	go r.run(name, job)
	return nil
}

func (r *Runner) run(name string, job Job) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(r.base, r.timeout)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.log.Warn("job not scheduled", "job", name, "error", err)
	} else {
		defer r.sem.Release(1)
	}

	start := time.Now()
	err := r.safeRun(ctx, job)
	if err != nil {
		r.log.Error("job failed", "job", name, "duration", time.Since(start).String(), "error", err)
		return
	}
	r.log.Info("job finished", "job", name, "duration", time.Since(start).String())
}

func (r *Runner) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return job(ctx)
}

// Wait blocks until every submitted job has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting jobs and waits for in-flight ones. When ctx expires
// first, outstanding jobs are canceled and Shutdown still waits for them to return.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
