// Package workerpool provides a small bounded goroutine pool for
// CPU-bound ingestion work (text extraction, chunking). Replaces a bare
// `go s.pipeline.ProcessDocument(...)` dispatch with a semaphore-bounded
// one so "multiple ingestions run concurrently bounded by the worker
// pool" (spec §5) is an actual invariant rather than an accident of
// unbounded goroutines.
package workerpool

import (
	"context"
	"log/slog"
)

// Pool runs submitted jobs on at most `size` goroutines at once.
type Pool struct {
	sem chan struct{}
}

// New creates a Pool with the given concurrency limit. size <= 0 is
// treated as 1.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit returns immediately; fn runs on its own goroutine once a slot
// is free. If ctx is cancelled before a slot frees, fn never runs and
// the job is dropped with a warning. Callers that need to know fn's
// outcome report it themselves (fn already has the job's ctx and ID for
// logging).
func (p *Pool) Submit(ctx context.Context, jobID string, fn func(ctx context.Context) error) {
	go func() {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			slog.Warn("workerpool: submit cancelled before a slot freed", "job_id", jobID, "error", ctx.Err())
			return
		}
		defer func() { <-p.sem }()
		if err := fn(ctx); err != nil {
			slog.Error("workerpool: job failed", "job_id", jobID, "error", err)
		}
	}()
}

// InFlight returns the number of jobs currently holding a slot.
func (p *Pool) InFlight() int {
	return len(p.sem)
}

// Capacity returns the pool's concurrency limit.
func (p *Pool) Capacity() int {
	return cap(p.sem)
}
