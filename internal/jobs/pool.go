// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package jobs runs batches of independent jobs on a bounded number of
// goroutines.
package jobs

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool limits the number of jobs that run at the same time
type Pool struct {
	workers int
}

// New returns a pool of the given size, one worker per CPU if workers <= 0
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Workers returns the pool size
func (p *Pool) Workers() int { return p.workers }

// Batch is a set of jobs that is waited for as a whole. The first job
// error cancels the context passed to the remaining jobs.
type Batch struct {
	g   *errgroup.Group
	ctx context.Context
}

// Batch starts a new batch
func (p *Pool) Batch(ctx context.Context) *Batch {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	return &Batch{g: g, ctx: gctx}
}

// Submit queues a job. It blocks while all workers are busy.
func (b *Batch) Submit(job func(ctx context.Context) error) {
	b.g.Go(func() error {
		if err := b.ctx.Err(); err != nil {
			return err
		}
		return job(b.ctx)
	})
}

// Wait blocks until all jobs finished and returns the first error
func (b *Batch) Wait() error {
	return b.g.Wait()
}

// Each runs job for 0..n-1 as one batch
func (p *Pool) Each(ctx context.Context, n int, job func(ctx context.Context, i int) error) error {
	b := p.Batch(ctx)
	for i := 0; i < n; i++ {
		b.Submit(func(ctx context.Context) error { return job(ctx, i) })
	}
	return b.Wait()
}
