// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package workers provides the bounded pool that runs dump and restore work
// off the scheduler goroutines.
//
// A Pool admits at most Size tasks at a time; further submissions wait for a
// slot without blocking the caller. Each submission returns a Future that can
// be waited on, polled through Done, or cancelled. Cancelling a future (or
// closing the pool) cancels the task's context, which in turn kills any
// subprocess started with exec.CommandContext.
//
//	f := workers.Submit(ctx, pool, func(ctx context.Context) (Result, error) {
//	    return engine.CreateBackup(ctx, artifact.TypeFull), nil
//	})
//	res, err := f.Wait(ctx)
package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by futures submitted to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// DefaultSize is the pool size used when none is configured.
func DefaultSize() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

// Pool is a bounded worker pool.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	running atomic.Int64
	queued  atomic.Int64
}

// NewPool returns a pool admitting size concurrent tasks. A size below one
// uses DefaultSize.
func NewPool(size int) *Pool {
	if size < 1 {
		size = DefaultSize()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return p.size
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Queued returns the number of tasks waiting for a slot.
func (p *Pool) Queued() int {
	return int(p.queued.Load())
}

// Close cancels every queued and running task and waits for them to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Future is the eventual result of a submitted task.
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	val    T
	err    error
}

// Submit schedules fn on the pool. The task context is derived from ctx and
// is also cancelled when the future is cancelled or the pool is closed.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.cancel = func() {}
		f.err = ErrPoolClosed
		close(f.done)
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	taskCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	f.cancel = cancel

	p.queued.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(f.done)
		defer stop()
		defer cancel()

		err := p.sem.Acquire(taskCtx, 1)
		p.queued.Add(-1)
		if err != nil {
			f.err = err
			return
		}
		defer p.sem.Release(1)

		p.running.Add(1)
		defer p.running.Add(-1)

		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("worker panic: %v", r)
			}
		}()
		f.val, f.err = fn(taskCtx)
	}()
	return f
}

// Done is closed once the task has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Cancel requests cancellation of the task. It does not wait.
func (f *Future[T]) Cancel() {
	f.cancel()
}

// Wait blocks until the task finishes or ctx is done. When ctx ends first the
// task keeps running; call Cancel to stop it.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
