// Package limiter runs jobs with bounded parallelism, starting them in the
// order they were enqueued.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is delivered to jobs that were still pending when the limiter
// was closed, and to jobs enqueued afterwards.
var ErrClosed = errors.New("limiter closed")

// Job is a unit of work. The context is cancelled when the limiter closes.
type Job func(ctx context.Context) error

type task struct {
	job  Job
	done chan error
}

// Limiter admits at most Capacity jobs at once. A single dispatcher
// goroutine acquires slots, so jobs start strictly in FIFO order.
type Limiter struct {
	capacity int
	sem      *semaphore.Weighted

	mu      sync.Mutex
	pending []*task
	closed  bool
	wake    chan struct{}

	running atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// New creates a limiter with capacity n. n <= 0 selects the CPU count.
func New(n int) *Limiter {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		capacity: n,
		sem:      semaphore.NewWeighted(int64(n)),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	l.wg.Add(1)
	go l.dispatch()
	return l
}

// Enqueue schedules job and returns a channel that receives its result
// exactly once.
func (l *Limiter) Enqueue(job Job) <-chan error {
	done := make(chan error, 1)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		done <- ErrClosed
		return done
	}
	l.pending = append(l.pending, &task{job: job, done: done})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return done
}

// Do enqueues job and waits for its result.
func (l *Limiter) Do(ctx context.Context, job Job) error {
	select {
	case err := <-l.Enqueue(job):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Capacity returns the concurrency bound.
func (l *Limiter) Capacity() int { return l.capacity }

// Running returns the number of jobs currently executing.
func (l *Limiter) Running() int { return int(l.running.Load()) }

// Pending returns the number of jobs waiting for a slot.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Close fails all pending jobs with ErrClosed, cancels the context of
// running jobs and waits for them to return.
func (l *Limiter) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		pending := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, t := range pending {
			t.done <- ErrClosed
		}
		l.cancel()
	})
	l.wg.Wait()
}

func (l *Limiter) dispatch() {
	defer l.wg.Done()
	for l.waitForWork() {
		if err := l.sem.Acquire(l.ctx, 1); err != nil {
			return
		}
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.mu.Unlock()
			l.sem.Release(1)
			continue
		}
		t := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		l.mu.Unlock()

		l.running.Add(1)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.sem.Release(1)
			err := run(l.ctx, t.job)
			l.running.Add(-1)
			t.done <- err
		}()
	}
}

func (l *Limiter) waitForWork() bool {
	for {
		l.mu.Lock()
		n, closed := len(l.pending), l.closed
		l.mu.Unlock()
		if closed {
			return false
		}
		if n > 0 {
			return true
		}
		select {
		case <-l.wake:
		case <-l.ctx.Done():
			return false
		}
	}
}

func run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}
