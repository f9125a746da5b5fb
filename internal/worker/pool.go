// Package worker runs fire-and-forget tasks under admission control while
// still observing how each one ends.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/souravmenon1999/dex-order-engine/internal/logging"
	"github.com/souravmenon1999/dex-order-engine/internal/metrics"
	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

// Task is a unit of work. It must return when ctx is done.
type Task func(ctx context.Context) error

// Result describes a finished task.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Option configures a Pool.
type Option func(*Pool)

// WithOnComplete registers a hook called after every task, from the
// task's goroutine.
func WithOnComplete(fn func(Result)) Option {
	return func(p *Pool) { p.onComplete = fn }
}

// Pool admits at most size concurrent tasks. Callers never wait for a
// task; the pool does.
type Pool struct {
	sem        *semaphore.Weighted
	size       int64
	ctx        context.Context
	cancel     context.CancelFunc
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	onComplete func(Result)

	mu       sync.Mutex // guards closed and wg.Add
	closed   bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewPool creates a pool whose tasks run under a child of parent.
func NewPool(parent context.Context, size int64, m *metrics.Metrics, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(parent)
	p := &Pool{
		sem:     semaphore.NewWeighted(size),
		size:    size,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logging.Component("worker"),
		metrics: m,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TryGo starts task if a slot is free. It never blocks; a full or closed
// pool returns an ErrCapacityExceeded TradingError.
func (p *Pool) TryGo(name string, task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.NewError(types.ErrCapacityExceeded, "engine is shutting down", types.ErrBasePoolFull)
	}
	if !p.sem.TryAcquire(1) {
		p.mu.Unlock()
		return types.NewError(types.ErrCapacityExceeded, "too many orders in flight", types.ErrBasePoolFull)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.metrics.SetInFlight(p.inFlight.Add(1))
	go p.run(name, task)
	return nil
}

func (p *Pool) run(name string, task Task) {
	start := time.Now()
	var err error
	defer func() {
		res := Result{Name: name, Err: err, Duration: time.Since(start)}
		p.report(res)
		p.metrics.SetInFlight(p.inFlight.Add(-1))
		p.sem.Release(1)
		p.wg.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()
	err = task(p.ctx)
}

func (p *Pool) report(res Result) {
	result := "success"
	ev := p.logger.Debug()
	if res.Err != nil {
		result = "failure"
		ev = p.logger.Info().Err(res.Err)
	}
	ev.Str("task", res.Name).Dur("duration", res.Duration).Msg("task finished")
	p.metrics.ObservePipeline(result, res.Duration)

	if p.onComplete != nil {
		p.onComplete(res)
	}
}

// InFlight returns the number of running tasks.
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

// Size returns the admission limit.
func (p *Pool) Size() int64 {
	return p.size
}

// Shutdown refuses new tasks, cancels running ones and waits until they
// return or ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown: %d tasks still running: %w", p.InFlight(), ctx.Err())
	}
}
