package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Option configures a Pool.
type Option func(*poolOptions)

type poolOptions struct {
	workers        int
	maxOutstanding int
	logger         *slog.Logger
}

// WithWorkers sets the number of worker goroutines. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *poolOptions) {
		o.workers = n
	}
}

// WithMaxOutstanding sets the ceiling on submitted-but-not-retrieved tasks.
// Defaults to four tasks per worker.
func WithMaxOutstanding(n int) Option {
	return func(o *poolOptions) {
		o.maxOutstanding = n
	}
}

// WithLogger sets the logger for task failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *poolOptions) {
		o.logger = l
	}
}

// Pool runs vectorization tasks on a fixed set of workers.
//
// Every submitted task holds one outstanding slot until its result is
// retrieved with Poll or Take. Once all slots are taken Submit fails with
// ErrBackpressure and SubmitWait blocks, so callers must drain results to
// make progress.
type Pool struct {
	vectorizer     *Vectorizer
	workers        int
	maxOutstanding int
	logger         *slog.Logger

	slots       *semaphore.Weighted
	outstanding atomic.Int64
	jobs        chan Task
	results     chan Result

	// ctx is handed to running tasks and cancelled when the shutdown grace elapses.
	ctx    context.Context
	cancel context.CancelFunc
	// stopping is cancelled as soon as Shutdown starts, waking blocked submitters.
	stopping     context.Context
	stopSubmits  context.CancelFunc
	wg           sync.WaitGroup
	drained      chan struct{}
	closed       atomic.Bool
	submitMu     sync.RWMutex
	shutdownOnce sync.Once
}

// NewPool starts a pool that runs tasks through v.
func NewPool(v *Vectorizer, optFns ...Option) *Pool {
	o := poolOptions{}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	if o.maxOutstanding <= 0 {
		o.maxOutstanding = 4 * o.workers
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	p := &Pool{
		vectorizer:     v,
		workers:        o.workers,
		maxOutstanding: o.maxOutstanding,
		logger:         o.logger,
		slots:          semaphore.NewWeighted(int64(o.maxOutstanding)),
		// Both channels hold at most maxOutstanding items, so sends never block.
		jobs:    make(chan Task, o.maxOutstanding),
		results: make(chan Result, o.maxOutstanding),
		drained: make(chan struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.stopping, p.stopSubmits = context.WithCancel(context.Background())

	p.wg.Add(o.workers)
	for i := 0; i < o.workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.jobs {
		p.results <- p.run(task)
	}
}

func (p *Pool) run(task Task) (res Result) {
	start := time.Now()
	res.ID = task.ID

	defer func() {
		if r := recover(); r != nil {
			res.Vector = nil
			res.Err = fmt.Errorf("pipeline: task %q panicked: %v", task.ID, r)
			res.Reason = ReasonInternal
		}
		res.Elapsed = time.Since(start)
		if res.Err != nil {
			p.logger.Warn("vectorization failed",
				"id", res.ID,
				"reason", res.Reason.String(),
				"error", res.Err,
			)
		}
	}()

	if err := p.ctx.Err(); err != nil {
		res.Err, res.Reason = err, ReasonInternal
		return res
	}
	res.Vector, res.Reason, res.Err = p.vectorizer.Vectorize(p.ctx, task)
	return res
}

// Submit enqueues task without blocking. It returns ErrBackpressure when the
// outstanding ceiling is reached and ErrClosed after Shutdown.
func (p *Pool) Submit(task Task) error {
	if err := task.validate(); err != nil {
		return err
	}

	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return ErrClosed
	}
	if !p.slots.TryAcquire(1) {
		return ErrBackpressure
	}
	p.enqueue(task)
	return nil
}

// SubmitWait enqueues task, blocking until an outstanding slot frees up, ctx
// is done or the pool shuts down.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	if err := task.validate(); err != nil {
		return err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.stopping, cancel)
	defer stop()

	if err := p.slots.Acquire(waitCtx, 1); err != nil {
		if p.closed.Load() {
			return ErrClosed
		}
		return err
	}

	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		p.slots.Release(1)
		return ErrClosed
	}
	p.enqueue(task)
	return nil
}

func (p *Pool) enqueue(task Task) {
	p.outstanding.Add(1)
	p.jobs <- task
}

// Poll returns the next completed result, if any, without blocking.
func (p *Pool) Poll() (Result, bool) {
	select {
	case r := <-p.results:
		p.release()
		return r, true
	default:
		return Result{}, false
	}
}

// Take blocks until a result is available. It returns ErrClosed once the pool
// has shut down and every result has been retrieved.
func (p *Pool) Take(ctx context.Context) (Result, error) {
	select {
	case r := <-p.results:
		p.release()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-p.drained:
		if r, ok := p.Poll(); ok {
			return r, nil
		}
		return Result{}, ErrClosed
	}
}

func (p *Pool) release() {
	p.outstanding.Add(-1)
	p.slots.Release(1)
}

// CanAcceptMoreTasks reports whether Submit would currently accept a task.
func (p *Pool) CanAcceptMoreTasks() bool {
	return !p.closed.Load() && p.outstanding.Load() < int64(p.maxOutstanding)
}

// Outstanding returns the number of submitted tasks whose results have not
// been retrieved.
func (p *Pool) Outstanding() int { return int(p.outstanding.Load()) }

// Len returns the number of completed results waiting to be retrieved.
func (p *Pool) Len() int { return len(p.results) }

// MaxOutstanding returns the outstanding-task ceiling.
func (p *Pool) MaxOutstanding() int { return p.maxOutstanding }

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Shutdown stops accepting tasks and waits up to grace for queued and running
// tasks to finish. When the grace period elapses the remaining tasks are
// cancelled and ErrShutdownTimeout is returned. Completed results stay
// retrievable. Calling Shutdown again is a no-op.
func (p *Pool) Shutdown(grace time.Duration) error {
	var err error
	p.shutdownOnce.Do(func() {
		p.closed.Store(true)
		p.stopSubmits()

		p.submitMu.Lock()
		close(p.jobs)
		p.submitMu.Unlock()

		go func() {
			p.wg.Wait()
			p.cancel()
			close(p.drained)
		}()

		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-p.drained:
		case <-timer.C:
			p.cancel()
			p.logger.Warn("pipeline shutdown grace period elapsed, cancelling remaining tasks",
				"outstanding", p.Outstanding(),
			)
			err = ErrShutdownTimeout
		}
	})
	return err
}
