// Package workerpool runs background tasks on a bounded set of goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned when submitting to a stopped pool.
	ErrStopped = errors.New("worker pool is stopped")
	// ErrQueueFull is returned by TrySubmit when no slot is free.
	ErrQueueFull = errors.New("worker pool queue is full")
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// Task is a unit of work. Fn receives a context that is canceled when
// the pool stops.
type Task struct {
	ID string
	Fn func(ctx context.Context) error
}

// Config configures a Pool. Zero values select defaults.
type Config struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// Pool executes submitted tasks with a fixed number of workers.
type Pool struct {
	name   string
	queue  chan Task
	logger *zap.Logger

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool

	active    atomic.Int32
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New starts a pool.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		name:   cfg.Name,
		queue:  make(chan Task, cfg.QueueSize),
		logger: cfg.Logger.With(zap.String("pool", cfg.Name)),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := range cfg.Workers {
		p.wg.Add(1)

		go p.worker(i)
	}

	p.logger.Debug("worker pool started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queue:
			p.run(id, task)
		}
	}
}

func (p *Pool) run(worker int, task Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	err := p.safeRun(task)

	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("task failed",
			zap.Int("worker", worker),
			zap.String("task", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))

		return
	}

	p.completed.Add(1)
	p.logger.Debug("task completed",
		zap.Int("worker", worker),
		zap.String("task", task.ID),
		zap.Duration("duration", time.Since(start)))
}

func (p *Pool) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return task.Fn(p.ctx)
}

// Submit queues task, blocking until a slot frees up, ctx is done or the
// pool stops.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.rejected.Add(1)
		return ErrStopped
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return fmt.Errorf("failed to submit %s: %w", task.ID, ctx.Err())
	case <-p.ctx.Done():
		p.rejected.Add(1)
		return ErrStopped
	}
}

// TrySubmit queues task without blocking.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.rejected.Add(1)
		return ErrStopped
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Stop cancels running tasks, waits for the workers up to timeout and
// discards queued tasks.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error

	p.stopOnce.Do(func() {
		p.cancel()

		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		done := make(chan struct{})

		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %s: stop timed out after %s", p.name, timeout)
		}

		p.logger.Debug("worker pool stopped", zap.Int("discarded", len(p.queue)))
	})

	return err
}

// Stats is a point-in-time view of the pool counters.
type Stats struct {
	Active    int
	Queued    int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
