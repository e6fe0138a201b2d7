// Package pool provides the bounded worker pool shared by federated queries
// and the buffer pool used to encode API responses.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// PanicError is returned by a Future whose task panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Task represents a unit of work.
type Task func(ctx context.Context) error

// Future tracks a task submitted with Go.
type Future struct {
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the task error. Only valid after Done is closed.
func (f *Future) Err() error { return f.err }

// Wait blocks until the task finishes or ctx ends. A ctx error means the
// caller stopped waiting; the task itself may still be running.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// GoroutinePool manages a pool of worker goroutines.
type GoroutinePool struct {
	maxWorkers  int
	taskQueue   chan taskWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32

	// closeMu guards sends on taskQueue against Close.
	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	// Config
	idleTimeout  time.Duration
	panicHandler func(any)
}

type taskWrapper struct {
	task   Task
	ctx    context.Context
	future *Future
}

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	MaxWorkers   int           `json:"max_workers" yaml:"max_workers"`
	QueueSize    int           `json:"queue_size" yaml:"queue_size"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	PanicHandler func(any)     `json:"-" yaml:"-"`
}

// DefaultGoroutinePoolConfig returns sensible defaults.
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		MaxWorkers:  64,
		QueueSize:   1024,
		IdleTimeout: 60 * time.Second,
	}
}

// NewGoroutinePool creates a new goroutine pool. Non-positive sizes fall back
// to the defaults.
func NewGoroutinePool(config GoroutinePoolConfig) *GoroutinePool {
	def := DefaultGoroutinePoolConfig()
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = def.MaxWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	return &GoroutinePool{
		maxWorkers:   config.MaxWorkers,
		taskQueue:    make(chan taskWrapper, config.QueueSize),
		idleTimeout:  config.IdleTimeout,
		panicHandler: config.PanicHandler,
	}
}

// Go submits a task without blocking and returns a Future for it. It fails
// with ErrPoolFull when every worker is busy and the queue is full.
func (p *GoroutinePool) Go(ctx context.Context, task Task) (*Future, error) {
	wrapper := taskWrapper{
		task:   task,
		ctx:    ctx,
		future: &Future{done: make(chan struct{})},
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	p.submitted.Add(1)

	// Spawn first so an idle pool never parks a task in the queue.
	p.ensureWorker()
	select {
	case p.taskQueue <- wrapper:
		return wrapper.future, nil
	default:
		if p.trySpawnWorker() {
			select {
			case p.taskQueue <- wrapper:
				return wrapper.future, nil
			default:
			}
		}
		p.rejected.Add(1)
		return nil, ErrPoolFull
	}
}

// Submit submits a task to the pool without waiting for it.
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	_, err := p.Go(ctx, task)
	return err
}

// SubmitWait submits a task and waits for completion.
func (p *GoroutinePool) SubmitWait(ctx context.Context, task Task) error {
	wrapper := taskWrapper{
		task:   task,
		ctx:    ctx,
		future: &Future{done: make(chan struct{})},
	}

	p.closeMu.RLock()
	if p.closed {
		p.closeMu.RUnlock()
		return ErrPoolClosed
	}
	p.submitted.Add(1)
	p.ensureWorker()
	select {
	case p.taskQueue <- wrapper:
		p.closeMu.RUnlock()
	case <-ctx.Done():
		p.closeMu.RUnlock()
		p.rejected.Add(1)
		return ctx.Err()
	}

	return wrapper.future.Wait(ctx)
}

func (p *GoroutinePool) ensureWorker() {
	if p.workerCount.Load() <= p.activeCount.Load()+int32(len(p.taskQueue)) {
		p.trySpawnWorker()
	}
}

func (p *GoroutinePool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *GoroutinePool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.taskQueue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.executeTask(wrapper)
			p.activeCount.Add(-1)

			wrapper.future.complete(err)

			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// Idle timeout, exit if we have more than minimum workers
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *GoroutinePool) executeTask(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = &PanicError{Value: r}
		}
	}()

	if err := wrapper.ctx.Err(); err != nil {
		return err
	}
	return wrapper.task(wrapper.ctx)
}

// Close stops accepting tasks, lets queued tasks finish and waits for all
// workers to exit.
func (p *GoroutinePool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.taskQueue)
	p.closeMu.Unlock()
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// GoroutinePoolStats contains pool statistics.
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
