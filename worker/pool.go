// Package worker runs tasks on background goroutines.
//
// A Pool with several goroutines is where extension modules do their backend
// work; a serial Pool (NewSerial) plays the shell's main context, running
// callbacks one at a time in submission order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker: pool is closed")

// Pool runs submitted tasks on a fixed set of goroutines.
type Pool struct {
	name  string
	opts  poolOptions
	tasks chan func()

	mu     sync.RWMutex // guards closed and sends on tasks
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a Pool and starts its goroutines.
func NewPool(name string, opts ...Option) *Pool {
	cfg := defaultPoolOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pool{
		name:  name,
		opts:  cfg,
		tasks: make(chan func(), cfg.bufferSize),
	}

	p.wg.Add(cfg.concurrency)
	for i := range cfg.concurrency {
		go p.run(i)
	}

	log.Debug().Str("pool", name).Int("concurrency", cfg.concurrency).Int("buffer_size", cfg.bufferSize).Msg("worker pool started")
	return p
}

// NewSerial creates a Pool with a single goroutine. Tasks run one at a time
// in the order they were submitted.
func NewSerial(name string, opts ...Option) *Pool {
	return NewPool(name, append(opts, WithConcurrency(1))...)
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task, workerID)
	}
	log.Trace().Str("pool", p.name).Int("worker_id", workerID).Msg("worker finished")
}

func (p *Pool) execute(task func(), workerID int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("pool", p.name).Int("worker_id", workerID).Interface("panic_value", r).Msg("panic recovered during task execution")
		}
	}()
	task()
}

// Submit queues task, blocking while the queue is full. It returns
// ErrPoolClosed after Shutdown and ctx.Err() if ctx ends first.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	if task == nil {
		return errors.New("worker: nil task")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		log.Warn().Str("pool", p.name).Err(ctx.Err()).Msg("task not queued before context ended")
		return ctx.Err()
	}
}

// Execute queues fn without a deadline. A task submitted after Shutdown is
// logged and dropped.
func (p *Pool) Execute(fn func()) {
	if err := p.Submit(context.Background(), fn); err != nil {
		log.Error().Str("pool", p.name).Err(err).Msg("task dropped")
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Str("pool", p.name).Msg("worker pool shut down")
		return nil
	case <-ctx.Done():
		log.Error().Str("pool", p.name).Err(ctx.Err()).Msg("worker pool shutdown timed out")
		return fmt.Errorf("shutdown of pool %s timed out: %w", p.name, ctx.Err())
	}
}
