package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/observability/metrics"
	"go.uber.org/zap"
)

var (
	ErrQueueFull  = errors.New("worker queue full")
	ErrPoolClosed = errors.New("worker pool closed")
)

// Task runs on a pool goroutine with the pool's context.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed set of goroutines fed by a bounded queue.
// Submit never blocks; a full queue rejects the task.
type Pool struct {
	size    int
	tasks   chan Task
	log     *zap.Logger
	metrics *metrics.Coordination

	mu      sync.RWMutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(cfg config.WorkerConfig, log *zap.Logger, m *metrics.Coordination) *Pool {
	size := cfg.Workers
	if size <= 0 {
		size = 8
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 100
	}
	return &Pool{
		size:    size,
		tasks:   make(chan Task, queue),
		log:     log.Named("worker"),
		metrics: m,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.log.Info("worker pool started", zap.Int("workers", p.size), zap.Int("queue", cap(p.tasks)))
}

func (p *Pool) run(ctx context.Context, idx int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.metrics.SetWorkerQueueDepth(len(p.tasks))
		p.exec(ctx, idx, task)
	}
}

func (p *Pool) exec(ctx context.Context, idx int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker task panicked", zap.Int("worker", idx), zap.Any("panic", r))
		}
	}()
	task(ctx)
}

func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		p.metrics.SetWorkerQueueDepth(len(p.tasks))
		return nil
	default:
		p.metrics.IncWorkerRejected()
		return ErrQueueFull
	}
}

// Stop refuses new tasks, drains the queue and waits for workers. If ctx ends
// first the pool context is cancelled and Stop returns ctx's error.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("worker pool stop: %w", ctx.Err())
	}
}

func (p *Pool) QueueDepth() int {
	return len(p.tasks)
}
