package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// ErrPoolClosed is returned by Submit once Shutdown has begun
var ErrPoolClosed = errors.New("worker pool shut down")

// Task is one unit of background work
type Task func(context.Context) error

// Pool runs submitted tasks on a fixed set of workers. Each task gets its
// own timeout and a context that outlives the request that submitted it.
type Pool struct {
	name    string
	timeout time.Duration
	logger  *observability.Logger

	mu     sync.RWMutex
	closed bool
	workCh chan Task
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool starts workers goroutines draining a queue of size queue
func NewPool(name string, workers, queue int, timeout time.Duration, logger *observability.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < workers {
		queue = workers * 2
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		name:    name,
		timeout: timeout,
		logger:  logger.WithField("pool", name),
		workCh:  make(chan Task, queue),
		doneCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(p.doneCh)
	}()

	return p
}

// Submit queues a task. It blocks while the queue is full unless ctx ends first.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", p.name, ctx.Err())
	}
}

// Shutdown stops accepting work and waits for queued tasks to drain.
// In-flight tasks are cancelled when ctx expires first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.workCh)
	}
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("%s shutdown: %w", p.name, ctx.Err())
	}
}

func (p *Pool) worker(id int) {
	for task := range p.workCh {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	logger := p.logger.WithField("worker", id)
	defer observability.RecoverPanic(logger, p.name)

	if err := task(ctx); err != nil {
		logger.WithError(err).Warn("Background task failed")
	}
}
