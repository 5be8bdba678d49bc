package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vistoriahq/vistoria/pkg/observability"
)

// SafeGo executes a function in a goroutine with context cancellation,
// panic recovery, timeout enforcement and error logging. A zero timeout
// means the task runs until the parent context is done.
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	go func() {
		ctx := parentCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
			defer cancel()
		}

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).Errorf("background task %s failed", taskName)
		}
	}()
}

// WorkerPool manages a pool of workers that process tasks from a bounded
// channel. Provides graceful shutdown and a non-blocking submit path.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	logger       *observability.Logger
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewWorkerPool creates a new worker pool with the given queue capacity.
func NewWorkerPool(ctx context.Context, workers, queueSize int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	if queueSize < workers {
		queueSize = workers
	}

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   logger,
		workCh:   make(chan func(context.Context) error, queueSize),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the worker pool, blocking while the queue is full.
// Returns an error if the pool is shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	default:
	}

	defer func() {
		// Shutdown may close workCh between the check above and the send.
		recover() //nolint:errcheck
	}()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	}
}

// TrySubmit adds a task without blocking. Returns false when the queue is
// full or the pool is shut down.
func (p *WorkerPool) TrySubmit(fn func(context.Context) error) bool {
	select {
	case <-p.doneCh:
		return false
	default:
	}

	submitted := false
	func() {
		defer func() {
			recover() //nolint:errcheck
		}()
		select {
		case p.workCh <- fn:
			submitted = true
		default:
		}
	}()
	return submitted
}

// QueueDepth reports the number of tasks waiting to be processed.
func (p *WorkerPool) QueueDepth() int {
	return len(p.workCh)
}

// Shutdown gracefully shuts down the worker pool, waiting up to timeout for
// workers to drain remaining tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		func() {
			defer func() {
				recover() //nolint:errcheck
			}()
			close(p.workCh)
		}()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

func (p *WorkerPool) worker(id int) {
	defer observability.RecoverPanic(p.logger, fmt.Sprintf("%s worker %d", p.taskName, id))

	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)

			func() {
				defer cancel()
				defer observability.RecoverPanic(p.logger, p.taskName)

				if err := fn(ctx); err != nil {
					p.logger.WithError(err).Errorf("%s task failed", p.taskName)
				}
			}()
		}
	}
}
