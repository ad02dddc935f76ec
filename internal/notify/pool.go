package notify

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/roach88/bizflow/internal/metrics"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware background task.
type Task func(ctx context.Context)

// Pool wraps ants.Pool for detached background work. Tasks receive a
// context that keeps the submitter's values but not its cancellation, so
// work outlives the request that queued it while still stopping at
// shutdown.
type Pool struct {
	pool   *ants.Pool
	logger *slog.Logger
	wg     sync.WaitGroup

	// mu orders wg.Add in Submit before the final wg.Wait in Shutdown.
	mu     sync.RWMutex
	closed bool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// NewPool creates a pool with size workers.
func NewPool(size int, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	serviceCtx, serviceCancel := context.WithCancel(context.Background())

	panicHandler := func(p any) {
		logger.Error("worker panic recovered",
			"panic", p,
			"stack", string(debug.Stack()),
		)
	}

	pool, err := ants.NewPool(size,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}
	return &Pool{
		pool:          pool,
		logger:        logger,
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit queues task. The task is skipped if the pool shuts down before it
// starts.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	detached := context.WithoutCancel(ctx)

	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		defer p.observe()
		select {
		case <-p.serviceCtx.Done():
			p.logger.Debug("task skipped: pool shutting down")
			return
		default:
		}
		task(detached)
	})
	if err != nil {
		p.wg.Done()
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	p.observe()
	return nil
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown waits up to timeout for queued tasks, then cancels the rest and
// releases the workers. Submit fails with ErrPoolClosed from the moment
// Shutdown is called.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("worker pool shutdown timed out", "running", p.pool.Running())
	}
	p.serviceCancel()
	p.pool.Release()
}

// Metrics returns pool occupancy for observability.
func (p *Pool) Metrics() map[string]int {
	return map[string]int{
		"running": p.pool.Running(),
		"free":    p.pool.Free(),
		"cap":     p.pool.Cap(),
	}
}

// observe publishes the current occupancy to the pool gauges.
func (p *Pool) observe() {
	m := p.Metrics()
	metrics.NotifyPoolWorkers.WithLabelValues("running").Set(float64(m["running"]))
	metrics.NotifyPoolWorkers.WithLabelValues("free").Set(float64(m["free"]))
}
