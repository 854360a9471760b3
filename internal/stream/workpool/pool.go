// Package workpool runs chunk generation jobs off the control loop and hands
// results back through non-blocking task handles.
package workpool

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher accepts jobs without blocking. Submit reports false when the job
// could not be queued.
type Dispatcher interface {
	Submit(job func(ctx context.Context)) bool
}

// Pool is a bounded job queue drained by a fixed set of workers.
type Pool struct {
	log *zap.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan func(context.Context)

	cancel context.CancelFunc
	group  *errgroup.Group
}

func New(ctx context.Context, workers, queue int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &Pool{
		log:    logger.With(zap.String("component", "workpool")),
		jobs:   make(chan func(context.Context), queue),
		cancel: cancel,
		group:  g,
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for job := range p.jobs {
				job(gctx)
			}
			return nil
		})
	}
	p.log.Debug("started", zap.Int("workers", workers), zap.Int("queue", queue))
	return p
}

func (p *Pool) Submit(job func(ctx context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Pending is the number of queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int { return len(p.jobs) }

// Close stops accepting jobs, cancels the job context and waits for the
// workers to drain what is already queued.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.cancel()
	err := p.group.Wait()
	p.log.Debug("stopped")
	return err
}

// Inline runs every job synchronously inside Submit.
type Inline struct{}

func (Inline) Submit(job func(ctx context.Context)) bool {
	job(context.Background())
	return true
}
