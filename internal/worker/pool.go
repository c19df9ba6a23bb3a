// Package worker is the in-process notification task queue: a bounded channel
// drained by a fixed number of goroutines.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"

	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/notification"
)

var ErrClosed = errors.New("worker pool closed")

type Handler interface {
	Handle(ctx context.Context, task notification.Task) (notification.Report, error)
}

type Pool struct {
	handler Handler
	workers int
	logger  *logger.Logger

	// A batch whose handler still errors is handed back this many more times.
	MaxRetries      uint64
	InitialInterval time.Duration

	mu     sync.RWMutex
	closed bool
	tasks  chan notification.Task
	wg     sync.WaitGroup
}

func NewPool(handler Handler, workers, buffer int, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		handler:         handler,
		workers:         workers,
		logger:          log,
		tasks:           make(chan notification.Task, buffer),
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
	}
}

// Start launches the workers. They exit when the pool is closed and drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.logger.LogProcess("WORKERS", fmt.Sprintf("%d notification workers started", p.workers))
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		report, err := p.handle(ctx, id, task)
		if err != nil {
			p.logger.Error("WORKERS", fmt.Sprintf("worker %d: batch %s abandoned with %d users %v: %v",
				id, task.BatchID, len(task.UserIDs), task.UserIDs, err))
			continue
		}
		p.logger.Debug("WORKERS", fmt.Sprintf("worker %d: batch %s sent=%d skipped=%d failed=%d",
			id, report.BatchID, report.Sent, report.Skipped, report.Failed))
	}
}

// handle redelivers the task with backoff while the handler reports it could
// not be settled.
func (p *Pool) handle(ctx context.Context, id int, task notification.Task) (notification.Report, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)

	var report notification.Report
	err := backoff.RetryNotify(func() error {
		var err error
		report, err = p.handler.Handle(ctx, task)
		return err
	}, policy, func(err error, wait time.Duration) {
		p.logger.Warn("WORKERS", fmt.Sprintf("worker %d: batch %s redelivered in %s: %v", id, task.BatchID, wait, err))
	})
	return report, err
}

// Enqueue blocks until the task is buffered, ctx is done or the pool is closed.
func (p *Pool) Enqueue(ctx context.Context, task notification.Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
