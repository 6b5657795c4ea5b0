// Package worker runs orchestration and reply tasks off the request path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"contract-backend/internal/queue"
	"contract-backend/internal/shared/telemetry"
	"contract-backend/internal/workerproc"
)

// ErrStopped is returned for work submitted after Stop.
var ErrStopped = errors.New("worker pool stopped")

// Pool bounds concurrent tasks with a semaphore. It satisfies queue.Client so
// admission can dispatch jobs in-process.
type Pool struct {
	processor workerproc.Processor
	sem       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

func NewPool(processor workerproc.Processor, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		processor: processor,
		sem:       make(chan struct{}, concurrency),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetProcessor wires the job processor after construction, for when the processor
// itself needs the pool as its dispatcher.
func (p *Pool) SetProcessor(processor workerproc.Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processor = processor
}

// Go schedules fn. It returns immediately; fn waits for a free slot.
func (p *Pool) Go(name string, fn func(ctx context.Context)) error {
	return p.schedule(name, fn, nil)
}

// Send schedules the analysis of msg.JobID. A task dropped at shutdown, or cut
// short before the processor could claim the job, fails the job instead of
// leaving it PENDING.
func (p *Pool) Send(_ context.Context, msg queue.Message) error {
	p.mu.RLock()
	processor := p.processor
	p.mu.RUnlock()
	if processor == nil {
		return errors.New("worker pool has no processor")
	}
	abandon := func() {
		if err := workerproc.Abandon(processor, msg); err != nil {
			telemetry.Error("worker.job_abandon_failed", map[string]any{
				"job_id":     msg.JobID,
				"request_id": msg.RequestID,
				"error":      err,
			})
		}
	}
	return p.schedule("job.process", func(ctx context.Context) {
		if err := workerproc.Process(ctx, processor, msg); err != nil {
			telemetry.Error("worker.job_failed", map[string]any{
				"job_id":     msg.JobID,
				"request_id": msg.RequestID,
				"error":      err,
			})
			if ctx.Err() != nil {
				abandon()
			}
		}
	}, abandon)
}

func (p *Pool) schedule(name string, fn func(ctx context.Context), onDrop func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	p.wg.Add(1)
	go p.run(name, fn, onDrop)
	return nil
}

// Wait blocks until every scheduled task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stop refuses new work and waits for running tasks. When ctx ends first the
// task context is cancelled and Stop waits for tasks to unwind.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"error": ctx.Err()})
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) run(name string, fn func(ctx context.Context), onDrop func()) {
	defer p.wg.Done()

	select {
	case p.sem <- struct{}{}:
	case <-p.ctx.Done():
		telemetry.Warn("worker.task_dropped", map[string]any{"task": name})
		if onDrop != nil {
			onDrop()
		}
		return
	}
	defer func() { <-p.sem }()

	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("worker.task_panic", map[string]any{
				"task":  name,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	fn(p.ctx)
}

var _ queue.Client = (*Pool)(nil)
