package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrPoolClosed is returned when dispatching to a pool that is shutting down
var ErrPoolClosed = errors.New("worker pool closed")

// LocalPool runs pipeline tasks in-process with at most size tasks running
// at once. Dispatched tasks beyond that wait for a free slot.
type LocalPool struct {
	slots    chan struct{}
	handlers map[string]JobRunner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewLocalPool(size int) *LocalPool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalPool{
		slots:    make(chan struct{}, size),
		handlers: make(map[string]JobRunner),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers the runner for a task type. It must be called before
// the first dispatch.
func (p *LocalPool) Handle(taskType string, runner JobRunner) {
	p.handlers[taskType] = runner
}

func (p *LocalPool) DispatchPipeline(ctx context.Context, jobID string) error {
	return p.submit(TaskTypePipeline, jobID)
}

func (p *LocalPool) DispatchFinalize(ctx context.Context, jobID string) error {
	return p.submit(TaskTypeFinalize, jobID)
}

func (p *LocalPool) submit(taskType, jobID string) error {
	runner, ok := p.handlers[taskType]
	if !ok {
		return fmt.Errorf("no handler for task type %s", taskType)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.slots <- struct{}{}:
		case <-p.ctx.Done():
			log.Printf("Dropping %s task for job %s: pool stopped", taskType, jobID)
			return
		}
		defer func() { <-p.slots }()

		if err := runner.Run(p.ctx, jobID); err != nil {
			log.Printf("%s task for job %s failed: %v", taskType, jobID, err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched task has finished.
func (p *LocalPool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting tasks and waits for running ones. When ctx ends
// first, running tasks are cancelled.
func (p *LocalPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
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
		p.cancel()
		<-done
		return ctx.Err()
	}
}
