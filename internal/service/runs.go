package service

import (
	"context"
	"sync"

	"github.com/stepdocs/api/internal/model"
)

// RunRegistry tracks cancel functions of in-flight pipeline runs.
type RunRegistry struct {
	mu   sync.Mutex
	runs map[string]context.CancelCauseFunc
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]context.CancelCauseFunc)}
}

// Start derives a cancellable context for jobID. done must be called when
// the run ends.
func (r *RunRegistry) Start(ctx context.Context, jobID string) (runCtx context.Context, done func()) {
	runCtx, cancel := context.WithCancelCause(ctx)

	r.mu.Lock()
	r.runs[jobID] = cancel
	r.mu.Unlock()

	return runCtx, func() {
		r.mu.Lock()
		delete(r.runs, jobID)
		r.mu.Unlock()
		cancel(nil)
	}
}

// Cancel stops the run of jobID. It reports whether a run was in flight.
func (r *RunRegistry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.runs[jobID]
	r.mu.Unlock()

	if ok {
		cancel(model.ErrCancelled)
	}
	return ok
}

// Running reports whether jobID has an in-flight run.
func (r *RunRegistry) Running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[jobID]
	return ok
}
