package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

// JobRunner runs one background stage for a job
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// JobRunnerFunc adapts a function to JobRunner
type JobRunnerFunc func(ctx context.Context, jobID string) error

func (f JobRunnerFunc) Run(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

// PipelineWorker processes pipeline tasks
type PipelineWorker struct {
	name   string
	runner JobRunner
}

// NewPipelineWorker creates the handler for TaskTypePipeline
func NewPipelineWorker(runner JobRunner) *PipelineWorker {
	return &PipelineWorker{name: "pipeline", runner: runner}
}

// NewFinalizeWorker creates the handler for TaskTypeFinalize
func NewFinalizeWorker(runner JobRunner) *PipelineWorker {
	return &PipelineWorker{name: "finalize", runner: runner}
}

// ProcessTask handles one task. The job row already records any failure,
// so errors are returned wrapped in SkipRetry.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	jobID, err := decodeJobID(t)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log.Printf("Starting %s job: %s", w.name, jobID)
	if err := w.runner.Run(ctx, jobID); err != nil {
		log.Printf("%s job %s failed: %v", w.name, jobID, err)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log.Printf("%s job %s done", w.name, jobID)
	return nil
}
