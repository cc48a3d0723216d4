package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task types
const (
	TaskTypePipeline = "pipeline:process"
	TaskTypeFinalize = "pipeline:finalize"
)

// QueuePipeline is the asynq queue all pipeline tasks go through
const QueuePipeline = "pipeline"

type taskPayload struct {
	JobID string `json:"jobId"`
}

func newTask(taskType, jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(taskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

func decodeJobID(t *asynq.Task) (string, error) {
	var p taskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return "", fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.JobID == "" {
		return "", fmt.Errorf("task payload has no job id")
	}
	return p.JobID, nil
}

// AsynqDispatcher enqueues pipeline work on redis. Tasks are never
// retried; a failed stage fails the job.
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

func (d *AsynqDispatcher) DispatchPipeline(ctx context.Context, jobID string) error {
	return d.enqueue(ctx, TaskTypePipeline, jobID)
}

func (d *AsynqDispatcher) DispatchFinalize(ctx context.Context, jobID string) error {
	return d.enqueue(ctx, TaskTypeFinalize, jobID)
}

func (d *AsynqDispatcher) enqueue(ctx context.Context, taskType, jobID string) error {
	task, err := newTask(taskType, jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(QueuePipeline),
		asynq.MaxRetry(0),
		asynq.Timeout(6*time.Hour),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}
