package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/consolidation/jobs"
)

// JobQueue is the slice of the Asynq client and inspector the CLI drives.
type JobQueue interface {
	EnqueueRegenerate(ctx context.Context, payload jobs.ConsolPayload) (*asynq.TaskInfo, error)
	EnqueueTranslate(ctx context.Context, payload jobs.ConsolPayload) (*asynq.TaskInfo, error)
	Stats(ctx context.Context) (jobs.QueueStats, error)
	Close() error
}

// JobsCLI wraps manual management helpers for consolidation jobs.
type JobsCLI struct {
	queue JobQueue
}

// NewJobsCLI wraps an existing queue.
func NewJobsCLI(queue JobQueue) *JobsCLI {
	return &JobsCLI{queue: queue}
}

// DialJobsCLI initialises the CLI helpers using the provided Redis address.
func DialJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return NewJobsCLI(&asynqQueue{Client: client, inspector: asynq.NewInspector(opts)}), nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	if c == nil || c.queue == nil {
		return nil
	}
	return c.queue.Close()
}

// Trigger enqueues a consolidation task by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, payload jobs.ConsolPayload) (*asynq.TaskInfo, error) {
	if c == nil || c.queue == nil {
		return nil, errors.New("jobs cli: queue not configured")
	}
	switch name {
	case jobs.TaskConsolRegenerate:
		return c.queue.EnqueueRegenerate(ctx, payload)
	case jobs.TaskConsolTranslate:
		return c.queue.EnqueueTranslate(ctx, payload)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (jobs.QueueStats, error) {
	if c == nil || c.queue == nil {
		return jobs.QueueStats{}, errors.New("jobs cli: queue not configured")
	}
	return c.queue.Stats(ctx)
}

type asynqQueue struct {
	*jobs.Client
	inspector *asynq.Inspector
}

func (q *asynqQueue) Stats(context.Context) (jobs.QueueStats, error) {
	return jobs.InspectQueue(q.inspector)
}

func (q *asynqQueue) Close() error {
	err := q.Client.Close()
	if closeErr := q.inspector.Close(); closeErr != nil {
		err = closeErr
	}
	return err
}
