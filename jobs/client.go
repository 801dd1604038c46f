package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued reports that an identical task is still pending.
var ErrAlreadyQueued = errors.New("jobs: identical task already queued")

// uniqueWindow dedupes repeated enqueues of the same scope.
const uniqueWindow = 15 * time.Minute

// Client submits consolidation tasks.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	if redisOpts.Addr == "" {
		return nil, errors.New("jobs: redis address required")
	}
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueRegenerate enqueues a consol:regenerate task.
func (c *Client) EnqueueRegenerate(ctx context.Context, payload ConsolPayload) (*asynq.TaskInfo, error) {
	task, err := NewRegenerateTask(payload)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, task, asynq.Unique(uniqueWindow))
}

// EnqueueTranslate enqueues a consol:translate task.
func (c *Client) EnqueueTranslate(ctx context.Context, payload ConsolPayload) (*asynq.TaskInfo, error) {
	task, err := NewTranslateTask(payload)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, task, asynq.Unique(uniqueWindow))
}

// Enqueue submits a prepared task to the default queue with three retries.
// Later options override the defaults.
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs: client not configured")
	}
	opts = append([]asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(3)}, opts...)
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, ErrAlreadyQueued
	}
	return info, err
}

// Close releases client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
