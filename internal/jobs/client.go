package jobs

import (
	"context"
	"errors"
	"fmt"

	"voice-bridge/internal/observability"

	"github.com/hibiken/asynq"
)

// Client enqueues MixJobs on the redis-backed asynq queue
type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	logger   *observability.Logger
}

// NewClient creates a new job client
func NewClient(redisAddr, queue string, logger *observability.Logger) *Client {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	if queue == "" {
		queue = QueueMixJobs
	}
	return &Client{
		client:   client,
		queue:    queue,
		maxRetry: DefaultMaxRetry,
		logger:   logger,
	}
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Publish enqueues a MixJob. A job already present for the same call is not an error.
func (c *Client) Publish(ctx context.Context, job MixJob) error {
	task, err := NewMixTask(job, c.queue, c.maxRetry)
	if err != nil {
		c.logger.Error(ctx, "failed to create mix task", err)
		return fmt.Errorf("failed to create mix task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			c.logger.Warn(ctx, fmt.Sprintf("mix task for call %s already enqueued", job.CallSid))
			return nil
		}
		c.logger.Error(ctx, "failed to enqueue mix task", err)
		return fmt.Errorf("failed to enqueue mix task: %w", err)
	}

	c.logger.Info(ctx, fmt.Sprintf("enqueued mix task: %s (queue: %s)", info.ID, info.Queue))
	return nil
}
