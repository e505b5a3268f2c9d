package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Task timeout grows with the batch size.
const (
	baseTaskTimeout = 2 * time.Minute
	perFileTimeout  = 5 * time.Second
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) EnqueueConvertBatch(ctx context.Context, payload ConvertBatchPayload) (*asynq.TaskInfo, error) {
	task, err := NewConvertBatchTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(TaskID(payload.JobID, payload.Attempt)),
		asynq.MaxRetry(3),
		asynq.Timeout(TaskTimeout(len(payload.ObjectKeys))),
	)
}

func TaskTimeout(files int) time.Duration {
	return baseTaskTimeout + time.Duration(files)*perFileTimeout
}

func (c *Client) Close() error {
	return c.client.Close()
}
