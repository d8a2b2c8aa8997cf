package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ignite/morpheus/internal/config"
)

// resultRetention keeps finished task results around briefly for debugging
// duplicate deliveries.
const resultRetention = 5 * time.Second

// RedisOpt builds the asynq Redis connection options from config.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Client enqueues tasks. Safe for concurrent use.
type Client struct {
	client     *asynq.Client
	jobTimeout time.Duration
}

// NewClient creates a producer-side queue client.
func NewClient(redisCfg config.RedisConfig, workerCfg config.WorkerConfig) *Client {
	return &Client{
		client:     asynq.NewClient(RedisOpt(redisCfg)),
		jobTimeout: workerCfg.JobTimeout(),
	}
}

// Close releases the underlying Redis connections.
func (c *Client) Close() error { return c.client.Close() }

func (c *Client) enqueue(ctx context.Context, typename string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", typename, err)
	}
	opts = append([]asynq.Option{
		asynq.MaxRetry(MaxRetries),
		asynq.Timeout(c.jobTimeout),
		asynq.Retention(resultRetention),
	}, opts...)
	if _, err := c.client.EnqueueContext(ctx, asynq.NewTask(typename, data), opts...); err != nil {
		return fmt.Errorf("enqueueing %s: %w", typename, err)
	}
	return nil
}

// EnqueueSendEmail schedules one email send job.
func (c *Client) EnqueueSendEmail(ctx context.Context, p SendEmailPayload) error {
	return c.enqueue(ctx, TypeSendEmail, p)
}

// EnqueueSendSMS schedules one SMS send job.
func (c *Client) EnqueueSendSMS(ctx context.Context, p SendSMSPayload) error {
	return c.enqueue(ctx, TypeSendSMS, p)
}

// EnqueueUpdateStatus schedules one webhook status update.
func (c *Client) EnqueueUpdateStatus(ctx context.Context, p UpdateStatusPayload) error {
	return c.enqueue(ctx, TypeUpdateStatus, p)
}

// EnqueueMandrillBatch schedules a Mandrill webhook batch.
func (c *Client) EnqueueMandrillBatch(ctx context.Context, p MandrillBatchPayload) error {
	return c.enqueue(ctx, TypeMandrillBatch, p)
}

// EnqueueStoreClick schedules a click-event write.
func (c *Client) EnqueueStoreClick(ctx context.Context, p StoreClickPayload) error {
	return c.enqueue(ctx, TypeStoreClick, p)
}
