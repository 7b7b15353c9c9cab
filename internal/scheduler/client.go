package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inbox_routing_backend/platform/config"
	"inbox_routing_backend/platform/kv"

	"github.com/hibiken/asynq"
)

// rebuildUniqueness keeps repeated rebuild requests from piling up.
const rebuildUniqueness = time.Minute

type Client struct {
	client *asynq.Client
	queue  string
}

type MarkerRebuildScheduler interface {
	EnqueueMarkerRebuild(ctx context.Context, payload RebuildMarkersPayload) error
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueMarkerRebuild queues a marker rebuild. A request made while an
// identical one is still pending is dropped.
func (c *Client) EnqueueMarkerRebuild(ctx context.Context, payload RebuildMarkersPayload) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewRebuildMarkersTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.Unique(rebuildUniqueness))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	if q := cfg.GetAsynqQueueName(); q != "" {
		return q
	}
	return "default"
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := kv.ParseOptions(redisURL, tlsInsecure)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
