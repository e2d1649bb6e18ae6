package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueue is the queue import jobs are pushed to when none is configured.
const DefaultQueue = "default"

// HeartbeatTTL is how long a worker stays listed without a heartbeat.
const HeartbeatTTL = 30 * time.Second

// PopTimeout is how long one Pop blocks waiting for a job.
const PopTimeout = 2 * time.Second

// Client defines the interface for the import job queue.
type Client interface {
	// Push adds a job to the end of a queue (LPUSH).
	Push(ctx context.Context, queue string, job ImportJob) error

	// Pop removes and returns a job from the front of a queue (BRPOP).
	// It blocks for at most PopTimeout and returns nil, nil when no job arrived.
	Pop(ctx context.Context, queue string) (*ImportJob, error)

	// Len returns the number of pending jobs.
	Len(ctx context.Context, queue string) (int64, error)

	// Publish sends a result to a pub/sub channel.
	Publish(ctx context.Context, channel string, result Result) error

	// Subscribe returns a channel that receives results until ctx is done.
	Subscribe(ctx context.Context, channel string) (<-chan Result, error)

	// RegisterWorker writes worker metadata and adds it to the live set.
	RegisterWorker(ctx context.Context, meta WorkerMeta) error

	// ListWorkers returns metadata for registered workers with a live heartbeat.
	ListWorkers(ctx context.Context) ([]WorkerMeta, error)

	// Heartbeat refreshes the worker's health key.
	Heartbeat(ctx context.Context, workerID string) error

	GetWorkerCount(ctx context.Context, queue string) (int, error)
	IncrementWorkerCount(ctx context.Context, queue string) error
	DecrementWorkerCount(ctx context.Context, queue string) error

	// Close closes the Redis connection.
	Close() error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Dial parses the URL, applies the timeouts and pings the server. The store
// and health packages share the returned connection with the queue.
func Dial(opts RedisOptions) (*redis.Client, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if opts.TLS != nil {
		redisOpts.TLSConfig = opts.TLS
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisClient implements Client using go-redis/v9.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClientFrom wraps an existing connection. Close closes it.
func NewRedisClientFrom(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// QueueKey returns the Redis list holding a queue's jobs.
func QueueKey(queue string) string {
	return formatKeyName("queue", queue, "jobs")
}

// ResultChannel returns the pub/sub channel a job's result is published on.
func ResultChannel(jobID string) string {
	return formatKeyName("results", jobID)
}

// Push adds a job to the end of a queue.
func (c *RedisClient) Push(ctx context.Context, queue string, job ImportJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal import job: %w", err)
	}

	if err := c.client.LPush(ctx, QueueKey(queue), data).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", queue, err)
	}

	return nil
}

// Pop removes and returns a job from the front of a queue. It returns nil,
// nil when no job arrives within PopTimeout, so callers can observe
// cancellation between calls.
func (c *RedisClient) Pop(ctx context.Context, queue string) (*ImportJob, error) {
	result, err := c.client.BRPop(ctx, PopTimeout, QueueKey(queue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue %s: %w", queue, err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result length: %d", len(result))
	}

	var job ImportJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal import job: %w", err)
	}

	return &job, nil
}

// Len returns the number of pending jobs in a queue.
func (c *RedisClient) Len(ctx context.Context, queue string) (int64, error) {
	n, err := c.client.LLen(ctx, QueueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read length of queue %s: %w", queue, err)
	}
	return n, nil
}

// Publish sends a result to a pub/sub channel.
func (c *RedisClient) Publish(ctx context.Context, channel string, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}

	return nil
}

// Subscribe creates a subscription to a pub/sub channel.
func (c *RedisClient) Subscribe(ctx context.Context, channel string) (<-chan Result, error) {
	pubsub := c.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	resultChan := make(chan Result)

	go func() {
		defer close(resultChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var result Result
				if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
					continue
				}

				select {
				case resultChan <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return resultChan, nil
}

// RegisterWorker writes worker metadata to Redis and adds it to the live set.
func (c *RedisClient) RegisterWorker(ctx context.Context, meta WorkerMeta) error {
	if err := meta.IsValid(); err != nil {
		return fmt.Errorf("invalid worker metadata: %w", err)
	}

	engines, err := json.Marshal(meta.Engines)
	if err != nil {
		return fmt.Errorf("failed to marshal engines: %w", err)
	}

	metaKey := formatKeyName("worker", meta.ID, "meta")
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey,
			"id", meta.ID,
			"version", meta.Version,
			"queue", meta.Queue,
			"engines", string(engines),
			"concurrency", strconv.Itoa(meta.Concurrency),
			"started_at", strconv.FormatInt(meta.StartedAt, 10),
		)
		pipe.SAdd(ctx, "workers:available", meta.ID)
		pipe.Set(ctx, formatKeyName("worker", meta.ID, "health"), "ok", HeartbeatTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register worker %s: %w", meta.ID, err)
	}

	return nil
}

// ListWorkers returns metadata for registered workers whose heartbeat has
// not expired. Workers with an expired heartbeat are pruned from the set.
func (c *RedisClient) ListWorkers(ctx context.Context) ([]WorkerMeta, error) {
	ids, err := c.client.SMembers(ctx, "workers:available").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get available workers: %w", err)
	}

	workers := make([]WorkerMeta, 0, len(ids))
	for _, id := range ids {
		alive, err := c.client.Exists(ctx, formatKeyName("worker", id, "health")).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read health of worker %s: %w", id, err)
		}
		if alive == 0 {
			c.client.SRem(ctx, "workers:available", id)
			c.client.Del(ctx, formatKeyName("worker", id, "meta"))
			continue
		}

		fields, err := c.client.HGetAll(ctx, formatKeyName("worker", id, "meta")).Result()
		if err != nil || len(fields) == 0 {
			continue
		}

		meta := WorkerMeta{
			ID:      fields["id"],
			Version: fields["version"],
			Queue:   fields["queue"],
		}
		_ = json.Unmarshal([]byte(fields["engines"]), &meta.Engines)
		meta.Concurrency, _ = strconv.Atoi(fields["concurrency"])
		meta.StartedAt, _ = strconv.ParseInt(fields["started_at"], 10, 64)

		workers = append(workers, meta)
	}

	return workers, nil
}

// Heartbeat refreshes the worker's health key with HeartbeatTTL.
func (c *RedisClient) Heartbeat(ctx context.Context, workerID string) error {
	healthKey := formatKeyName("worker", workerID, "health")
	if err := c.client.Set(ctx, healthKey, "ok", HeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat for worker %s: %w", workerID, err)
	}
	return nil
}

// GetWorkerCount returns the number of workers consuming a queue.
func (c *RedisClient) GetWorkerCount(ctx context.Context, queue string) (int, error) {
	countStr, err := c.client.Get(ctx, formatKeyName("queue", queue, "workers")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get worker count for queue %s: %w", queue, err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid worker count value: %w", err)
	}

	return count, nil
}

// IncrementWorkerCount increments the worker count for a queue.
func (c *RedisClient) IncrementWorkerCount(ctx context.Context, queue string) error {
	if err := c.client.Incr(ctx, formatKeyName("queue", queue, "workers")).Err(); err != nil {
		return fmt.Errorf("failed to increment worker count for queue %s: %w", queue, err)
	}
	return nil
}

// DecrementWorkerCount decrements the worker count for a queue.
func (c *RedisClient) DecrementWorkerCount(ctx context.Context, queue string) error {
	if err := c.client.Decr(ctx, formatKeyName("queue", queue, "workers")).Err(); err != nil {
		return fmt.Errorf("failed to decrement worker count for queue %s: %w", queue, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

func formatKeyName(parts ...string) string {
	return strings.Join(parts, ":")
}
