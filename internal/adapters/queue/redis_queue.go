package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueue is a Redis-backed durable FIFO work queue with an auxiliary
// dead-letter list. LPUSH/RPOP keep FIFO order; a pipelined RPOP of N is
// the atomic pop-of-N the worker relies on.
type RedisQueue struct {
	client  *redis.Client
	mainKey string
	deadKey string
	logger  *zap.Logger
}

// RedisConfig holds the Redis connection settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisQueue creates a new Redis-backed queue and verifies connectivity
func NewRedisQueue(cfg RedisConfig, logger *zap.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "sentinel"
	}

	return &RedisQueue{
		client:  client,
		mainKey: prefix + ":work",
		deadKey: prefix + ":dead",
		logger:  logger,
	}, nil
}

// Enqueue pushes a work item onto the tail of the queue
func (q *RedisQueue) Enqueue(ctx context.Context, item *core.WorkItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	if err := q.client.LPush(ctx, q.mainKey, string(data)).Err(); err != nil {
		return core.TransientError(fmt.Errorf("failed to enqueue work item: %w", err))
	}
	return nil
}

// Dequeue atomically pops up to n items from the head of the queue
func (q *RedisQueue) Dequeue(ctx context.Context, n int) ([]*core.WorkItem, error) {
	if n <= 0 {
		return nil, nil
	}

	raw, err := q.client.RPopCount(ctx, q.mainKey, n).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, core.TransientError(fmt.Errorf("failed to dequeue work items: %w", err))
	}

	items := make([]*core.WorkItem, 0, len(raw))
	for _, data := range raw {
		var item core.WorkItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			// A corrupt entry is unprocessable; park it for inspection
			// rather than losing it or poisoning the batch.
			q.logger.Error("Dropping undecodable work item to dead-letter",
				zap.Error(err))
			q.client.LPush(ctx, q.deadKey, data)
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// Requeue puts an item back at the tail for another attempt
func (q *RedisQueue) Requeue(ctx context.Context, item *core.WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}
	if err := q.client.LPush(ctx, q.mainKey, string(data)).Err(); err != nil {
		return core.TransientError(fmt.Errorf("failed to requeue work item: %w", err))
	}
	return nil
}

// DeadLetter moves an item to the dead-letter list with the failure reason
func (q *RedisQueue) DeadLetter(ctx context.Context, item *core.WorkItem, reason string) error {
	item.LastError = reason
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}
	if err := q.client.LPush(ctx, q.deadKey, string(data)).Err(); err != nil {
		return core.TransientError(fmt.Errorf("failed to dead-letter work item: %w", err))
	}
	q.logger.Warn("Work item dead-lettered",
		zap.String("work_item_id", item.ID),
		zap.String("tenant_id", item.TenantID),
		zap.Int("attempts", item.Attempts),
		zap.String("reason", reason))
	return nil
}

// DeadLetters returns up to limit dead-lettered items, newest first
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]*core.WorkItem, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := q.client.LRange(ctx, q.deadKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, core.TransientError(fmt.Errorf("failed to list dead letters: %w", err))
	}

	items := make([]*core.WorkItem, 0, len(raw))
	for _, data := range raw {
		var item core.WorkItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// Stats reports queue depths
func (q *RedisQueue) Stats(ctx context.Context) (*core.QueueStats, error) {
	pending, err := q.client.LLen(ctx, q.mainKey).Result()
	if err != nil {
		return nil, core.TransientError(fmt.Errorf("failed to read queue length: %w", err))
	}
	dead, err := q.client.LLen(ctx, q.deadKey).Result()
	if err != nil {
		return nil, core.TransientError(fmt.Errorf("failed to read dead-letter length: %w", err))
	}
	return &core.QueueStats{Pending: pending, DeadLetter: dead}, nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
