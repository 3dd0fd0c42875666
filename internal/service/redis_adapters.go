package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/model"
)

// FailureCounter counts events inside a sliding expiry window.
type FailureCounter interface {
	// Incr bumps key and returns the count within window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// EventPublisher fans recorded events out to live monitors.
type EventPublisher interface {
	Publish(ctx context.Context, e *model.MonitoringEvent) error
}

// EventQueue buffers events for batched persistence.
type EventQueue interface {
	Push(ctx context.Context, e *model.MonitoringEvent) error
}

// RedisFailureCounter keeps counters as Redis keys that expire with the window.
type RedisFailureCounter struct {
	rdb *redis.Client
}

func NewRedisFailureCounter(rdb *redis.Client) *RedisFailureCounter {
	return &RedisFailureCounter{rdb: rdb}
}

// Incr increments the counter and arms its expiry on the first hit.
func (c *RedisFailureCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// RedisEventPublisher publishes events on the exam's monitor channel.
type RedisEventPublisher struct {
	rdb *redis.Client
}

func NewRedisEventPublisher(rdb *redis.Client) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, e *model.MonitoringEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	channel := config.CacheKey.ExamMonitorChannel(e.ExamID.String())
	return p.rdb.Publish(ctx, channel, payload).Err()
}

// RedisEventQueue pushes events on the list drained by the event worker.
type RedisEventQueue struct {
	rdb *redis.Client
}

func NewRedisEventQueue(rdb *redis.Client) *RedisEventQueue {
	return &RedisEventQueue{rdb: rdb}
}

func (q *RedisEventQueue) Push(ctx context.Context, e *model.MonitoringEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, payload).Err()
}
