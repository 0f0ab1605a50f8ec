// Package jobs runs the engine's background maintenance: scheduled
// reflection generation, retention cleanup, and index rebuilds. A Redis
// stream carries externally enqueued jobs so API replicas can hand work
// to the scheduler process.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Job kinds understood by the scheduler.
const (
	KindReflectDaily  = "reflect.daily"
	KindReflectWeekly = "reflect.weekly"
	KindCleanup       = "cleanup"
	KindRebuild       = "rebuild"
)

// Job is one unit of background work. An empty Namespace means "every
// namespace with stored events".
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Namespace  string    `json:"namespace,omitempty"`
	Period     time.Time `json:"period,omitempty"` // window start for reflection jobs
	EnqueuedAt time.Time `json:"enqueued_at"`
}

const jobStream = "mnemo:jobs"

// Bus carries jobs between processes via a Redis stream.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis and verifies the connection.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Publish enqueues a job on the stream.
func (b *Bus) Publish(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: jobStream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish job %s: %w", job.Kind, err)
	}
	b.logger.Debug("job published",
		zap.String("id", job.ID),
		zap.String("kind", job.Kind),
		zap.String("namespace", job.Namespace))
	return nil
}

// Subscribe emits jobs from the stream until the context is cancelled.
func (b *Bus) Subscribe(ctx context.Context) <-chan *Job {
	ch := make(chan *Job, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{jobStream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var job Job
					if json.Unmarshal([]byte(data), &job) == nil {
						ch <- &job
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
