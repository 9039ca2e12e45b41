package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eugenenazirov/sitekit/internal/config"
)

// DefaultQueueKey is the Redis list tasks are pushed onto.
const DefaultQueueKey = "sitekit:tasks"

// Redis rounds blocking timeouts to whole seconds.
const defaultPollTimeout = time.Second

// RedisQueue pushes JSON-encoded tasks onto a Redis list.
type RedisQueue struct {
	client   *redis.Client
	key      string
	registry *Registry
}

// NewRedisQueue wraps an existing client.
func NewRedisQueue(client *redis.Client, key string, registry *Registry) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key, registry: registry}
}

// Enqueue LPUSHes the task; a Worker pops from the other end.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	if !q.registry.Has(name) {
		return "", unknown(name)
	}
	task, err := newTask(name, payload, time.Now())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return "", fmt.Errorf("push task %s: %w", name, err)
	}
	return task.ID, nil
}

// Len returns the number of pending tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close closes the Redis client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Worker returns a worker consuming this queue.
func (q *RedisQueue) Worker(logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		client:      q.client,
		key:         q.key,
		registry:    q.registry,
		logger:      logger,
		pollTimeout: defaultPollTimeout,
	}
}

// Worker pops tasks from a Redis list and runs them.
type Worker struct {
	client      *redis.Client
	key         string
	registry    *Registry
	logger      *zap.Logger
	pollTimeout time.Duration
}

// Run processes tasks until ctx is cancelled. Poll failures are logged and
// retried after the poll timeout.
func (w *Worker) Run(ctx context.Context) {
	defer w.logger.Info("task worker stopped", zap.String("queue", w.key))
	w.logger.Info("task worker started", zap.String("queue", w.key))
	for ctx.Err() == nil {
		if _, err := w.ProcessOne(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("task worker poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollTimeout):
			}
		}
	}
}

// ProcessOne waits up to the poll timeout for a task and runs it. It reports
// whether a task was taken. Handler failures are logged, not returned.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	res, err := w.client.BRPop(ctx, w.pollTimeout, w.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pop task: %w", err)
	}

	// BRPOP replies with [key, value].
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error("dropping malformed task", zap.Error(err))
		return true, nil
	}

	start := time.Now()
	if err := w.registry.Run(ctx, task); err != nil {
		w.logger.Error("task failed",
			zap.String("task", task.Name),
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return true, nil
	}
	w.logger.Info("task completed",
		zap.String("task", task.Name),
		zap.String("task_id", task.ID),
		zap.Duration("duration", time.Since(start)),
	)
	return true, nil
}

// New picks the queue for cfg: inline execution when AlwaysEager is set or no
// broker is configured, otherwise the Redis list at BrokerURL.
func New(cfg config.Tasks, registry *Registry, logger *zap.Logger) (Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AlwaysEager || cfg.BrokerURL == "" {
		logger.Debug("tasks run eagerly", zap.Bool("always_eager", cfg.AlwaysEager))
		return NewEagerQueue(registry, logger), nil
	}

	opts, err := redis.ParseURL(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	return NewRedisQueue(redis.NewClient(opts), DefaultQueueKey, registry), nil
}
