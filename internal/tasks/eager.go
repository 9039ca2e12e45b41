package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EagerQueue runs each task synchronously inside Enqueue.
type EagerQueue struct {
	registry *Registry
	logger   *zap.Logger
}

// NewEagerQueue returns a queue that executes tasks inline.
func NewEagerQueue(registry *Registry, logger *zap.Logger) *EagerQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EagerQueue{registry: registry, logger: logger}
}

// Enqueue runs the task immediately and returns its error.
func (q *EagerQueue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	if !q.registry.Has(name) {
		return "", unknown(name)
	}
	task, err := newTask(name, payload, time.Now())
	if err != nil {
		return "", err
	}

	start := time.Now()
	err = q.registry.Run(ctx, task)
	q.logger.Debug("task executed eagerly",
		zap.String("task", name),
		zap.String("task_id", task.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return task.ID, err
}

// Close is a no-op.
func (q *EagerQueue) Close() error {
	return nil
}
