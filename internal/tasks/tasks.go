// Package tasks runs background jobs either inline or through a Redis list
// consumed by a worker.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownTask is returned when a task name has no registered handler.
var ErrUnknownTask = errors.New("unknown task")

// Task is the unit of work placed on a queue.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// HandlerFunc executes one task payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Queue accepts tasks for execution.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
	Close() error
}

// Registry maps task names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	r.handlers[name] = fn
	r.mu.Unlock()
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Run executes task with its registered handler.
func (r *Registry) Run(ctx context.Context, task Task) error {
	r.mu.RLock()
	fn, ok := r.handlers[task.Name]
	r.mu.RUnlock()
	if !ok {
		return unknown(task.Name)
	}
	return fn(ctx, task.Payload)
}

func newTask(name string, payload any, now time.Time) (Task, error) {
	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		EnqueuedAt: now.UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Task{}, fmt.Errorf("encode %s payload: %w", name, err)
		}
		task.Payload = data
	}
	return task, nil
}

func unknown(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownTask, name)
}
