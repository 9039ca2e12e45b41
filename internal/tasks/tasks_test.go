package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/sitekit/internal/config"
)

type greeting struct {
	Name string `json:"name"`
}

func newRecordingRegistry(t *testing.T) (*Registry, <-chan greeting) {
	t.Helper()
	got := make(chan greeting, 4)
	reg := NewRegistry()
	reg.Register("greet", func(_ context.Context, payload json.RawMessage) error {
		var g greeting
		if err := json.Unmarshal(payload, &g); err != nil {
			return err
		}
		got <- g
		return nil
	})
	return reg, got
}

func TestNewSelectsQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := NewRegistry()

	tests := []struct {
		name      string
		cfg       config.Tasks
		wantEager bool
	}{
		{"no broker", config.Tasks{}, true},
		{"always eager", config.Tasks{BrokerURL: "redis://" + mr.Addr(), AlwaysEager: true}, true},
		{"broker", config.Tasks{BrokerURL: "redis://" + mr.Addr()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(tt.cfg, reg, zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			defer q.Close()
			_, eager := q.(*EagerQueue)
			if eager != tt.wantEager {
				t.Fatalf("expected eager=%v, got %T", tt.wantEager, q)
			}
		})
	}
}

func TestNewRejectsBadBroker(t *testing.T) {
	if _, err := New(config.Tasks{BrokerURL: "amqp://guest@localhost"}, NewRegistry(), nil); err == nil {
		t.Fatal("expected error for non-redis broker URL")
	}
}

func TestEagerQueueRunsInline(t *testing.T) {
	reg, got := newRecordingRegistry(t)
	q := NewEagerQueue(reg, zaptest.NewLogger(t))

	id, err := q.Enqueue(context.Background(), "greet", greeting{Name: "ada"})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a task id")
	}
	select {
	case g := <-got:
		if g.Name != "ada" {
			t.Fatalf("unexpected payload %+v", g)
		}
	default:
		t.Fatal("expected the task to have run before Enqueue returned")
	}
}

func TestEagerQueuePropagatesErrors(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	reg.Register("fail", func(context.Context, json.RawMessage) error { return boom })
	q := NewEagerQueue(reg, nil)

	if _, err := q.Enqueue(context.Background(), "fail", nil); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := q.Enqueue(context.Background(), "missing", nil); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestRedisQueueAndWorker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg, got := newRecordingRegistry(t)
	q := NewRedisQueue(client, "", reg)
	t.Cleanup(func() { _ = q.Close() })

	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "greet", greeting{Name: "first"}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if _, err := q.Enqueue(ctx, "greet", greeting{Name: "second"}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if _, err := q.Enqueue(ctx, "missing", nil); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}

	n, err := q.Len(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 pending tasks, got %d (%v)", n, err)
	}

	w := q.Worker(zaptest.NewLogger(t))
	for _, want := range []string{"first", "second"} {
		took, err := w.ProcessOne(ctx)
		if err != nil || !took {
			t.Fatalf("ProcessOne = %v, %v", took, err)
		}
		if g := <-got; g.Name != want {
			t.Fatalf("expected %s, got %s", want, g.Name)
		}
	}
}

func TestWorkerDropsMalformedTasks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client, "jobs", NewRegistry())
	t.Cleanup(func() { _ = q.Close() })

	if _, err := mr.Lpush("jobs", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	took, err := q.Worker(nil).ProcessOne(context.Background())
	if err != nil || !took {
		t.Fatalf("ProcessOne = %v, %v", took, err)
	}
	if mr.Exists("jobs") {
		t.Fatal("malformed task should have been removed")
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg, got := newRecordingRegistry(t)
	q := NewRedisQueue(client, "", reg)
	t.Cleanup(func() { _ = q.Close() })

	w := q.Worker(zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	if _, err := q.Enqueue(context.Background(), "greet", greeting{Name: "async"}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	select {
	case g := <-got:
		if g.Name != "async" {
			t.Fatalf("unexpected payload %+v", g)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not process the task")
	}

	cancel()
	wg.Wait()
}

func TestWorkerRunSurvivesBrokerOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	q := NewRedisQueue(client, "", NewRegistry())
	t.Cleanup(func() { _ = q.Close() })
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Worker(zaptest.NewLogger(t)).Run(ctx)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after cancellation while the broker was down")
	}
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", func(context.Context, json.RawMessage) error { return nil })
	reg.Register("a", func(context.Context, json.RawMessage) error { return nil })
	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names %v", names)
	}
}
