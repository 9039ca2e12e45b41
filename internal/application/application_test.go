package application

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/getsentry/sentry-go"
	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/sitekit/internal/api"
	"github.com/eugenenazirov/sitekit/internal/config"
	"github.com/eugenenazirov/sitekit/internal/redirects"
	"github.com/eugenenazirov/sitekit/internal/tasks"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*gomail.Msg
}

func (s *recordingSender) DialAndSendWithContext(_ context.Context, messages ...*gomail.Msg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, messages...)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func resolveTestConfig(t *testing.T, environ map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Resolve(environ, &config.CLIOverrides{
		Root:        t.TempDir(),
		SkipEnvFile: true,
	})
	if err != nil {
		t.Fatalf("resolve settings: %v", err)
	}
	cfg.Server.EnableRequestLogging = false
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	app, err := New(cfg, zaptest.NewLogger(t), opts...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestNewInitializesDependencies(t *testing.T) {
	cfg := resolveTestConfig(t, map[string]string{})
	app := newTestApp(t, cfg)

	if app.server == nil || app.router == nil || app.handler == nil || app.db == nil {
		t.Fatalf("expected server, router, handler and database to be initialized")
	}
	if app.Server() != app.server {
		t.Fatalf("Server accessor did not return underlying instance")
	}
	if app.Redirects() == nil {
		t.Fatalf("expected redirects repository for installed component")
	}
	if _, ok := app.Queue().(*tasks.EagerQueue); !ok {
		t.Fatalf("expected eager queue without a broker, got %T", app.Queue())
	}
	if app.mailer != nil {
		t.Fatalf("mail must stay disabled without EMAIL_HOST")
	}
	if _, err := os.Stat(filepath.Join(cfg.BaseDir, "db.sqlite3")); err != nil {
		t.Fatalf("expected default sqlite database to be created: %v", err)
	}
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := config.Server{
		Port:              "9090",
		ReadHeaderTimeout: 20 * time.Millisecond,
		WriteTimeout:      30 * time.Millisecond,
		IdleTimeout:       40 * time.Millisecond,
	}
	handler := http.NewServeMux()

	server := NewServer(cfg, handler)
	if server.Addr != ":9090" {
		t.Fatalf("expected address :9090, got %s", server.Addr)
	}
	if server.Handler != handler {
		t.Fatalf("expected handler to be applied")
	}
	if server.ReadHeaderTimeout != cfg.ReadHeaderTimeout ||
		server.WriteTimeout != cfg.WriteTimeout ||
		server.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("server timeouts do not match configuration")
	}

	if got := NewServer(config.Server{Port: "127.0.0.1:7000"}, handler).Addr; got != "127.0.0.1:7000" {
		t.Fatalf("expected host:port to be kept, got %s", got)
	}
}

func TestSentryNotInitialisedWithoutDSN(t *testing.T) {
	calls := 0
	cfg := resolveTestConfig(t, map[string]string{})
	newTestApp(t, cfg, WithSentryInit(func(sentry.ClientOptions) error {
		calls++
		return nil
	}))
	if calls != 0 {
		t.Fatalf("expected sentry init to be skipped, got %d calls", calls)
	}
}

func TestSentryInitialisedOnceWithDSN(t *testing.T) {
	var got []sentry.ClientOptions
	cfg := resolveTestConfig(t, map[string]string{
		"SENTRY_DSN":  "https://key@sentry.example.com/1",
		"ENVIRONMENT": "staging",
		"SECRET_KEY":  "not-the-dev-key",
	})
	newTestApp(t, cfg, WithRelease("v1.2.3"), WithSentryInit(func(opts sentry.ClientOptions) error {
		got = append(got, opts)
		return nil
	}))

	if len(got) != 1 {
		t.Fatalf("expected exactly one sentry init, got %d", len(got))
	}
	if got[0].Dsn != "https://key@sentry.example.com/1" || got[0].Environment != "staging" || got[0].Release != "v1.2.3" {
		t.Fatalf("unexpected sentry options %+v", got[0])
	}
}

func TestHerokuCreatesStaticRoot(t *testing.T) {
	cfg := resolveTestConfig(t, map[string]string{
		"DYNO":       "web.1",
		"SECRET_KEY": "not-the-dev-key",
	})
	if _, err := os.Stat(cfg.Static.Root); err == nil {
		t.Fatalf("static root should not exist before New")
	}

	newTestApp(t, cfg)

	info, err := os.Stat(cfg.Static.Root)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected static root %s to be created: %v", cfg.Static.Root, err)
	}
}

func TestLocalDoesNotCreateStaticRoot(t *testing.T) {
	cfg := resolveTestConfig(t, map[string]string{})
	newTestApp(t, cfg)

	if _, err := os.Stat(cfg.Static.Root); err == nil {
		t.Fatalf("static root must only be created on Heroku")
	}
}

func TestHoneypotAlertSendsMail(t *testing.T) {
	sender := &recordingSender{}
	cfg := resolveTestConfig(t, map[string]string{
		"EMAIL_HOST":         "smtp.example.com",
		"DEFAULT_FROM_EMAIL": "alerts@example.com",
	})
	app := newTestApp(t, cfg, WithMailSender(sender))

	_, err := app.Queue().Enqueue(context.Background(), api.TaskHoneypotAlert, api.LoginAttempt{
		Username:   "root",
		RemoteAddr: "203.0.113.5",
		Path:       "/admin/",
		At:         time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected one alert email, got %d", sender.count())
	}
}

func TestRedirectFallbackEndToEnd(t *testing.T) {
	cfg := resolveTestConfig(t, map[string]string{})
	app := newTestApp(t, cfg)

	err := app.Redirects().Save(context.Background(), &redirects.Redirect{
		SiteID:  cfg.SiteID,
		OldPath: "/old/",
		NewPath: "/new/",
	})
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/old/", nil))
	if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != "/new/" {
		t.Fatalf("expected redirect to /new/, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestRedisBrokerStartsWorker(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := resolveTestConfig(t, map[string]string{
		"REDIS_URL": "redis://" + mr.Addr() + "/0",
	})
	cfg.Server.Port = "127.0.0.1:0"
	app := newTestApp(t, cfg)

	if _, ok := app.Queue().(*tasks.RedisQueue); !ok {
		t.Fatalf("expected redis queue, got %T", app.Queue())
	}

	done := make(chan struct{})
	app.registry.Register("ping", func(context.Context, json.RawMessage) error {
		close(done)
		return nil
	})

	if err := app.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if _, err := app.Queue().Enqueue(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("worker did not run the task")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}
