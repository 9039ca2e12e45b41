package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/sitekit/internal/application"
	"github.com/eugenenazirov/sitekit/internal/config"
	"github.com/eugenenazirov/sitekit/internal/redirects"
	"github.com/eugenenazirov/sitekit/internal/static"
)

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	write := func(rel, content string) {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}

	write("static/css/site.css", strings.Repeat("h1 { color: #333; }\n", 30))
	write(".env", "DEBUG=False\nADMIN_PATH=/backstage/\nENVIRONMENT=local\n")
	write("settings.yaml", "allowed_hosts:\n  - example.com\n  - .example.com\nsite_id: 1\n")
	return root
}

func startApp(t *testing.T, root string) (*application.App, config.Config) {
	t.Helper()

	cfg, err := config.Resolve(map[string]string{}, &config.CLIOverrides{
		Root:       root,
		ConfigFile: filepath.Join(root, "settings.yaml"),
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if _, err := static.Collect(cfg.Static, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}

	app, err := application.New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app, cfg
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Host = "www.example.com"
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestIntegrationFlow(t *testing.T) {
	app, cfg := startApp(t, newProject(t))
	if cfg.Debug {
		t.Fatalf("DEBUG=False in .env must resolve to false")
	}
	if cfg.AdminPath != "backstage" {
		t.Fatalf("expected admin path from .env, got %q", cfg.AdminPath)
	}

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	if resp := get(t, srv, "/api/health"); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", resp.StatusCode)
	}

	if resp := get(t, srv, "/admin/"); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected honeypot page, got %d", resp.StatusCode)
	}

	// httptest clients connect from 127.0.0.1, which is an internal IP.
	resp := get(t, srv, "/backstage/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected real admin, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), config.DevelopmentSecretKey) {
		t.Fatalf("admin output leaks the secret key")
	}

	manifest, err := static.LoadManifest(cfg.Static.Root)
	if err != nil {
		t.Fatalf("LoadManifest returned error: %v", err)
	}
	hashed := manifest.Paths["css/site.css"]
	resp = get(t, srv, cfg.Static.URL+hashed)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected hashed asset, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Cache-Control"), "immutable") {
		t.Fatalf("expected immutable caching for hashed asset")
	}

	err = app.Redirects().Save(context.Background(), &redirects.Redirect{SiteID: cfg.SiteID, OldPath: "/blog/", NewPath: "/news/"})
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	resp = get(t, srv, "/blog/")
	if resp.StatusCode != http.StatusMovedPermanently || resp.Header.Get("Location") != "/news/" {
		t.Fatalf("expected redirect fallback, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestDisallowedHostRejected(t *testing.T) {
	app, _ := startApp(t, newProject(t))
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Host = "attacker.test"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown host, got %d", resp.StatusCode)
	}
}
