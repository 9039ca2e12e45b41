package static

import (
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/eugenenazirov/sitekit/internal/config"
)

const immutableCacheControl = "public, max-age=31536000, immutable"

// Handler serves files from the static root under cfg.URL.
type Handler struct {
	root     string
	prefix   string
	compress bool
	hashed   map[string]struct{}
	manifest *Manifest
}

// NewHandler builds a Handler. With compressed-manifest storage the manifest
// is loaded when present; a missing manifest only disables hashed lookups.
func NewHandler(cfg config.Static) *Handler {
	h := &Handler{
		root:     cfg.Root,
		prefix:   cfg.URL,
		compress: cfg.Storage == config.StorageCompressedManifest,
		hashed:   map[string]struct{}{},
	}
	if h.compress {
		if m, err := LoadManifest(cfg.Root); err == nil {
			h.manifest = m
			for _, name := range m.Paths {
				h.hashed[name] = struct{}{}
			}
		}
	}
	return h
}

// Prefix returns the URL prefix the handler serves.
func (h *Handler) Prefix() string {
	return h.prefix
}

// URL returns the public URL for an asset, using its hashed name when the
// manifest knows it.
func (h *Handler) URL(name string) string {
	name = strings.TrimPrefix(name, "/")
	if h.manifest != nil {
		if hashed, ok := h.manifest.Paths[name]; ok {
			return h.prefix + hashed
		}
	}
	return h.prefix + name
}

// Match reports whether the request path falls under the static prefix.
func (h *Handler) Match(urlPath string) bool {
	return strings.HasPrefix(urlPath, h.prefix)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := path.Clean("/" + strings.TrimPrefix(r.URL.Path, h.prefix))
	name = strings.TrimPrefix(name, "/")
	if name == "" || name == "." || name == ManifestName {
		http.NotFound(w, r)
		return
	}

	full := filepath.Join(h.root, filepath.FromSlash(name))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	if _, ok := h.hashed[name]; ok {
		w.Header().Set("Cache-Control", immutableCacheControl)
	}

	if h.compress {
		w.Header().Add("Vary", "Accept-Encoding")
		if acceptsGzip(r) {
			if gz, err := os.Stat(full + ".gz"); err == nil && !gz.IsDir() {
				if ctype := mime.TypeByExtension(filepath.Ext(name)); ctype != "" {
					w.Header().Set("Content-Type", ctype)
				}
				w.Header().Set("Content-Encoding", "gzip")
				serveFile(w, r, full+".gz")
				return
			}
		}
	}

	serveFile(w, r, full)
}

func serveFile(w http.ResponseWriter, r *http.Request, name string) {
	f, err := os.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, strings.TrimSuffix(filepath.Base(name), ".gz"), info.ModTime(), f)
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}
