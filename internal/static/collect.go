// Package static collects assets from the configured source directories into
// the static root and serves them, optionally with content-hashed names, a
// manifest and precompressed gzip variants.
package static

import (
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/sitekit/internal/config"
)

// ManifestName is the file written to the static root by the
// compressed-manifest storage.
const ManifestName = "manifest.json"

const (
	manifestVersion = "1"
	hashLength      = 12
	minGzipSize     = 256
)

var compressibleExt = map[string]struct{}{
	".css":  {},
	".js":   {},
	".mjs":  {},
	".json": {},
	".map":  {},
	".svg":  {},
	".txt":  {},
	".html": {},
	".xml":  {},
}

// Manifest maps source-relative asset names to their hashed names.
type Manifest struct {
	Version string            `json:"version"`
	Paths   map[string]string `json:"paths"`
}

// Result summarises a collect run.
type Result struct {
	Copied     int
	Compressed int
	Manifest   *Manifest
}

// Collect copies every file under cfg.Dirs into cfg.Root. Files found in an
// earlier directory win over later ones with the same relative name. Missing
// source directories are skipped.
func Collect(cfg config.Static, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return Result{}, fmt.Errorf("create static root: %w", err)
	}

	sources, err := findSources(cfg.Dirs, logger)
	if err != nil {
		return Result{}, err
	}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	hashed := cfg.Storage == config.StorageCompressedManifest
	res := Result{}
	if hashed {
		res.Manifest = &Manifest{Version: manifestVersion, Paths: make(map[string]string, len(names))}
	}

	for _, name := range names {
		src := sources[name]
		dst := filepath.Join(cfg.Root, filepath.FromSlash(name))
		sum, err := copyFile(src, dst)
		if err != nil {
			return Result{}, err
		}
		res.Copied++

		if !hashed {
			continue
		}

		hashedName := HashedName(name, sum)
		hashedDst := filepath.Join(cfg.Root, filepath.FromSlash(hashedName))
		if _, err := copyFile(src, hashedDst); err != nil {
			return Result{}, err
		}
		res.Manifest.Paths[name] = hashedName

		for _, target := range []string{dst, hashedDst} {
			ok, err := compressFile(target)
			if err != nil {
				return Result{}, err
			}
			if ok {
				res.Compressed++
			}
		}
	}

	if hashed {
		if err := writeManifest(filepath.Join(cfg.Root, ManifestName), res.Manifest); err != nil {
			return Result{}, err
		}
	}

	logger.Info("static files collected",
		zap.String("root", cfg.Root),
		zap.Int("copied", res.Copied),
		zap.Int("compressed", res.Compressed),
	)
	return res, nil
}

// HashedName inserts the first hash characters before the extension:
// css/app.css becomes css/app.<hash>.css.
func HashedName(name, sum string) string {
	if len(sum) > hashLength {
		sum = sum[:hashLength]
	}
	dir, file := path.Split(name)
	ext := path.Ext(file)
	return dir + strings.TrimSuffix(file, ext) + "." + sum + ext
}

// LoadManifest reads the manifest from the static root.
func LoadManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Paths == nil {
		m.Paths = map[string]string{}
	}
	return &m, nil
}

func findSources(dirs []string, logger *zap.Logger) (map[string]string, error) {
	sources := make(map[string]string)
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("static source directory missing", zap.String("dir", dir))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("static source %s is not a directory", dir)
		}

		err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)
			if _, seen := sources[name]; !seen {
				sources[name] = p
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	return sources, nil
}

// copyFile copies src to dst and returns the hex md5 of the content.
func copyFile(src, dst string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}

	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dst, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// compressFile writes name.gz next to name when the type is compressible and
// the file is large enough to benefit. A name.gz left by an earlier run is
// removed first so it never outlives its source.
func compressFile(name string) (bool, error) {
	if err := os.Remove(name + ".gz"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove stale %s.gz: %w", name, err)
	}
	if _, ok := compressibleExt[strings.ToLower(filepath.Ext(name))]; !ok {
		return false, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) < minGzipSize {
		return false, nil
	}

	out, err := os.Create(name + ".gz")
	if err != nil {
		return false, fmt.Errorf("create %s.gz: %w", name, err)
	}
	zw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		_ = out.Close()
		return false, err
	}
	if _, err := zw.Write(data); err != nil {
		_ = out.Close()
		return false, fmt.Errorf("compress %s: %w", name, err)
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return false, fmt.Errorf("compress %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		return false, fmt.Errorf("close %s.gz: %w", name, err)
	}
	return true, nil
}

func writeManifest(name string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(name, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
