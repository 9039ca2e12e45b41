package config

import (
	"path/filepath"
	"strings"
	"time"
)

// yamlConfig represents the YAML configuration file structure. It carries the
// structural settings that have no environment variable.
type yamlConfig struct {
	Port                 string        `yaml:"port"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	TrustProxy           *bool         `yaml:"trust_proxy"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`

	LanguageCode        string   `yaml:"language_code"`
	SiteID              int      `yaml:"site_id"`
	AllowedHosts        []string `yaml:"allowed_hosts"`
	InternalIPs         []string `yaml:"internal_ips"`
	InstalledComponents []string `yaml:"installed_components"`
	Middleware          []string `yaml:"middleware"`
	TemplateDirs        []string `yaml:"template_dirs"`

	Static  yamlStatic  `yaml:"static"`
	Logging yamlLogging `yaml:"logging"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

type yamlStatic struct {
	Root    string   `yaml:"root"`
	URL     string   `yaml:"url"`
	Dirs    []string `yaml:"dirs"`
	Storage string   `yaml:"storage"`
}

type yamlLogging struct {
	Handler    string                  `yaml:"handler"`
	Formatters map[string]LogFormatter `yaml:"formatters"`
	Handlers   map[string]LogHandler   `yaml:"handlers"`
}

// applyYAMLConfig applies YAML configuration to the Config struct. Relative
// paths are resolved against the base directory.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Port != "" {
		cfg.Server.Port = yamlCfg.Port
	}

	durations := []struct {
		key    string
		raw    string
		target *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.Server.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.Server.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.Server.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.Server.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return settingError(d.key, err)
		}
		*d.target = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.Server.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.TrustProxy != nil {
		cfg.Server.TrustProxy = *yamlCfg.TrustProxy
	}
	if yamlCfg.RateLimit.RPS != nil {
		cfg.Server.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.Server.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	if yamlCfg.LanguageCode != "" {
		cfg.LanguageCode = yamlCfg.LanguageCode
	}
	if yamlCfg.SiteID != 0 {
		cfg.SiteID = yamlCfg.SiteID
	}
	if len(yamlCfg.AllowedHosts) > 0 {
		cfg.AllowedHosts = cloneStrings(yamlCfg.AllowedHosts)
	}
	if yamlCfg.InternalIPs != nil {
		cfg.InternalIPs = cloneStrings(yamlCfg.InternalIPs)
	}
	if yamlCfg.InstalledComponents != nil {
		cfg.InstalledComponents = cloneStrings(yamlCfg.InstalledComponents)
	}
	if yamlCfg.Middleware != nil {
		cfg.Middleware = cloneStrings(yamlCfg.Middleware)
	}
	if len(yamlCfg.TemplateDirs) > 0 {
		cfg.Templates.Dirs = resolvePaths(cfg.BaseDir, yamlCfg.TemplateDirs)
	}

	if yamlCfg.Static.Root != "" {
		cfg.Static.Root = resolvePath(cfg.BaseDir, yamlCfg.Static.Root)
	}
	if yamlCfg.Static.URL != "" {
		cfg.Static.URL = yamlCfg.Static.URL
	}
	if len(yamlCfg.Static.Dirs) > 0 {
		cfg.Static.Dirs = resolvePaths(cfg.BaseDir, yamlCfg.Static.Dirs)
	}
	if yamlCfg.Static.Storage != "" {
		cfg.Static.Storage = strings.ToLower(yamlCfg.Static.Storage)
	}

	if yamlCfg.Logging.Handler != "" {
		cfg.Logging.Handler = yamlCfg.Logging.Handler
	}
	for name, formatter := range yamlCfg.Logging.Formatters {
		cfg.Logging.Formatters[name] = formatter
	}
	for name, handler := range yamlCfg.Logging.Handlers {
		if handler.FilePath != "" {
			handler.FilePath = resolvePath(cfg.BaseDir, handler.FilePath)
		}
		cfg.Logging.Handlers[name] = handler
	}

	return nil
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

func resolvePaths(base string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, resolvePath(base, p))
	}
	return out
}
