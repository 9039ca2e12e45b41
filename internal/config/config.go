package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = "8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultEnvironment    = "local"
	defaultTimeZone       = "UTC"
	defaultAdminPath      = "aperiam"
	defaultStaticURL      = "/static/"
	defaultLogDateFormat  = "2006-01-02 15:04:05"

	// DevelopmentSecretKey signs cookies during local development only.
	// Any non-local deployment must provide SECRET_KEY.
	DevelopmentSecretKey = "dev-insecure-6v$k@1x!q8r2m#p0z^w4t7n&c9b3h5j"

	redactedValue = "********"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > environment > .env file > YAML config > defaults
type Config struct {
	BaseDir string `json:"baseDir"`

	Debug       bool     `json:"debug"`
	SecretKey   string   `json:"secretKey" validate:"required"`
	Environment string   `json:"environment" validate:"required"`
	Platform    Platform `json:"platform"`

	TimeZone     string `json:"timeZone" validate:"required"`
	LanguageCode string `json:"languageCode" validate:"required"`
	UseI18N      bool   `json:"useI18N"`
	UseTZ        bool   `json:"useTZ"`

	AllowedHosts         []string    `json:"allowedHosts" validate:"min=1"`
	InternalIPs          []string    `json:"internalIPs" validate:"dive,ip"`
	SiteID               int         `json:"siteID" validate:"gt=0"`
	AdminPath            string      `json:"adminPath" validate:"required,excludesall={}"`
	SecureSSLRedirect    bool        `json:"secureSSLRedirect"`
	SecureProxySSLHeader ProxyHeader `json:"secureProxySSLHeader"`

	InstalledComponents []string          `json:"installedComponents"`
	Middleware          []string          `json:"middleware"`
	MessageTags         map[string]string `json:"messageTags"`
	Templates           Templates         `json:"templates"`

	Static         Static         `json:"static"`
	Database       Database       `json:"database"`
	TestDatabase   *Database      `json:"testDatabase,omitempty"`
	Logging        Logging        `json:"logging"`
	Email          Email          `json:"email"`
	ErrorReporting ErrorReporting `json:"errorReporting"`
	Tasks          Tasks          `json:"tasks"`
	Server         Server         `json:"server"`
}

// ProxyHeader names a header set by a trusted proxy and the value that marks
// the original request as secure. An empty Header disables the check.
type ProxyHeader struct {
	Header string `json:"header,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Templates holds template engine switches.
type Templates struct {
	Debug bool     `json:"debug"`
	Dirs  []string `json:"dirs"`
}

// Static describes where collected assets live and how they are served.
type Static struct {
	Root    string   `json:"root" validate:"required"`
	URL     string   `json:"url" validate:"required,startswith=/,endswith=/"`
	Dirs    []string `json:"dirs"`
	Storage string   `json:"storage" validate:"oneof=compressed-manifest plain"`
}

// Email holds outgoing mail settings. Mail is disabled when Host is empty.
type Email struct {
	UseTLS      bool   `json:"useTLS"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty" validate:"gte=0,lte=65535"`
	User        string `json:"user,omitempty"`
	Password    string `json:"password,omitempty"`
	DefaultFrom string `json:"defaultFrom,omitempty" validate:"omitempty,email"`
}

// Enabled reports whether outgoing mail is configured.
func (e Email) Enabled() bool {
	return e.Host != ""
}

// ErrorReporting configures the Sentry client. It is disabled when DSN is empty.
type ErrorReporting struct {
	DSN         string `json:"dsn,omitempty"`
	Environment string `json:"environment"`
}

// Enabled reports whether an error-reporting DSN was supplied.
func (e ErrorReporting) Enabled() bool {
	return e.DSN != ""
}

// Tasks configures the background task queue.
type Tasks struct {
	RedisURL    string `json:"redisURL,omitempty"`
	BrokerURL   string `json:"brokerURL,omitempty"`
	AlwaysEager bool   `json:"alwaysEager"`
}

// Server holds HTTP listener settings.
type Server struct {
	Port                 string        `json:"port" validate:"required"`
	ShutdownGracePeriod  time.Duration `json:"shutdownGracePeriod"`
	ReadHeaderTimeout    time.Duration `json:"readHeaderTimeout"`
	WriteTimeout         time.Duration `json:"writeTimeout"`
	IdleTimeout          time.Duration `json:"idleTimeout"`
	EnableRequestLogging bool          `json:"enableRequestLogging"`
	TrustProxy           bool          `json:"trustProxy"`
	RateLimitRPS         float64       `json:"rateLimitRPS" validate:"gte=0"`
	RateLimitBurst       int           `json:"rateLimitBurst" validate:"gte=0"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile  string
	EnvFile     string
	SkipEnvFile bool
	Root        string
	Port        *string
}

// Load resolves configuration from the process environment.
func Load(overrides *CLIOverrides) (Config, error) {
	return Resolve(EnvironMap(os.Environ()), overrides)
}

// Resolve builds a Config from the given environment snapshot. The same
// snapshot, files and overrides always produce an identical Config.
func Resolve(environ map[string]string, overrides *CLIOverrides) (Config, error) {
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	baseDir, err := resolveBaseDir(overrides.Root)
	if err != nil {
		return Config{}, err
	}
	cfg := defaultConfig(baseDir)

	if overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, err
		}
	}

	fileVars := map[string]string{}
	if !overrides.SkipEnvFile {
		path := overrides.EnvFile
		if path == "" {
			path = findEnvFile(baseDir)
		}
		if path != "" {
			fileVars, err = readEnvFile(path)
			if err != nil {
				return Config{}, fmt.Errorf("load env file: %w", err)
			}
		}
	}

	snapshot := mergeEnvironment(fileVars, environ)
	vars, err := parseEnvSettings(snapshot)
	if err != nil {
		return Config{}, err
	}

	if err := applyEnvConfig(&cfg, vars, DetectPlatform(snapshot)); err != nil {
		return Config{}, err
	}

	applyCLIOverrides(&cfg, overrides)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig(baseDir string) Config {
	return Config{
		BaseDir:      baseDir,
		SecretKey:    DevelopmentSecretKey,
		Environment:  defaultEnvironment,
		TimeZone:     defaultTimeZone,
		LanguageCode: "en-us",
		UseI18N:      true,
		UseTZ:        true,
		AllowedHosts: []string{"*"},
		InternalIPs:  []string{"127.0.0.1"},
		SiteID:       1,
		AdminPath:    defaultAdminPath,
		InstalledComponents: []string{
			ComponentAdmin,
			ComponentSessions,
			ComponentMessages,
			ComponentStaticFiles,
			ComponentSites,
			ComponentRedirects,
			ComponentTasks,
			ComponentMail,
			ComponentDebug,
			ComponentAdminHoneypot,
		},
		Middleware: []string{
			MiddlewareDebug,
			MiddlewareSecurity,
			MiddlewareStatic,
			MiddlewareCommon,
			MiddlewareCSRF,
			MiddlewareClickjacking,
			MiddlewareRedirects,
		},
		MessageTags: map[string]string{
			"debug":   "debug",
			"info":    "info",
			"success": "success",
			"warning": "warning",
			"error":   "danger",
		},
		Static: Static{
			Root:    filepath.Join(baseDir, "staticfiles"),
			URL:     defaultStaticURL,
			Dirs:    []string{filepath.Join(baseDir, "static")},
			Storage: StorageCompressedManifest,
		},
		Database: DefaultDatabase(baseDir),
		Logging:  defaultLogging(),
		ErrorReporting: ErrorReporting{
			Environment: defaultEnvironment,
		},
		Server: Server{
			Port:                 defaultPort,
			ShutdownGracePeriod:  10 * time.Second,
			ReadHeaderTimeout:    5 * time.Second,
			WriteTimeout:         15 * time.Second,
			IdleTimeout:          60 * time.Second,
			EnableRequestLogging: true,
			RateLimitRPS:         defaultRateLimitRPS,
			RateLimitBurst:       defaultRateLimitBurst,
		},
	}
}

func resolveBaseDir(root string) (string, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve base directory: %w", err)
	}
	return abs, nil
}

// checkAdminPath rejects paths that cannot be routed verbatim: every
// segment must survive URL path escaping unchanged.
func checkAdminPath(path string) error {
	for _, segment := range strings.Split(path, "/") {
		switch segment {
		case "":
			return fmt.Errorf("path %q contains an empty segment", path)
		case ".", "..":
			return fmt.Errorf("path %q contains a relative segment", path)
		}
		if url.PathEscape(segment) != segment {
			return fmt.Errorf("segment %q must not need escaping", segment)
		}
	}
	return nil
}

// applyEnvConfig applies the environment table to cfg.
func applyEnvConfig(cfg *Config, vars envSettings, platform Platform) error {
	cfg.Platform = platform

	cfg.Debug = vars.Debug.Or(cfg.Debug)
	cfg.Templates.Debug = cfg.Debug

	if vars.SecretKey != "" {
		cfg.SecretKey = vars.SecretKey
	}
	if tz := strings.TrimSpace(vars.TimeZone); tz != "" {
		cfg.TimeZone = tz
	}
	if port := strings.TrimSpace(vars.Port); port != "" {
		cfg.Server.Port = port
	}
	if vars.AdminPath != "" {
		path := strings.Trim(strings.TrimSpace(vars.AdminPath), "/")
		if path == "" {
			return settingError("ADMIN_PATH", fmt.Errorf("path %q is empty after trimming slashes", vars.AdminPath))
		}
		if err := checkAdminPath(path); err != nil {
			return settingError("ADMIN_PATH", err)
		}
		cfg.AdminPath = path
	}

	if platform.Heroku {
		cfg.SecureProxySSLHeader = ProxyHeader{Header: "X-Forwarded-Proto", Value: "https"}
		cfg.Server.TrustProxy = true
	}
	cfg.SecureSSLRedirect = vars.SecureSSLRedirect.Or(platform.Heroku)

	cfg.Email = Email{
		UseTLS:      vars.EmailUseTLS.Or(false),
		Host:        strings.TrimSpace(vars.EmailHost),
		Port:        vars.EmailPort,
		User:        vars.EmailHostUser,
		Password:    vars.EmailHostPassword,
		DefaultFrom: strings.TrimSpace(vars.DefaultFromEmail),
	}

	if vars.Environment != "" {
		cfg.Environment = vars.Environment
	}
	cfg.ErrorReporting = ErrorReporting{
		DSN:         strings.TrimSpace(vars.SentryDSN),
		Environment: firstNonEmpty(vars.SentryEnvironment, cfg.Environment),
	}

	cfg.Tasks = Tasks{
		RedisURL:    vars.RedisURL,
		BrokerURL:   firstNonEmpty(vars.BrokerURL, vars.RedisURL),
		AlwaysEager: vars.TaskAlwaysEager.Or(cfg.Debug),
	}
	if cfg.Tasks.BrokerURL != "" {
		if _, err := redis.ParseURL(cfg.Tasks.BrokerURL); err != nil {
			key := "BROKER_URL"
			if vars.BrokerURL == "" {
				key = "REDIS_URL"
			}
			return settingError(key, err)
		}
	}

	if vars.DBConnMaxAge < 0 {
		return settingError("DB_CONN_MAX_AGE", fmt.Errorf("must be >= 0, got %d", vars.DBConnMaxAge))
	}
	if vars.DatabaseURL != "" {
		db, err := ParseDatabaseURL(
			vars.DatabaseURL,
			time.Duration(vars.DBConnMaxAge)*time.Second,
			vars.DBSSLRequire.Or(platform.Heroku),
		)
		if err != nil {
			return settingError("DATABASE_URL", err)
		}
		cfg.Database = db
	}

	if platform.CI {
		db := ciDatabase()
		cfg.TestDatabase = &db
	}

	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Server.Port = *overrides.Port
	}
}

// IsLocal reports whether the settings describe a local development run.
func (c Config) IsLocal() bool {
	return c.Environment == defaultEnvironment && !c.Platform.Heroku
}

// Redacted returns a deep copy with secrets masked, suitable for display.
func (c Config) Redacted() Config {
	out := c.Clone()
	if out.SecretKey != "" {
		out.SecretKey = redactedValue
	}
	out.Database = c.Database.Redacted()
	if c.TestDatabase != nil {
		db := c.TestDatabase.Redacted()
		out.TestDatabase = &db
	}
	if out.Email.Password != "" {
		out.Email.Password = redactedValue
	}
	if out.ErrorReporting.DSN != "" {
		out.ErrorReporting.DSN = redactedValue
	}
	out.Tasks.RedisURL = redactURL(out.Tasks.RedisURL)
	out.Tasks.BrokerURL = redactURL(out.Tasks.BrokerURL)
	return out
}

// Clone returns a deep copy so callers can hand out slices and maps freely.
func (c Config) Clone() Config {
	out := c
	out.AllowedHosts = cloneStrings(c.AllowedHosts)
	out.InternalIPs = cloneStrings(c.InternalIPs)
	out.InstalledComponents = cloneStrings(c.InstalledComponents)
	out.Middleware = cloneStrings(c.Middleware)
	out.Templates.Dirs = cloneStrings(c.Templates.Dirs)
	out.Static.Dirs = cloneStrings(c.Static.Dirs)
	if c.MessageTags != nil {
		out.MessageTags = make(map[string]string, len(c.MessageTags))
		for k, v := range c.MessageTags {
			out.MessageTags[k] = v
		}
	}
	if c.Database.Options != nil {
		out.Database.Options = make(map[string]string, len(c.Database.Options))
		for k, v := range c.Database.Options {
			out.Database.Options[k] = v
		}
	}
	if c.TestDatabase != nil {
		db := *c.TestDatabase
		out.TestDatabase = &db
	}
	out.Logging = c.Logging.clone()
	return out
}

// HasComponent reports whether name is listed in InstalledComponents.
func (c Config) HasComponent(name string) bool {
	for _, component := range c.InstalledComponents {
		if component == name {
			return true
		}
	}
	return false
}

func redactURL(raw string) string {
	if raw == "" || !strings.Contains(raw, "@") {
		return raw
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return redactedValue
	}
	_, host, _ := strings.Cut(rest, "@")
	return scheme + "://" + redactedValue + "@" + host
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}
