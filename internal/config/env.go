package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envFileName = ".env"

// envSettings is the table of environment keys the resolver understands.
// Every field maps one variable to one typed value; empty values count as unset.
type envSettings struct {
	SecretKey         string `env:"SECRET_KEY"`
	Debug             Toggle `env:"DEBUG"`
	TimeZone          string `env:"TIMEZONE"`
	SecureSSLRedirect Toggle `env:"SECURE_SSL_REDIRECT"`
	AdminPath         string `env:"ADMIN_PATH"`
	Port              string `env:"PORT"`

	EmailUseTLS       Toggle `env:"EMAIL_USE_TLS"`
	EmailHost         string `env:"EMAIL_HOST"`
	EmailHostPassword string `env:"EMAIL_HOST_PASSWORD"`
	EmailHostUser     string `env:"EMAIL_HOST_USER"`
	EmailPort         int    `env:"EMAIL_PORT"`
	DefaultFromEmail  string `env:"DEFAULT_FROM_EMAIL"`

	Environment       string `env:"ENVIRONMENT"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT"`
	SentryDSN         string `env:"SENTRY_DSN"`

	RedisURL        string `env:"REDIS_URL"`
	BrokerURL       string `env:"BROKER_URL"`
	TaskAlwaysEager Toggle `env:"CELERY_TASK_ALWAYS_EAGER"`

	DatabaseURL  string `env:"DATABASE_URL"`
	DBSSLRequire Toggle `env:"DB_SSL_REQUIRE"`
	DBConnMaxAge int    `env:"DB_CONN_MAX_AGE" envDefault:"600"`
}

// Toggle is a boolean that remembers whether it was set at all.
type Toggle struct {
	set   bool
	value bool
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Toggle) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*t = Toggle{}
		return nil
	}
	v, err := ParseBool(raw)
	if err != nil {
		return err
	}
	*t = Toggle{set: true, value: v}
	return nil
}

// Or returns the configured value, or def when the toggle was never set.
func (t Toggle) Or(def bool) bool {
	if !t.set {
		return def
	}
	return t.value
}

// ParseBool parses the boolean spellings accepted in environment variables.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", raw)
}

func parseEnvSettings(snapshot map[string]string) (envSettings, error) {
	var vars envSettings
	err := env.ParseWithOptions(&vars, env.Options{Environment: snapshot})
	if err == nil {
		return vars, nil
	}

	var aggregate env.AggregateError
	if errors.As(err, &aggregate) {
		for _, fieldErr := range aggregate.Errors {
			var parseErr env.ParseError
			if errors.As(fieldErr, &parseErr) {
				return envSettings{}, settingError(envKeyForField(parseErr.Name), parseErr.Err)
			}
		}
	}
	return envSettings{}, settingError("environment", err)
}

func envKeyForField(name string) string {
	field, ok := reflect.TypeOf(envSettings{}).FieldByName(name)
	if !ok {
		return name
	}
	key, _, _ := strings.Cut(field.Tag.Get("env"), ",")
	return key
}

// mergeEnvironment layers the process environment over the .env file values.
func mergeEnvironment(fileVars, environ map[string]string) map[string]string {
	merged := make(map[string]string, len(fileVars)+len(environ))
	for k, v := range fileVars {
		merged[k] = v
	}
	for k, v := range environ {
		merged[k] = v
	}
	return merged
}

// readEnvFile loads key=value pairs without touching the process environment.
func readEnvFile(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vars, nil
}

// findEnvFile walks up from dir looking for a .env file. It returns "" when
// none exists.
func findEnvFile(dir string) string {
	for {
		candidate := filepath.Join(dir, envFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// EnvironMap converts os.Environ-style pairs into a map.
func EnvironMap(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
