package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// settingKeys maps validated struct fields to the key an operator sets them
// through: an environment variable or a settings file entry.
var settingKeys = map[string]string{
	"Config.SecretKey":             "SECRET_KEY",
	"Config.Environment":           "ENVIRONMENT",
	"Config.TimeZone":              "TIMEZONE",
	"Config.LanguageCode":          "language_code",
	"Config.AllowedHosts":          "allowed_hosts",
	"Config.InternalIPs":           "internal_ips",
	"Config.SiteID":                "site_id",
	"Config.AdminPath":             "ADMIN_PATH",
	"Config.Static.Root":           "static.root",
	"Config.Static.URL":            "static.url",
	"Config.Static.Storage":        "static.storage",
	"Config.Database.Engine":       "DATABASE_URL",
	"Config.Database.Name":         "DATABASE_URL",
	"Config.Database.Port":         "DATABASE_URL",
	"Config.Email.Port":            "EMAIL_PORT",
	"Config.Email.DefaultFrom":     "DEFAULT_FROM_EMAIL",
	"Config.Server.Port":           "PORT",
	"Config.Server.RateLimitRPS":   "rate_limit.rps",
	"Config.Server.RateLimitBurst": "rate_limit.burst",
}

// settingKey returns the operator-facing key for a validator namespace.
func settingKey(namespace string) string {
	field, _, _ := strings.Cut(namespace, "[")
	if key, ok := settingKeys[field]; ok {
		return key
	}
	return namespace
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if !cfg.IsLocal() && (cfg.SecretKey == "" || cfg.SecretKey == DevelopmentSecretKey) {
		return settingError("SECRET_KEY", errors.New("must be set outside local development"))
	}

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return settingError(settingKey(fe.Namespace()), fmt.Errorf("failed %q validation with value %v", fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("validate config: %w", err)
	}

	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return settingError("TIMEZONE", err)
	}

	if err := validateComponents(cfg); err != nil {
		return err
	}
	if err := validateMiddleware(cfg); err != nil {
		return err
	}
	return validateLogging(cfg.Logging)
}

func validateComponents(cfg Config) error {
	seen := make(map[string]struct{}, len(cfg.InstalledComponents))
	for _, name := range cfg.InstalledComponents {
		if _, ok := knownComponents[name]; !ok {
			return settingError("installed_components", fmt.Errorf("unknown component %q", name))
		}
		if _, dup := seen[name]; dup {
			return settingError("installed_components", fmt.Errorf("component %q listed twice", name))
		}
		seen[name] = struct{}{}
	}
	return nil
}

func validateMiddleware(cfg Config) error {
	seen := make(map[string]struct{}, len(cfg.Middleware))
	lastRank, lastName := 0, ""
	for _, name := range cfg.Middleware {
		required, ok := middlewareRequires[name]
		if !ok {
			return settingError("middleware", fmt.Errorf("unknown middleware %q", name))
		}
		if _, dup := seen[name]; dup {
			return settingError("middleware", fmt.Errorf("middleware %q listed twice", name))
		}
		seen[name] = struct{}{}

		if required != "" && !cfg.HasComponent(required) {
			return settingError("middleware", fmt.Errorf("middleware %q requires component %q", name, required))
		}

		if rank, ranked := middlewareRank[name]; ranked {
			if rank < lastRank {
				return settingError("middleware", fmt.Errorf("middleware %q must come before %q", name, lastName))
			}
			lastRank, lastName = rank, name
		}
	}
	return nil
}

func validateLogging(l Logging) error {
	if _, ok := l.Handlers[l.Handler]; !ok {
		return settingError("logging.handler", fmt.Errorf("unknown handler %q", l.Handler))
	}

	for name, h := range l.Handlers {
		key := "logging.handlers." + name
		if err := validate.Struct(h); err != nil {
			return settingError(key, err)
		}
		if h.Formatter != "" {
			if _, ok := l.Formatters[h.Formatter]; !ok {
				return settingError(key, fmt.Errorf("unknown formatter %q", h.Formatter))
			}
		}
		if h.Kind != HandlerFile {
			continue
		}
		if h.FilePath == "" {
			return settingError(key, errors.New("file path is required for file handler"))
		}
		if h.MaxSize < 1 || h.MaxSize > 100 {
			return settingError(key, errors.New("max size must be between 1 and 100 MB"))
		}
		if h.MaxBackups < 1 || h.MaxBackups > 10 {
			return settingError(key, errors.New("max backups must be between 1 and 10"))
		}
		if h.MaxAge < 1 || h.MaxAge > 365 {
			return settingError(key, errors.New("max age must be between 1 and 365 days"))
		}
	}

	return nil
}
