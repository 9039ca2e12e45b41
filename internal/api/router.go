package api

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/sitekit/internal/config"
	"github.com/eugenenazirov/sitekit/internal/redirects"
	"github.com/eugenenazirov/sitekit/internal/reporting"
)

// RouterOption configures the behaviour of NewRouter.
type RouterOption func(*routerConfig)

// WithLogging controls whether access logs are emitted.
func WithLogging(enabled bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.enableLogging = enabled
	}
}

// WithRateLimiter overrides the default request rate limiter (primarily for tests).
func WithRateLimiter(limiter rateLimiter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.rateLimiter = limiter
	}
}

// WithRateLimit builds a token bucket limiter. Zero rps or burst disables
// rate limiting.
func WithRateLimit(rps float64, burst int) RouterOption {
	return func(cfg *routerConfig) {
		if rps <= 0 || burst <= 0 {
			cfg.rateLimiter = nil
			return
		}
		cfg.rateLimiter = newTokenBucketLimiter(rps, burst)
	}
}

// WithStatic serves collected assets through the static middleware.
func WithStatic(static StaticServer) RouterOption {
	return func(cfg *routerConfig) {
		cfg.static = static
	}
}

// WithRedirects enables the redirect fallback for 404 responses.
func WithRedirects(finder redirects.Finder) RouterOption {
	return func(cfg *routerConfig) {
		cfg.redirects = finder
	}
}

// WithReporter forwards recovered panics to the error reporter.
func WithReporter(reporter reporting.Reporter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.reporter = reporter
	}
}

type routerConfig struct {
	enableLogging bool
	logger        *zap.Logger
	rateLimiter   rateLimiter
	static        StaticServer
	redirects     redirects.Finder
	reporter      reporting.Reporter
}

// NewRouter creates the HTTP router. Settings.Middleware is applied in
// order, outermost first, inside the request ID, client address, rate limit,
// logging and recovery wrappers.
func NewRouter(handler *Handler, settings config.Config, logger *zap.Logger, opts ...RouterOption) (http.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := routerConfig{
		enableLogging: true,
		logger:        logger,
		rateLimiter:   newTokenBucketLimiter(25, 50),
		reporter:      reporting.Nop{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", http.HandlerFunc(handler.handleHealth))

	adminPath := "/" + strings.Trim(settings.AdminPath, "/") + "/"
	if settings.HasComponent(config.ComponentAdminHoneypot) && adminPath != "/admin/" {
		mux.Handle("/admin/", http.HandlerFunc(handler.handleHoneypot))
	}
	if settings.HasComponent(config.ComponentAdmin) {
		mux.Handle(adminPath, http.HandlerFunc(handler.handleAdmin))
	}
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	chain, err := buildChain(settings, mux, cfg)
	if err != nil {
		return nil, fmt.Errorf("build middleware chain: %w", err)
	}

	var root http.Handler = mux
	for i := len(chain) - 1; i >= 0; i-- {
		root = chain[i](root)
	}
	root = recoveryMiddleware(cfg.logger, cfg.reporter, root)
	if cfg.enableLogging {
		root = loggingMiddleware(cfg.logger, root)
	}
	root = rateLimitMiddleware(cfg.rateLimiter, root)
	root = clientAddrMiddleware(settings.Server.TrustProxy, root)
	root = requestIDMiddleware(root)

	return root, nil
}
