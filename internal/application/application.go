package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eugenenazirov/sitekit/internal/api"
	"github.com/eugenenazirov/sitekit/internal/config"
	"github.com/eugenenazirov/sitekit/internal/database"
	"github.com/eugenenazirov/sitekit/internal/mail"
	"github.com/eugenenazirov/sitekit/internal/redirects"
	"github.com/eugenenazirov/sitekit/internal/reporting"
	"github.com/eugenenazirov/sitekit/internal/static"
	"github.com/eugenenazirov/sitekit/internal/tasks"
)

const reporterFlushTimeout = 2 * time.Second

// App encapsulates the application dependencies and HTTP server.
type App struct {
	settings  config.Config
	db        *gorm.DB
	redirects *redirects.GormRepository
	registry  *tasks.Registry
	queue     tasks.Queue
	mailer    *mail.Mailer
	reporter  reporting.Reporter
	handler   *api.Handler
	router    http.Handler
	logger    *zap.Logger
	server    *http.Server

	stopWorker context.CancelFunc
	workerDone chan struct{}
	closeOnce  sync.Once
}

// Option customises New.
type Option func(*options)

type options struct {
	release    string
	sentryInit reporting.InitFunc
	mailSender mail.Sender
}

// WithRelease tags error reports with the build version.
func WithRelease(release string) Option {
	return func(o *options) {
		o.release = release
	}
}

// WithSentryInit replaces sentry.Init, primarily for tests.
func WithSentryInit(init reporting.InitFunc) Option {
	return func(o *options) {
		o.sentryInit = init
	}
}

// WithMailSender replaces the SMTP client, primarily for tests.
func WithMailSender(sender mail.Sender) Option {
	return func(o *options) {
		o.mailSender = sender
	}
}

// New initializes the application from cfg. It is the only place that
// performs startup side effects: error reporting, the static root on Heroku,
// the database connection and the task queue.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reporter, err := reporting.Setup(cfg.ErrorReporting, o.release, o.sentryInit)
	if err != nil {
		return nil, err
	}
	if cfg.ErrorReporting.Enabled() {
		logger.Info("error reporting enabled", zap.String("environment", cfg.ErrorReporting.Environment))
	} else {
		logger.Debug("error reporting disabled: SENTRY_DSN not set")
	}

	if cfg.Platform.Heroku {
		if err := os.MkdirAll(cfg.Static.Root, 0o755); err != nil {
			return nil, fmt.Errorf("create static root: %w", err)
		}
	}

	app := &App{
		settings: cfg,
		reporter: reporter,
		logger:   logger,
		registry: tasks.NewRegistry(),
	}

	app.db, err = database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if cfg.HasComponent(config.ComponentRedirects) {
		app.redirects, err = redirects.NewGormRepository(app.db)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	if cfg.HasComponent(config.ComponentMail) {
		var mailOpts []mail.Option
		mailOpts = append(mailOpts, mail.WithLogger(logger))
		if o.mailSender != nil {
			mailOpts = append(mailOpts, mail.WithSender(o.mailSender))
		}
		app.mailer, err = mail.New(cfg.Email, mailOpts...)
		switch {
		case errors.Is(err, mail.ErrDisabled):
			logger.Debug("email disabled: EMAIL_HOST not set")
		case err != nil:
			_ = app.Close()
			return nil, err
		default:
			app.mailer.Register(app.registry)
		}
	}
	app.registry.Register(api.TaskHoneypotAlert, honeypotAlert(app.mailer, logger))

	app.queue, err = tasks.New(cfg.Tasks, app.registry, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	routerOpts := []api.RouterOption{
		api.WithLogging(cfg.Server.EnableRequestLogging),
		api.WithRateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		api.WithReporter(reporter),
	}
	if cfg.HasComponent(config.ComponentStaticFiles) {
		routerOpts = append(routerOpts, api.WithStatic(static.NewHandler(cfg.Static)))
	}
	if app.redirects != nil {
		routerOpts = append(routerOpts, api.WithRedirects(app.redirects))
	}

	app.handler = api.NewHandler(cfg, logger, api.WithQueue(app.queue))
	app.router, err = api.NewRouter(app.handler, cfg, logger, routerOpts...)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	app.server = NewServer(cfg.Server, app.router)
	return app, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Server, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server and, for a Redis broker, the task worker.
func (a *App) Start() error {
	if rq, ok := a.queue.(*tasks.RedisQueue); ok {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopWorker = cancel
		a.workerDone = make(chan struct{})
		go func() {
			defer close(a.workerDone)
			rq.Worker(a.logger).Run(ctx)
		}()
	}

	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.reporter.CaptureException(err)
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the worker, queue, reporter and database.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	_ = a.Close()
	return err
}

// Close releases background resources without waiting for requests.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.server != nil {
			if err := a.server.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.stopWorker != nil {
			a.stopWorker()
			<-a.workerDone
		}
		if a.queue != nil {
			if err := a.queue.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close task queue: %w", err))
			}
		}
		if a.reporter != nil {
			a.reporter.Flush(reporterFlushTimeout)
		}
		if a.db != nil {
			if err := database.Close(a.db); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Server returns the HTTP server instance.
func (a *App) Server() *http.Server {
	return a.server
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Queue returns the task queue.
func (a *App) Queue() tasks.Queue {
	return a.queue
}

// Redirects returns the redirect repository, or nil when the redirects
// component is not installed.
func (a *App) Redirects() *redirects.GormRepository {
	return a.redirects
}
