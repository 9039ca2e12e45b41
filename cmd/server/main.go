package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/sitekit/internal/application"
	"github.com/eugenenazirov/sitekit/internal/config"
	"github.com/eugenenazirov/sitekit/internal/logging"
	"github.com/eugenenazirov/sitekit/internal/static"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var signalNotify = signal.Notify

type shutdowner interface {
	Shutdown(ctx context.Context) error
	Close() error
}

func main() {
	kingpinApp := kingpin.New("sitekit", "Web application bootstrap driven by environment settings")
	kingpinApp.Version(version)
	configFile := kingpinApp.Flag("config", "Path to YAML settings file").String()
	envFile := kingpinApp.Flag("env-file", "Path to .env file (default: nearest .env above --root)").String()
	noEnvFile := kingpinApp.Flag("no-env-file", "Do not read any .env file").Bool()
	root := kingpinApp.Flag("root", "Project base directory (default: working directory)").String()

	serveCmd := kingpinApp.Command("serve", "Run the HTTP server").Default()
	port := serveCmd.Flag("port", "HTTP port exposed by the service").String()
	collectCmd := kingpinApp.Command("collectstatic", "Copy static assets into the static root")
	checkCmd := kingpinApp.Command("check", "Resolve settings and print them with secrets redacted")

	command := kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile:  *configFile,
		EnvFile:     *envFile,
		SkipEnvFile: *noEnvFile,
		Root:        *root,
	}
	if *port != "" {
		overrides.Port = port
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	if command == checkCmd.FullCommand() {
		if err := printSettings(os.Stdout, cfg); err != nil {
			panic(fmt.Sprintf("failed to print settings: %v", err))
		}
		return
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch command {
	case collectCmd.FullCommand():
		if _, err := static.Collect(cfg.Static, logger); err != nil {
			logger.Fatal("failed to collect static files", zap.Error(err))
		}
	case serveCmd.FullCommand():
		app, err := application.New(cfg, logger, application.WithRelease(version))
		if err != nil {
			logger.Fatal("failed to initialize application", zap.Error(err))
		}

		if err := app.Start(); err != nil {
			logger.Fatal("failed to start server", zap.Error(err))
		}

		shutdown(app, cfg.Server.ShutdownGracePeriod, logger)
	}
}

func printSettings(w io.Writer, cfg config.Config) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg.Redacted())
}

func shutdown(app shutdowner, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := app.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
