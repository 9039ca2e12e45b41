package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eugenenazirov/sitekit/internal/config"
)

const defaultDateFormat = "2006-01-02 15:04:05"

// New builds the process logger from the active handler of the logging
// settings. The null handler yields a no-op logger.
func New(cfg config.Logging) (*zap.Logger, error) {
	handler, formatter := cfg.Active()
	if handler.Kind == config.HandlerNull {
		return zap.NewNop(), nil
	}

	level, err := ParseLevel(handler.Level)
	if err != nil {
		return nil, err
	}

	var sink zapcore.WriteSyncer
	switch handler.Kind {
	case config.HandlerConsole:
		sink = zapcore.Lock(os.Stderr)
	case config.HandlerFile:
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   handler.FilePath,
			MaxSize:    handler.MaxSize,
			MaxBackups: handler.MaxBackups,
			MaxAge:     handler.MaxAge,
			Compress:   true,
		})
	default:
		return nil, fmt.Errorf("build logger: unsupported handler kind %q", handler.Kind)
	}

	core := zapcore.NewCore(newEncoder(formatter), sink, level)
	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if formatter.Verbose {
		opts = append(opts,
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
			zap.Fields(zap.Int("pid", os.Getpid())),
		)
	}
	return zap.New(core, opts...), nil
}

// ParseLevel maps a settings level name onto a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warning", "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "critical":
		return zapcore.DPanicLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

func newEncoder(formatter config.LogFormatter) zapcore.Encoder {
	encCfg := zapcore.EncoderConfig{
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	}

	if formatter.Verbose {
		layout := formatter.DateFormat
		if layout == "" {
			layout = defaultDateFormat
		}
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(layout)
		encCfg.CallerKey = "caller"
		encCfg.EncodeCaller = zapcore.FullCallerEncoder
		encCfg.FunctionKey = "func"
		encCfg.StacktraceKey = "stacktrace"
		encCfg.NameKey = "logger"
	}

	if formatter.JSON {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewConsoleEncoder(encCfg)
}
