package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger so components can derive named children without
// importing zap configuration details.
type Logger struct {
	*zap.Logger
	opts Options
}

// NewLogger builds a logger from opts. An unparsable level falls back to info
// and is reported through the returned logger.
func NewLogger(opts Options) *Logger {
	opts = opts.normalized()
	level, levelErr := opts.ZapLevel()

	var zapConfig zap.Config
	if level == zapcore.DebugLevel {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths, zapConfig.ErrorOutputPaths = outputPaths(opts.OutputFile)

	if opts.console() {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig.Encoding = "json"
	}

	zl, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing zap logger: %v. Falling back to production logger.\n", err)
		zl, _ = zap.NewProduction()
	}

	l := &Logger{Logger: zl, opts: opts}
	if levelErr != nil {
		l.Warn("Invalid log level, using info", zap.Error(levelErr))
	}
	l.Debug("Logger initialized",
		zap.String("level", level.String()),
		zap.String("format", zapConfig.Encoding),
		zap.Strings("output_paths", zapConfig.OutputPaths),
	)
	return l
}

// outputPaths writes to stdout, plus the given file when one is set.
func outputPaths(file string) (out, errOut []string) {
	if file == "stdout" || file == "stderr" {
		return []string{file}, []string{"stderr"}
	}
	logDir := filepath.Dir(file)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create log directory '%s', using stdout: %v\n", logDir, err)
		return []string{"stdout"}, []string{"stderr"}
	}
	return []string{file, "stdout"}, []string{file, "stderr"}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), opts: BootstrapOptions()}
}

// Options reports what the logger was built from.
func (l *Logger) Options() Options {
	return l.opts
}

// Named adds a new path segment to the logger's name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name), opts: l.opts}
}

// With adds structured context to the logger.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), opts: l.opts}
}
