package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Options selects the level, encoding and destination of a Logger. The
// service fills it from its LOG_* configuration keys.
type Options struct {
	Level      string
	Format     string
	OutputFile string
}

// BootstrapOptions are used until configuration has been loaded.
func BootstrapOptions() Options {
	return Options{Level: "info", Format: "json", OutputFile: "stdout"}
}

func (o Options) normalized() Options {
	o.Level = strings.ToLower(strings.TrimSpace(o.Level))
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Level == "warning" {
		o.Level = "warn"
	}
	if o.OutputFile == "" {
		o.OutputFile = "stdout"
	}
	return o
}

// ZapLevel parses Level. Unknown levels are an error so a typo in LOG_LEVEL
// is reported instead of silently logging at info.
func (o Options) ZapLevel() (zapcore.Level, error) {
	o = o.normalized()
	if o.Level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(o.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log level %q: %w", o.Level, err)
	}
	return lvl, nil
}

func (o Options) console() bool {
	f := o.normalized().Format
	return f == "console" || f == "text"
}
