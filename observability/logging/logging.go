package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tunes the logger returned by SetupWithOptions.
type Options struct {
	// Level is one of debug, info, warn or error. Defaults to info.
	Level string
	// File, when set, receives a copy of every line and is rotated once it
	// reaches MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Output overrides stdout. Used by tests.
	Output io.Writer
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string) *slog.Logger {
	return SetupWithOptions(service, env, Options{})
}

// SetupWithOptions is Setup with a level and an optional rotated file sink.
func SetupWithOptions(service, env string, opts Options) *slog.Logger {
	handler := slog.NewJSONHandler(writer(opts), &slog.HandlerOptions{
		AddSource: false,
		Level:     ParseLevel(opts.Level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func writer(opts Options) io.Writer {
	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}
	file := strings.TrimSpace(opts.File)
	if file == "" {
		return out
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return io.MultiWriter(out, &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	})
}

// ParseLevel maps a textual level to slog. Unknown values yield info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
