package cliutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogOptions struct {
	// info|debug|warn|error
	LogLevel string

	// text|json
	LogFormat string

	// defaults to stdout
	Out io.Writer
}

func firstenv(names ...string) string {
	for _, name := range names {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %#v", raw)
	}
}

// Configures the default slog logger from options, falling back to env vars.
//
// TENTAUTH_LOG_LEVEL=info|debug|warn|error
//
// TENTAUTH_LOG_FMT=text|json
func SetupSlog(options LogOptions) (*slog.Logger, error) {
	if options.LogLevel == "" {
		options.LogLevel = firstenv("TENTAUTH_LOG_LEVEL", "LOG_LEVEL")
	}
	level, err := ParseLevel(options.LogLevel)
	if err != nil {
		return nil, err
	}
	if options.LogFormat == "" {
		options.LogFormat = firstenv("TENTAUTH_LOG_FMT", "LOG_FMT")
	}
	out := options.Out
	if out == nil {
		out = os.Stdout
	}

	hopts := slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(options.LogFormat) {
	case "", "text":
		handler = slog.NewTextHandler(out, &hopts)
	case "json":
		handler = slog.NewJSONHandler(out, &hopts)
	default:
		return nil, fmt.Errorf("invalid log format: %#v", options.LogFormat)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
