package logging

import (
	"log/slog"
	"os"
	"strings"
)

// LevelFromVerbose maps the --verbose flag to a slog.Level the way the
// rest of the CLI surface expects: verbose means debug, otherwise info.
func LevelFromVerbose(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// New builds the process-wide logger: a StreamHandler writing to stderr
// in the requested format, feeding the global ring buffer used by the
// /logs/stream websocket endpoint.
func New(verbose bool, format string) *slog.Logger {
	level := LevelFromVerbose(verbose)
	handler := NewStreamHandlerFormat(GetLogBuffer(), os.Stderr, level, strings.ToLower(format))
	return slog.New(handler)
}

// Component returns a logger pre-bound with a "component" attribute, the
// pattern every pipeline component uses to tag its own log lines.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}
