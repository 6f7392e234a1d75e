// Package logging builds the slog logger shared by capture and the CLI.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Environment variables that override the configured level and format.
const (
	EnvLevel  = "GRAFT_LOG_LEVEL"
	EnvFormat = "GRAFT_LOG_FORMAT"
)

// Options selects the handler. Empty fields mean info level and text
// format.
type Options struct {
	Level  string
	Format string
}

// New returns a logger writing to w. Values in env take precedence over
// opts.
func New(w io.Writer, opts Options, env map[string]string) *slog.Logger {
	if v := env[EnvLevel]; v != "" {
		opts.Level = v
	}

	if v := env[EnvFormat]; v != "" {
		opts.Format = v
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	if strings.ToLower(strings.TrimSpace(opts.Format)) == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}

	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
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

// ValidLevel reports whether raw is empty or a level ParseLevel knows.
func ValidLevel(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}

	return false
}

// ValidFormat reports whether raw is empty, "text" or "json".
func ValidFormat(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "text", "json":
		return true
	}

	return false
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
