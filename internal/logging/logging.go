// Package logging installs the process-wide slog logger used by the
// command-line tools. Records are rendered by charmbracelet/log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

// Init builds a logger writing to w at level ("debug", "info", "warn",
// "error") in format ("text" or "json"), installs it as slog's default and
// returns it.
func Init(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl := log.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		lvl = parsed
	}

	var formatter log.Formatter
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Formatter:       formatter,
		ReportTimestamp: true,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// New returns the default logger tagged with a component attribute.
func New(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
