// Package logging builds the process logger: colored tint output while
// developing on the bench, JSON lines once deployed.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"jimtransmit/internal/config"
)

// New returns a logger writing to stdout. APP_ENV picks the handler; the
// version is attached either way so bench logs can be matched to a build.
func New(cfg config.Config, version string, appName string) *slog.Logger {
	return newWithWriter(os.Stdout, cfg, version, appName)
}

func newWithWriter(w io.Writer, cfg config.Config, version string, appName string) *slog.Logger {
	var h slog.Handler
	switch cfg.AppEnv {
	case "dev":
		h = tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName, "version", version)
	default:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel})
		return slog.New(h).With("app", appName, "version", version, "env", cfg.AppEnv)
	}
}
