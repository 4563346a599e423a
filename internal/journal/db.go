package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type Option func(*options)

type options struct {
	trace *slog.Logger
}

// WithSQLTrace logs every statement the journal runs to logger at debug level.
func WithSQLTrace(logger *slog.Logger) Option {
	return func(o *options) { o.trace = logger }
}

// Open opens (creating if needed) the journal database at path and applies migrations.
func Open(path string, opts ...Option) (*Journal, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if o.trace != nil && o.trace.Enabled(context.Background(), slog.LevelDebug) {
		db = sql.OpenDB(&traceConnector{dsn: dsn, logger: o.trace})
	} else if db, err = sql.Open("sqlite3", dsn); err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// The node writes one row per cycle from a single goroutine.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if _, err := Migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return New(db), nil
}

func buildDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("journal path is empty")
	}
	if path == ":memory:" {
		return path, nil
	}

	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	// If caller provided something like "file:/data/app.db?x=y" as Path, don’t double-wrap
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
