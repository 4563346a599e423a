package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strconv"
)

//go:embed sql/*.sql
var sqlFS embed.FS

var migrationFileRe = regexp.MustCompile(`^(\d{4})_(\w+)\.sql$`)

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`

type step struct {
	version int
	name    string
	body    string
}

// Migrate brings db up to the newest embedded schema and reports how many
// steps it applied. A step and its schema_migrations row commit together.
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	return migrateFS(ctx, db, sqlFS, "sql")
}

func migrateFS(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) (int, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("ensure migrations table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	steps, err := loadSteps(fsys, dir)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if err := s.apply(ctx, db); err != nil {
			return applied, fmt.Errorf("journal migration %04d_%s: %w", s.version, s.name, err)
		}
		slog.Info("journal migration applied", "version", s.version, "name", s.name)
		applied++
	}
	return applied, nil
}

// loadSteps reads NNNN_name.sql files in version order. Other files are ignored.
func loadSteps(fsys fs.FS, dir string) ([]step, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var steps []step
	for _, e := range entries {
		m := migrationFileRe.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		version, _ := strconv.Atoi(m[1])
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		steps = append(steps, step{version: version, name: m[2], body: string(body)})
	}

	slices.SortFunc(steps, func(a, b step) int { return a.version - b.version })
	for i := 1; i < len(steps); i++ {
		if steps[i].version == steps[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %04d (%s, %s)", steps[i].version, steps[i-1].name, steps[i].name)
		}
	}
	return steps, nil
}

func (s step) apply(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, s.version, s.name); err != nil {
		return err
	}
	return tx.Commit()
}
