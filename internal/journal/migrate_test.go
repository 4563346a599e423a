package journal

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func memDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateFS_AppliesOnlyNewerSteps(t *testing.T) {
	ctx := context.Background()
	db := memDB(t)

	first := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte(`CREATE TABLE a (x INTEGER);`)},
		"m/README.md":  {Data: []byte(`not a migration`)},
	}
	if n, err := migrateFS(ctx, db, first, "m"); err != nil || n != 1 {
		t.Fatalf("first migrateFS() = %d, %v; want 1, nil", n, err)
	}

	second := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte(`CREATE TABLE a (x INTEGER);`)},
		"m/0002_b.sql": {Data: []byte(`CREATE TABLE b (y TEXT); INSERT INTO b VALUES ('ok');`)},
	}
	if n, err := migrateFS(ctx, db, second, "m"); err != nil || n != 1 {
		t.Fatalf("second migrateFS() = %d, %v; want 1, nil", n, err)
	}

	var y string
	if err := db.QueryRow(`SELECT y FROM b`).Scan(&y); err != nil || y != "ok" {
		t.Errorf("multi-statement step: y = %q, err = %v", y, err)
	}
}

func TestMigrateFS_FailedStepRollsBack(t *testing.T) {
	ctx := context.Background()
	db := memDB(t)

	fsys := fstest.MapFS{
		"m/0001_bad.sql": {Data: []byte(`CREATE TABLE c (x INTEGER); INSERT INTO nowhere VALUES (1);`)},
	}
	n, err := migrateFS(ctx, db, fsys, "m")
	if err == nil || !strings.Contains(err.Error(), "0001_bad") {
		t.Fatalf("migrateFS() error = %v, want failure naming 0001_bad", err)
	}
	if n != 0 {
		t.Errorf("applied = %d, want 0", n)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil || count != 0 {
		t.Errorf("schema_migrations rows = %d, err = %v; want 0", count, err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'c'`).Scan(&count); err != nil || count != 0 {
		t.Errorf("table c exists after rollback (count %d, err %v)", count, err)
	}
}

func TestLoadSteps_RejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0003_one.sql": {Data: []byte(`SELECT 1;`)},
		"m/0003_two.sql": {Data: []byte(`SELECT 2;`)},
	}
	if _, err := loadSteps(fsys, "m"); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("loadSteps() error = %v, want duplicate version error", err)
	}
}
