package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Path: MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testMigrations = fstest.MapFS{
	"20260101_000000_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT);")},
	"20260101_000000_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
	"20260102_000000_gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id INTEGER PRIMARY KEY);")},
	"README.md":                        {Data: []byte("ignored")},
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "beamline.db")
	db, err := Open(config.DatabaseConfig{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q", db.Path())
	}
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestCloseNil(t *testing.T) {
	var db *DB
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil error = %v", err)
	}
}

func TestWithTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatal(err)
	}

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t VALUES (1)")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx(commit) error = %v", err)
	}

	boom := errors.New("boom")
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t VALUES (2)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx(rollback) error = %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1 (second insert rolled back)", n)
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Second run is a no-op.
	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrations)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d; want 2, 0", len(applied), len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	only := fstest.MapFS{
		"20260101_000000_widgets.up.sql":   testMigrations["20260101_000000_widgets.up.sql"],
		"20260101_000000_widgets.down.sql": testMigrations["20260101_000000_widgets.down.sql"],
	}
	if err := db.Migrate(ctx, only); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateDown(ctx, only); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var name string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='widgets'").Scan(&name)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("widgets table still present (err = %v)", err)
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, only); err != nil {
		t.Errorf("MigrateDown() on empty error = %v", err)
	}
}

func TestMigrateDownWithoutDownSQL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	upOnly := fstest.MapFS{"20260102_000000_gadgets.up.sql": testMigrations["20260102_000000_gadgets.up.sql"]}

	if err := db.Migrate(ctx, upOnly); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateDown(ctx, upOnly); err == nil {
		t.Error("MigrateDown() should fail without down SQL")
	}
}

func TestMigrateBadSQL(t *testing.T) {
	db := openTestDB(t)
	bad := fstest.MapFS{"20260103_000000_broken.up.sql": {Data: []byte("CREATE TABLE (")}}

	if err := db.Migrate(context.Background(), bad); err == nil {
		t.Error("Migrate() should fail on invalid SQL")
	}
	_, pending, err := db.MigrationStatus(context.Background(), bad)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1 after failure", len(pending))
	}
}

func TestMigrateNilFS(t *testing.T) {
	if err := openTestDB(t).Migrate(context.Background(), nil); err != nil {
		t.Errorf("Migrate(nil) error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file    string
		version string
		name    string
		up      bool
		ok      bool
	}{
		{"20261015_090000_collection_journal.up.sql", "20261015_090000", "collection_journal", true, true},
		{"20261015_090000_collection_journal.down.sql", "20261015_090000", "collection_journal", false, true},
		{"20261015_090000.up.sql", "20261015_090000", "20261015_090000", true, true},
		{"20261015.up.sql", "", "", false, false},
		{"20261015_090000_x.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := ParseMigrationFilename(tt.file)
			if ok != tt.ok || version != tt.version || up != tt.up || (ok && name != tt.name) {
				t.Errorf("ParseMigrationFilename() = %q, %q, %v, %v", version, name, up, ok)
			}
		})
	}
}
