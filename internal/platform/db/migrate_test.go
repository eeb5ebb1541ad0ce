package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_core.sql":    "CREATE TABLE a (id INTEGER PRIMARY KEY);",
		"002_history.sql": "CREATE TABLE b (id INTEGER PRIMARY KEY);",
		"003_archive.sql": "CREATE TABLE c (id INTEGER PRIMARY KEY);",
	})

	migrator := NewMigrator(nil, os.DirFS(dir), ".")
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_core.sql" {
		t.Errorf("unexpected first migration %+v", migrations[0])
	}
	if migrations[0].SQL != "CREATE TABLE a (id INTEGER PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[2].Version != 3 {
		t.Errorf("expected version 3, got %d", migrations[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"010_tables.sql": "SELECT 10;",
		"002_second.sql": "SELECT 2;",
		"001_first.sql":  "SELECT 1;",
		"005_middle.sql": "SELECT 5;",
	})

	migrations, err := NewMigrator(nil, os.DirFS(dir), ".").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	expectedVersions := []int{1, 2, 5, 10}
	if len(migrations) != len(expectedVersions) {
		t.Fatalf("expected %d migrations, got %d", len(expectedVersions), len(migrations))
	}
	for i, expected := range expectedVersions {
		if migrations[i].Version != expected {
			t.Errorf("migration[%d]: expected version %d, got %d", i, expected, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_InvalidFilename(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_valid.sql":      "SELECT 1;",
		"readme.sql":         "-- this has no version prefix",
		"notes.txt":          "not a sql file",
		"abc_invalid.sql":    "-- non-numeric prefix",
		"002_also_valid.sql": "SELECT 2;",
	})

	migrations, err := NewMigrator(nil, os.DirFS(dir), ".").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	_, err := NewMigrator(nil, os.DirFS(t.TempDir()), "missing").LoadMigrations()
	if err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestLoadMigrations_Bundled(t *testing.T) {
	for _, dir := range []string{PostgresDir, SQLiteDir} {
		migrations, err := NewMigrator(nil, Migrations, dir).LoadMigrations()
		if err != nil {
			t.Fatalf("%s: %v", dir, err)
		}
		if len(migrations) == 0 || migrations[0].Name != "001_submissions.sql" {
			t.Errorf("%s: unexpected bundle %+v", dir, migrations)
		}
	}
}

func TestMigrator_NoDatabase(t *testing.T) {
	m := NewMigrator(nil, Migrations, PostgresDir)
	if _, err := m.Up(context.Background()); err == nil {
		t.Error("expected an error without a database")
	}
}

// =========== SQLite ===========

func TestSQLiteMigrator_UpAndStatus(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer sqlDB.Close()

	m := NewSQLiteMigrator(sqlDB, Migrations, SQLiteDir)

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	for _, s := range statuses {
		if s.Applied || s.AppliedAt != nil {
			t.Errorf("expected %s to be pending", s.Name)
		}
	}

	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("Up() error: %v", err)
	}
	if n != len(statuses) {
		t.Errorf("expected %d applied, got %d", len(statuses), n)
	}

	// A second run is a no-op.
	n, err = m.Up(ctx)
	if err != nil {
		t.Fatalf("second Up() error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 applied on second run, got %d", n)
	}

	statuses, err = m.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("expected %s to be applied", s.Name)
		}
	}

	var count int
	if err := sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM submission_batches`).Scan(&count); err != nil {
		t.Fatalf("schema not created: %v", err)
	}
}

func TestSQLiteMigrator_UpTo(t *testing.T) {
	ctx := context.Background()
	dir := writeMigrations(t, map[string]string{
		"001_a.sql": "CREATE TABLE a (id INTEGER PRIMARY KEY);",
		"002_b.sql": "CREATE TABLE b (id INTEGER PRIMARY KEY);",
	})
	sqlDB, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "upto.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer sqlDB.Close()

	m := NewSQLiteMigrator(sqlDB, os.DirFS(dir), ".")
	n, err := m.UpTo(ctx, 1)
	if err != nil {
		t.Fatalf("UpTo() error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 applied, got %d", n)
	}
	if _, err := sqlDB.ExecContext(ctx, `SELECT * FROM b`); err == nil {
		t.Error("table b must not exist yet")
	}
}

func TestSQLiteMigrator_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := writeMigrations(t, map[string]string{
		"001_bad.sql": "CREATE TABLE x (id INTEGER PRIMARY KEY); THIS IS NOT SQL;",
	})
	sqlDB, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "bad.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer sqlDB.Close()

	m := NewSQLiteMigrator(sqlDB, os.DirFS(dir), ".")
	if _, err := m.Up(ctx); err == nil {
		t.Fatal("expected an error for invalid SQL")
	}
	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if statuses[0].Applied {
		t.Error("failed migration must not be recorded")
	}
}
