package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCreateSQLMigrationWritesDialectPair(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)

	paths, err := createSQLMigration(dir, "Add Plan Limits!", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := []string{
		filepath.Join(dir, "20261001083000_add_plan_limits.sql"),
		filepath.Join(dir, "sqlite", "20261001083000_add_plan_limits.sql"),
	}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("unexpected paths %v", paths)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("created pair should validate: %v", err)
	}

	if _, err := createSQLMigration(dir, "add plan limits", now); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := createSQLMigration(dir, "!!!", now); err == nil {
		t.Fatal("expected sanitize error")
	}
}

func TestValidateDirDetectsDivergentSQLiteSet(t *testing.T) {
	dir := t.TempDir()
	if _, err := createSQLMigration(dir, "first", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "sqlite", "20260101000000_first.sql")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := ValidateDir(dir); err == nil {
		t.Fatal("expected divergence error")
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_init.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateDir(dir); err == nil {
		t.Fatal("expected filename error")
	}
}
