package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

type uniqueModel struct {
	ID   int
	Code string `gorm:"uniqueIndex"`
}

func TestIsUniqueViolationDetectsSQLiteConstraint(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&uniqueModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Create(&uniqueModel{Code: "A"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := db.Create(&uniqueModel{Code: "A"}).Error
	if err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if IsUniqueViolation(errors.New("connection reset"), "") {
		t.Fatal("unrelated error should not be a unique violation")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatal("nil should not be a unique violation")
	}
}

func TestIsUniqueViolationMatchesPostgresConstraint(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_pending"})
	if !IsUniqueViolation(err, "ux_pending") {
		t.Fatal("expected constraint match")
	}
	if IsUniqueViolation(err, "other_constraint") {
		t.Fatal("expected constraint mismatch")
	}
}

func TestWrapReportsDialect(t *testing.T) {
	client := Wrap(newTestDB(t))
	if client.Dialect() != DriverSQLite {
		t.Fatalf("expected sqlite dialect, got %q", client.Dialect())
	}
}
