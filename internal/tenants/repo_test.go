package tenants

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/comercio-backoffice/pkg/migrate"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := migrate.Up(context.Background(), sqlDB, migrate.DialectSQLite); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return conn
}

func TestCreateAndUpdatePlanCache(t *testing.T) {
	conn := newMigratedDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	if _, err := repo.Create(ctx, "   "); err == nil {
		t.Fatal("expected blank name to fail")
	}
	tenant, err := repo.Create(ctx, "Tienda Central")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tenant.ID == uuid.Nil || tenant.PlanCode != nil {
		t.Fatalf("unexpected tenant %+v", tenant)
	}

	refreshed := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if err := repo.UpdatePlanCacheWithTx(conn, tenant.ID, "PRO", refreshed); err != nil {
		t.Fatalf("update cache: %v", err)
	}
	loaded, err := repo.FindByIDWithTx(conn, tenant.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if loaded.PlanCode == nil || *loaded.PlanCode != "PRO" {
		t.Fatalf("expected cached PRO, got %v", loaded.PlanCode)
	}
	if loaded.PlanRefreshedAt == nil || !loaded.PlanRefreshedAt.Equal(refreshed) {
		t.Fatalf("unexpected refreshed at %v", loaded.PlanRefreshedAt)
	}

	if err := repo.UpdatePlanCacheWithTx(conn, uuid.New(), "PRO", refreshed); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for unknown tenant, got %v", err)
	}
	if err := repo.UpdatePlanCacheWithTx(nil, tenant.ID, "PRO", refreshed); !errors.Is(err, gorm.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
}

func TestListIDsAfterPages(t *testing.T) {
	conn := newMigratedDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := repo.Create(ctx, name); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	first, err := repo.ListIDsAfter(ctx, uuid.Nil, 2)
	if err != nil || len(first) != 2 {
		t.Fatalf("first page: %v err=%v", first, err)
	}
	rest, err := repo.ListIDsAfter(ctx, first[1], 2)
	if err != nil || len(rest) != 1 {
		t.Fatalf("second page: %v err=%v", rest, err)
	}
	if rest[0] == first[0] || rest[0] == first[1] {
		t.Fatal("pages overlap")
	}
}
