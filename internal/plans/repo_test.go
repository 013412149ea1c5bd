package plans

import (
	"context"
	"strings"
	"testing"

	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
	"github.com/angelmondragon/comercio-backoffice/pkg/migrate"
	"github.com/shopspring/decimal"
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

func TestRepositoryListAndFind(t *testing.T) {
	conn := newMigratedDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	if err := conn.Exec(`UPDATE plans SET status = 'INACTIVO' WHERE code = 'BASICO'`).Error; err != nil {
		t.Fatalf("deactivate plan: %v", err)
	}

	all, err := repo.List(ctx, ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Code != "GRATIS" || all[2].Code != "PRO" {
		t.Fatalf("unexpected plans %+v", all)
	}

	active := enums.PlanStatusActivo
	purchasable, err := repo.List(ctx, ListQuery{Status: &active})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(purchasable) != 2 {
		t.Fatalf("expected 2 active plans, got %d", len(purchasable))
	}

	plan, err := repo.Find(ctx, "PRO")
	if err != nil || plan == nil {
		t.Fatalf("find PRO: %v", err)
	}
	if plan.Name != "Pro" || !plan.AnnualPrice.Equal(decimal.NewFromInt(990)) {
		t.Fatalf("unexpected plan %+v", plan)
	}

	missing, err := repo.Find(ctx, "ENTERPRISE")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown plan, got %+v err=%v", missing, err)
	}
}

func TestLoadCatalogResolvesInactiveAsUnpurchasable(t *testing.T) {
	conn := newMigratedDB(t)
	if err := conn.Exec(`UPDATE plans SET status = 'INACTIVO' WHERE code = 'PRO'`).Error; err != nil {
		t.Fatalf("deactivate plan: %v", err)
	}

	catalog, err := LoadCatalog(context.Background(), NewRepository(conn))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if _, ok := catalog.Lookup("PRO"); !ok {
		t.Fatal("inactive plans stay resolvable for history")
	}
	if len(catalog.Purchasable()) != 2 {
		t.Fatalf("expected 2 purchasable plans, got %d", len(catalog.Purchasable()))
	}
}
