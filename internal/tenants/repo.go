// Package tenants persists tenant rows and their cached plan pointer.
package tenants

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles tenant persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to tenant operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create persists a new tenant with no cached plan.
func (r *Repository) Create(ctx context.Context, name string) (*models.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}
	tenant := &models.Tenant{Name: name}
	if err := r.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return nil, err
	}
	return tenant, nil
}

// FindByID loads a tenant by its UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// FindByIDWithTx loads a tenant using the provided transaction.
func (r *Repository) FindByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.Tenant, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	var tenant models.Tenant
	if err := tx.First(&tenant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// UpdatePlanCacheWithTx stores the derived plan code on the tenant row.
func (r *Repository) UpdatePlanCacheWithTx(tx *gorm.DB, id uuid.UUID, planCode string, refreshedAt time.Time) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	res := tx.Model(&models.Tenant{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"plan_code":         planCode,
			"plan_refreshed_at": refreshedAt.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListIDsAfter pages through tenant ids in ascending order.
func (r *Repository) ListIDsAfter(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}
	query := r.db.WithContext(ctx).Model(&models.Tenant{}).Order("id ASC").Limit(limit)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	var ids []uuid.UUID
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
