package plans

import (
	"context"
	"errors"

	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
	"gorm.io/gorm"
)

// Repository reads the plan catalog.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	List(ctx context.Context, params ListQuery) ([]models.Plan, error)
	Find(ctx context.Context, code string) (*models.Plan, error)
}

// ListQuery filters catalog listings.
type ListQuery struct {
	Status *enums.PlanStatus
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.Plan, error) {
	query := r.db.WithContext(ctx).Model(&models.Plan{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var plans []models.Plan
	if err := query.Order("monthly_price ASC, code ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

// Find returns nil, nil when the code is unknown.
func (r *repository) Find(ctx context.Context, code string) (*models.Plan, error) {
	if code == "" {
		return nil, nil
	}
	var plan models.Plan
	if err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}
