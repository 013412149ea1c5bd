package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
	"github.com/angelmondragon/comercio-backoffice/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PendingIndexName is the partial unique index guarding one PENDIENTE record per tenant.
const PendingIndexName = "ux_subscription_records_tenant_pending"

// Repository persists subscription records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.SubscriptionRecord, error)
	ListPage(ctx context.Context, params HistoryQuery) ([]models.SubscriptionRecord, *pagination.Cursor, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionRecord, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.SubscriptionRecord, error)
	Create(ctx context.Context, record *models.SubscriptionRecord) error
	Update(ctx context.Context, record *models.SubscriptionRecord) error
}

// HistoryQuery pages a tenant's records newest first.
type HistoryQuery struct {
	TenantID uuid.UUID
	pagination.Params
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription record repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ListByTenant returns the full history in creation order.
func (r *repository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.SubscriptionRecord, error) {
	var records []models.SubscriptionRecord
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("creado_en ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ListPage(ctx context.Context, params HistoryQuery) ([]models.SubscriptionRecord, *pagination.Cursor, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, err
	}
	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", params.TenantID).
		Order("creado_en DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))
	if cursor != nil {
		query = query.Where("(creado_en < ?) OR (creado_en = ? AND id < ?)", cursor.CreatedAt.UTC(), cursor.CreatedAt.UTC(), cursor.ID)
	}

	var records []models.SubscriptionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Page(records, params.Limit, func(rec models.SubscriptionRecord) pagination.Cursor {
		return pagination.Cursor{CreatedAt: rec.CreatedAt, ID: rec.ID}
	})
	return page, next, nil
}

// FindByID returns nil, nil when the record does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionRecord, error) {
	return r.find(r.db.WithContext(ctx), id)
}

// FindForUpdate locks the row for the rest of the transaction on postgres.
// sqlite serializes writers on its own.
func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.SubscriptionRecord, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.find(query, id)
}

func (r *repository) find(query *gorm.DB, id uuid.UUID) (*models.SubscriptionRecord, error) {
	var record models.SubscriptionRecord
	if err := query.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) Create(ctx context.Context, record *models.SubscriptionRecord) error {
	if record == nil {
		return fmt.Errorf("subscription record is required")
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) Update(ctx context.Context, record *models.SubscriptionRecord) error {
	if record == nil {
		return fmt.Errorf("subscription record is required")
	}
	return r.db.WithContext(ctx).Save(record).Error
}
