package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant is a business account. PlanCode is a denormalized cache of the
// derived entitlement and is never read as the source of truth for it.
type Tenant struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Name            string     `gorm:"column:name;not null"`
	PlanCode        *string    `gorm:"column:plan_code"`
	PlanRefreshedAt *time.Time `gorm:"column:plan_refreshed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Tenant) TableName() string { return "tenants" }

func (t *Tenant) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
