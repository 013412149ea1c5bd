package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
)

// Plan is a catalog entry a tenant can subscribe to. Code is its identity.
type Plan struct {
	Code            string           `gorm:"column:code;primaryKey"`
	Name            string           `gorm:"column:name;not null"`
	MonthlyPrice    decimal.Decimal  `gorm:"column:monthly_price;type:numeric(12,2);not null"`
	AnnualPrice     decimal.Decimal  `gorm:"column:annual_price;type:numeric(12,2);not null"`
	MaxUsers        int              `gorm:"column:max_users;not null;default:1"`
	MaxProducts     int              `gorm:"column:max_products;not null;default:0"`
	OnlineSales     bool             `gorm:"column:online_sales;not null;default:false"`
	AdvancedReports bool             `gorm:"column:advanced_reports;not null;default:false"`
	Status          enums.PlanStatus `gorm:"column:status;type:varchar(16);not null"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Plan) TableName() string { return "plans" }
