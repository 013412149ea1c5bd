package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
)

// SubscriptionRecord is one entry of a tenant's subscription history. Rows are
// never deleted; state moves only through the lifecycle transitions.
type SubscriptionRecord struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	TenantID      uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null;index"`
	PlanCode      string                   `gorm:"column:plan_code;not null"`
	PlanName      string                   `gorm:"column:plan_name;not null"`
	PlanPrice     decimal.Decimal          `gorm:"column:plan_price;type:numeric(12,2);not null"`
	Cycle         enums.BillingCycle       `gorm:"column:ciclo;type:varchar(16);not null"`
	StartsAt      *time.Time               `gorm:"column:fecha_inicio"`
	EndsAt        *time.Time               `gorm:"column:fecha_fin"`
	Amount        decimal.Decimal          `gorm:"column:monto;type:numeric(12,2);not null"`
	PaymentMethod enums.PaymentMethod      `gorm:"column:metodo_pago;type:varchar(16);not null"`
	Status        enums.SubscriptionStatus `gorm:"column:estado;type:varchar(16);not null"`
	Reference     *string                  `gorm:"column:referencia"`
	ProofHandle   *string                  `gorm:"column:comprobante"`
	CreatedAt     time.Time                `gorm:"column:creado_en;autoCreateTime;<-:create"`
	VerifiedAt    *time.Time               `gorm:"column:verificado_en"`
	CancelledAt   *time.Time               `gorm:"column:cancelado_en"`
	RejectedAt    *time.Time               `gorm:"column:rechazado_en"`
	RejectReason  *string                  `gorm:"column:motivo_rechazo"`
}

func (SubscriptionRecord) TableName() string { return "subscription_records" }

// BeforeCreate assigns the identifier client side so the row id is known
// before the insert returns (outbox payloads reference it).
func (r *SubscriptionRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
