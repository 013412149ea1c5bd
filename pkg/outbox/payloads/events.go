package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
)

// SubscriptionRecordEvent describes a subscription record at the moment of a
// lifecycle transition. Every subscription_* event shares this shape.
type SubscriptionRecordEvent struct {
	RecordID      uuid.UUID                `json:"record_id"`
	TenantID      uuid.UUID                `json:"tenant_id"`
	PlanCode      string                   `json:"plan_code"`
	PlanName      string                   `json:"plan_name"`
	Cycle         enums.BillingCycle       `json:"ciclo"`
	Amount        decimal.Decimal          `json:"monto"`
	PaymentMethod enums.PaymentMethod      `json:"metodo_pago"`
	Status        enums.SubscriptionStatus `json:"estado"`
	PreviousState enums.SubscriptionStatus `json:"estado_anterior,omitempty"`
	StartsAt      *time.Time               `json:"fecha_inicio,omitempty"`
	EndsAt        *time.Time               `json:"fecha_fin,omitempty"`
	Queued        bool                     `json:"queued"`
	Reason        string                   `json:"reason,omitempty"`
}

// Tenant returns the tenant owning the record.
func (e SubscriptionRecordEvent) Tenant() uuid.UUID { return e.TenantID }

// TenantPlanChangedEvent is emitted when the cached entitlement of a tenant moves.
type TenantPlanChangedEvent struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	PreviousPlan string    `json:"previous_plan,omitempty"`
	CurrentPlan  string    `json:"current_plan"`
	Fallback     bool      `json:"fallback"`
	RefreshedAt  time.Time `json:"refreshed_at"`
}

func (e TenantPlanChangedEvent) Tenant() uuid.UUID { return e.TenantID }
