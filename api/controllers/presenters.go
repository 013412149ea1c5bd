package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/comercio-backoffice/internal/lifecycle"
	"github.com/angelmondragon/comercio-backoffice/internal/subscriptions"
	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
)

type planResponse struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	MonthlyPrice    string `json:"monthly_price"`
	AnnualPrice     string `json:"annual_price"`
	MaxUsers        int    `json:"max_users"`
	MaxProducts     int    `json:"max_products"`
	OnlineSales     bool   `json:"online_sales"`
	AdvancedReports bool   `json:"advanced_reports"`
	Status          string `json:"status"`
}

type recordResponse struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	PlanCode      string     `json:"plan_code"`
	PlanName      string     `json:"plan_name"`
	PlanPrice     string     `json:"plan_price"`
	Cycle         string     `json:"ciclo"`
	StartsAt      *time.Time `json:"fecha_inicio"`
	EndsAt        *time.Time `json:"fecha_fin"`
	Amount        string     `json:"monto"`
	PaymentMethod string     `json:"metodo_pago"`
	Status        string     `json:"estado"`
	Reference     *string    `json:"referencia,omitempty"`
	ProofHandle   *string    `json:"comprobante,omitempty"`
	CreatedAt     time.Time  `json:"creado_en"`
	VerifiedAt    *time.Time `json:"verificado_en,omitempty"`
	CancelledAt   *time.Time `json:"cancelado_en,omitempty"`
	RejectedAt    *time.Time `json:"rechazado_en,omitempty"`
	RejectReason  *string    `json:"motivo_rechazo,omitempty"`
}

type anomalyResponse struct {
	Kind      string      `json:"kind"`
	RecordIDs []uuid.UUID `json:"record_ids"`
}

type entitlementResponse struct {
	TenantID    uuid.UUID         `json:"tenant_id"`
	PlanCode    string            `json:"plan_code"`
	Plan        *planResponse     `json:"plan,omitempty"`
	Fallback    bool              `json:"fallback"`
	InGrace     bool              `json:"in_grace"`
	Effective   *recordResponse   `json:"effective"`
	Pending     *recordResponse   `json:"pending"`
	Queued      *recordResponse   `json:"queued"`
	Anomalies   []anomalyResponse `json:"anomalies,omitempty"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
}

type historyResponse struct {
	Records    []recordResponse `json:"records"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func money(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func newPlanResponse(plan models.Plan) planResponse {
	return planResponse{
		Code:            plan.Code,
		Name:            plan.Name,
		MonthlyPrice:    money(plan.MonthlyPrice),
		AnnualPrice:     money(plan.AnnualPrice),
		MaxUsers:        plan.MaxUsers,
		MaxProducts:     plan.MaxProducts,
		OnlineSales:     plan.OnlineSales,
		AdvancedReports: plan.AdvancedReports,
		Status:          string(plan.Status),
	}
}

func newRecordResponse(record *models.SubscriptionRecord) *recordResponse {
	if record == nil {
		return nil
	}
	return &recordResponse{
		ID:            record.ID,
		TenantID:      record.TenantID,
		PlanCode:      record.PlanCode,
		PlanName:      record.PlanName,
		PlanPrice:     money(record.PlanPrice),
		Cycle:         string(record.Cycle),
		StartsAt:      utcPtr(record.StartsAt),
		EndsAt:        utcPtr(record.EndsAt),
		Amount:        money(record.Amount),
		PaymentMethod: string(record.PaymentMethod),
		Status:        string(record.Status),
		Reference:     record.Reference,
		ProofHandle:   record.ProofHandle,
		CreatedAt:     record.CreatedAt.UTC(),
		VerifiedAt:    utcPtr(record.VerifiedAt),
		CancelledAt:   utcPtr(record.CancelledAt),
		RejectedAt:    utcPtr(record.RejectedAt),
		RejectReason:  record.RejectReason,
	}
}

func newAnomalies(anomalies []lifecycle.Anomaly) []anomalyResponse {
	if len(anomalies) == 0 {
		return nil
	}
	out := make([]anomalyResponse, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, anomalyResponse{Kind: string(a.Kind), RecordIDs: a.RecordIDs})
	}
	return out
}

func newEntitlementResponse(ent *subscriptions.Entitlement) entitlementResponse {
	resp := entitlementResponse{
		TenantID:    ent.TenantID,
		PlanCode:    ent.PlanCode,
		Fallback:    ent.Fallback,
		InGrace:     ent.InGrace,
		Effective:   newRecordResponse(ent.Effective),
		Pending:     newRecordResponse(ent.Pending),
		Queued:      newRecordResponse(ent.Queued),
		Anomalies:   newAnomalies(ent.Anomalies),
		EvaluatedAt: ent.EvaluatedAt.UTC(),
	}
	if ent.Plan != nil {
		plan := newPlanResponse(*ent.Plan)
		resp.Plan = &plan
	}
	return resp
}
