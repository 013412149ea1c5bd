// Package subscriptions runs the plan change request flow and the record
// transitions (verify, reject, cancel) on top of the lifecycle engine.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/comercio-backoffice/internal/lifecycle"
	"github.com/angelmondragon/comercio-backoffice/internal/plans"
	"github.com/angelmondragon/comercio-backoffice/pkg/db"
	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
	"github.com/angelmondragon/comercio-backoffice/pkg/outbox"
	"github.com/angelmondragon/comercio-backoffice/pkg/outbox/payloads"
	"github.com/angelmondragon/comercio-backoffice/pkg/pagination"
	"github.com/angelmondragon/comercio-backoffice/pkg/storage/gcs"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type tenantRepository interface {
	FindByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.Tenant, error)
	UpdatePlanCacheWithTx(tx *gorm.DB, id uuid.UUID, planCode string, refreshedAt time.Time) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type lifecycleMetrics interface {
	IncAnomaly(kind string)
	IncTransition(from, to string)
	IncRejection(code string)
}

// ProofResolver confirms an uploaded payment proof can be read.
type ProofResolver interface {
	Confirm(ctx context.Context, handle string) error
}

// Service defines the subscription lifecycle surface.
type Service interface {
	RequestChange(ctx context.Context, actor Actor, input RequestChangeInput) (*models.SubscriptionRecord, error)
	Cancel(ctx context.Context, actor Actor, recordID uuid.UUID) (*models.SubscriptionRecord, error)
	Verify(ctx context.Context, actor Actor, recordID uuid.UUID) (*models.SubscriptionRecord, error)
	Reject(ctx context.Context, actor Actor, recordID uuid.UUID, reason string) (*models.SubscriptionRecord, error)
	Entitlement(ctx context.Context, tenantID uuid.UUID) (*Entitlement, error)
	History(ctx context.Context, params HistoryQuery) ([]models.SubscriptionRecord, *pagination.Cursor, error)
	RefreshTenantPlan(ctx context.Context, tenantID uuid.UUID) (*PlanRefresh, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Records           Repository
	Plans             plans.Lister
	Tenants           tenantRepository
	Outbox            outboxEmitter
	Proofs            ProofResolver
	Metrics           lifecycleMetrics
	Logger            *logger.Logger
	TransactionRunner txRunner
	FreePlanCode      string
	Clock             func() time.Time
}

// Actor is an already-authorized caller. Role checks happen upstream.
type Actor struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     enums.MemberRole
}

// RequestChangeInput captures a plan change submitted with a payment proof.
type RequestChangeInput struct {
	PlanCode      string
	Cycle         enums.BillingCycle
	PaymentMethod enums.PaymentMethod
	Reference     string
	ProofHandle   string
}

// Entitlement is the derived subscription view of a tenant.
type Entitlement struct {
	TenantID    uuid.UUID
	PlanCode    string
	Plan        *models.Plan
	Fallback    bool
	InGrace     bool
	Effective   *models.SubscriptionRecord
	Pending     *models.SubscriptionRecord
	Queued      *models.SubscriptionRecord
	Anomalies   []lifecycle.Anomaly
	EvaluatedAt time.Time
}

// PlanRefresh reports a tenant plan cache recomputation.
type PlanRefresh struct {
	TenantID uuid.UUID
	Previous string
	Current  string
	Changed  bool
}

type service struct {
	records  Repository
	plans    plans.Lister
	tenants  tenantRepository
	outbox   outboxEmitter
	proofs   ProofResolver
	metrics  lifecycleMetrics
	logg     *logger.Logger
	txRunner txRunner
	freePlan string
	now      func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Records == nil {
		return nil, fmt.Errorf("subscription record repo required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan repo required")
	}
	if params.Tenants == nil {
		return nil, fmt.Errorf("tenant repo required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Proofs == nil {
		return nil, fmt.Errorf("proof resolver required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	freePlan := strings.TrimSpace(params.FreePlanCode)
	if freePlan == "" {
		return nil, fmt.Errorf("free plan code required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		records:  params.Records,
		plans:    params.Plans,
		tenants:  params.Tenants,
		outbox:   params.Outbox,
		proofs:   params.Proofs,
		metrics:  params.Metrics,
		logg:     params.Logger,
		txRunner: params.TransactionRunner,
		freePlan: freePlan,
		now:      func() time.Time { return clock().UTC() },
	}, nil
}

// RequestChange creates a PENDIENTE record for the requested plan. Nothing is
// written unless every check passes and the proof is confirmed readable.
func (s *service) RequestChange(ctx context.Context, actor Actor, input RequestChangeInput) (*models.SubscriptionRecord, error) {
	if actor.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	ctx = s.logg.WithTenantID(ctx, actor.TenantID.String())

	input.PlanCode = strings.TrimSpace(input.PlanCode)
	input.Reference = strings.TrimSpace(input.Reference)
	input.ProofHandle = strings.TrimSpace(input.ProofHandle)
	if input.PlanCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan_code is required")
	}
	if !input.Cycle.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ciclo must be MENSUAL or ANUAL")
	}
	if !input.PaymentMethod.RequiresProof() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "metodo_pago must be QR or TRANSFERENCIA")
	}
	if input.ProofHandle == "" {
		return nil, s.rejected(ctx, pkgerrors.New(pkgerrors.CodeNoActiveAttachment, "payment proof is required"))
	}

	catalog, err := plans.LoadCatalog(ctx, s.plans)
	if err != nil {
		return nil, err
	}
	plan, err := catalog.Resolve(input.PlanCode)
	if err != nil {
		return nil, s.rejected(ctx, err)
	}
	price, err := plans.PriceFor(plan, input.Cycle)
	if err != nil {
		return nil, err
	}

	history, err := s.records.ListByTenant(ctx, actor.TenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscription records")
	}
	now := s.now()
	state := lifecycle.Derive(history, now)
	s.observe(ctx, state)
	if err := lifecycle.ValidatePlanChange(state, plan.Code, s.freePlan); err != nil {
		return nil, s.rejected(ctx, err)
	}

	if err := s.confirmProof(ctx, input.ProofHandle); err != nil {
		return nil, err
	}

	period := lifecycle.NextPeriod(state, now, input.Cycle)
	record := &models.SubscriptionRecord{
		TenantID:      actor.TenantID,
		PlanCode:      plan.Code,
		PlanName:      plan.Name,
		PlanPrice:     price,
		Cycle:         input.Cycle,
		StartsAt:      &period.Start,
		EndsAt:        &period.End,
		Amount:        price,
		PaymentMethod: input.PaymentMethod,
		Status:        enums.SubscriptionStatusPendiente,
		Reference:     optionalString(input.Reference),
		ProofHandle:   &input.ProofHandle,
		CreatedAt:     now,
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.records.WithTx(tx).Create(ctx, record); err != nil {
			if db.IsUniqueViolation(err, PendingIndexName) {
				return pkgerrors.New(pkgerrors.CodeDuplicatePendingRequest, "a plan change request is already pending").
					WithDetails(map[string]any{"tenant_id": actor.TenantID.String()})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription record")
		}
		return s.emitRecord(ctx, tx, actor, enums.EventSubscriptionRequested, record, "", "", now)
	})
	if err != nil {
		return nil, s.rejected(ctx, asDependency(err, "persist plan change request"))
	}

	s.transition("", record)
	logCtx := s.logg.WithFields(s.logg.WithRecordID(ctx, record.ID.String()), map[string]any{
		"plan_code": record.PlanCode,
		"ciclo":     record.Cycle,
		"queued":    period.Start.After(now),
	})
	s.logg.Info(logCtx, "plan change requested")
	return record, nil
}

// Entitlement derives the tenant's current view, falling back to the free plan.
func (s *service) Entitlement(ctx context.Context, tenantID uuid.UUID) (*Entitlement, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	ctx = s.logg.WithTenantID(ctx, tenantID.String())

	history, err := s.records.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscription records")
	}
	catalog, err := plans.LoadCatalog(ctx, s.plans)
	if err != nil {
		return nil, err
	}

	now := s.now()
	state := lifecycle.Derive(history, now)
	s.observe(ctx, state)

	out := &Entitlement{
		TenantID:    tenantID,
		PlanCode:    state.PlanCode(s.freePlan),
		Fallback:    !state.HasEntitlement(),
		InGrace:     state.InGrace(),
		Effective:   state.Effective,
		Pending:     state.Pending,
		Queued:      state.Queued,
		Anomalies:   state.Anomalies,
		EvaluatedAt: now,
	}
	if plan, ok := catalog.Lookup(out.PlanCode); ok {
		out.Plan = &plan
	}
	return out, nil
}

// History pages the tenant's records newest first.
func (s *service) History(ctx context.Context, params HistoryQuery) ([]models.SubscriptionRecord, *pagination.Cursor, error) {
	if params.TenantID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	records, next, err := s.records.ListPage(ctx, params)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscription history")
	}
	return records, next, nil
}

// RefreshTenantPlan recomputes the cached plan pointer for one tenant.
func (s *service) RefreshTenantPlan(ctx context.Context, tenantID uuid.UUID) (*PlanRefresh, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	ctx = s.logg.WithTenantID(ctx, tenantID.String())

	var refresh *PlanRefresh
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		refresh, err = s.refreshTenantPlanTx(ctx, tx, nil, tenantID, s.now())
		return err
	})
	if err != nil {
		return nil, asDependency(err, "refresh tenant plan")
	}
	return refresh, nil
}

// refreshTenantPlanTx stores the derived plan on the tenant row and emits
// tenant_plan_changed when it moved.
func (s *service) refreshTenantPlanTx(ctx context.Context, tx *gorm.DB, actor *Actor, tenantID uuid.UUID, now time.Time) (*PlanRefresh, error) {
	tenant, err := s.tenants.FindByIDWithTx(tx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tenant")
	}
	history, err := s.records.WithTx(tx).ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscription records")
	}
	state := lifecycle.Derive(history, now)
	s.observe(ctx, state)

	refresh := &PlanRefresh{TenantID: tenantID, Current: state.PlanCode(s.freePlan)}
	if tenant.PlanCode != nil {
		refresh.Previous = *tenant.PlanCode
	}
	refresh.Changed = refresh.Previous != refresh.Current

	if err := s.tenants.UpdatePlanCacheWithTx(tx, tenantID, refresh.Current, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update tenant plan cache")
	}
	if !refresh.Changed {
		return refresh, nil
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventTenantPlanChanged,
		AggregateType: enums.AggregateTenant,
		AggregateID:   tenantID,
		Actor:         actorRef(actor),
		OccurredAt:    now,
		Data: payloads.TenantPlanChangedEvent{
			TenantID:     tenantID,
			PreviousPlan: refresh.Previous,
			CurrentPlan:  refresh.Current,
			Fallback:     !state.HasEntitlement(),
			RefreshedAt:  now,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit tenant plan changed")
	}
	return refresh, nil
}

func (s *service) confirmProof(ctx context.Context, handle string) error {
	err := s.proofs.Confirm(ctx, handle)
	if err == nil {
		return nil
	}
	if errors.Is(err, gcs.ErrProofNotFound) || errors.Is(err, gcs.ErrInvalidProofHandle) {
		return s.rejected(ctx, pkgerrors.Wrap(pkgerrors.CodeNoActiveAttachment, err, "payment proof is not readable").
			WithDetails(map[string]any{"comprobante": handle}))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm payment proof")
}

func (s *service) emitRecord(ctx context.Context, tx *gorm.DB, actor Actor, eventType enums.OutboxEventType, record *models.SubscriptionRecord, previous enums.SubscriptionStatus, reason string, now time.Time) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubscriptionRecord,
		AggregateID:   record.ID,
		Actor:         actorRef(&actor),
		OccurredAt:    now,
		Data: payloads.SubscriptionRecordEvent{
			RecordID:      record.ID,
			TenantID:      record.TenantID,
			PlanCode:      record.PlanCode,
			PlanName:      record.PlanName,
			Cycle:         record.Cycle,
			Amount:        record.Amount,
			PaymentMethod: record.PaymentMethod,
			Status:        record.Status,
			PreviousState: previous,
			StartsAt:      record.StartsAt,
			EndsAt:        record.EndsAt,
			Queued:        record.StartsAt != nil && record.StartsAt.After(now),
			Reason:        reason,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(eventType))
	}
	return nil
}

// observe reports integrity anomalies without failing the caller.
func (s *service) observe(ctx context.Context, state lifecycle.State) {
	for _, anomaly := range state.Anomalies {
		if s.metrics != nil {
			s.metrics.IncAnomaly(string(anomaly.Kind))
		}
		ids := make([]string, 0, len(anomaly.RecordIDs))
		for _, id := range anomaly.RecordIDs {
			ids = append(ids, id.String())
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"anomaly":    anomaly.Kind,
			"record_ids": ids,
		})
		s.logg.Warn(logCtx, "subscription record integrity anomaly")
	}
}

func (s *service) rejected(ctx context.Context, err error) error {
	if typed := pkgerrors.As(err); typed != nil && pkgerrors.IsLifecycleRejection(typed.Code()) {
		if s.metrics != nil {
			s.metrics.IncRejection(string(typed.Code()))
		}
		s.logg.Info(s.logg.WithField(ctx, "code", typed.Code()), "subscription transition rejected")
	}
	return err
}

func (s *service) transition(from enums.SubscriptionStatus, record *models.SubscriptionRecord) {
	if s.metrics != nil {
		s.metrics.IncTransition(string(from), string(record.Status))
	}
}

func actorRef(actor *Actor) *outbox.ActorRef {
	if actor == nil {
		return nil
	}
	ref := &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
	if actor.TenantID != uuid.Nil {
		tenantID := actor.TenantID
		ref.TenantID = &tenantID
	}
	return ref
}

// asDependency keeps typed errors and wraps anything else.
func asDependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
