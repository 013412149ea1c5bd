package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/comercio-backoffice/api/responses"
	"github.com/angelmondragon/comercio-backoffice/api/validators"
	"github.com/angelmondragon/comercio-backoffice/internal/subscriptions"
	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
	"github.com/angelmondragon/comercio-backoffice/pkg/pagination"
)

type planChangeRequest struct {
	PlanCode      string `json:"plan_code" validate:"required,plancode"`
	Cycle         string `json:"ciclo" validate:"required,oneof=MENSUAL ANUAL"`
	PaymentMethod string `json:"metodo_pago" validate:"required,oneof=QR TRANSFERENCIA"`
	Reference     string `json:"referencia" validate:"max=128"`
	ProofHandle   string `json:"comprobante" validate:"max=512"`
}

func SubscriptionEntitlement(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := resolveTenantActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		ent, err := svc.Entitlement(ctx, actor.TenantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newEntitlementResponse(ent))
	}
}

func SubscriptionHistory(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := resolveTenantActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		page, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		records, next, err := svc.History(ctx, subscriptions.HistoryQuery{
			TenantID: actor.TenantID,
			Params:   page,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := historyResponse{Records: make([]recordResponse, 0, len(records))}
		for i := range records {
			resp.Records = append(resp.Records, *newRecordResponse(&records[i]))
		}
		if next != nil {
			resp.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, resp)
	}
}

// SubscriptionRequestChange submits a paid plan change with its proof. The
// new record starts PENDIENTE until a platform admin verifies the payment.
func SubscriptionRequestChange(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := resolveTenantActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload planChangeRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		record, err := svc.RequestChange(ctx, actor, subscriptions.RequestChangeInput{
			PlanCode:      strings.ToUpper(strings.TrimSpace(payload.PlanCode)),
			Cycle:         enums.BillingCycle(payload.Cycle),
			PaymentMethod: enums.PaymentMethod(payload.PaymentMethod),
			Reference:     payload.Reference,
			ProofHandle:   payload.ProofHandle,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newRecordResponse(record))
	}
}

func SubscriptionCancel(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := resolveTenantActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		recordID, err := validators.ParseUUIDParam(r, "recordId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		record, err := svc.Cancel(ctx, actor, recordID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRecordResponse(record))
	}
}
