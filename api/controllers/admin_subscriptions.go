package controllers

import (
	"net/http"

	"github.com/angelmondragon/comercio-backoffice/api/responses"
	"github.com/angelmondragon/comercio-backoffice/api/validators"
	"github.com/angelmondragon/comercio-backoffice/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
)

type rejectRequest struct {
	Reason string `json:"motivo_rechazo" validate:"required,notblank,max=500"`
}

// AdminSubscriptionVerify confirms a pending payment. Repeating the call on
// an already verified record returns it unchanged.
func AdminSubscriptionVerify(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := resolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		recordID, err := validators.ParseUUIDParam(r, "recordId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		record, err := svc.Verify(ctx, actor, recordID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRecordResponse(record))
	}
}

func AdminSubscriptionReject(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := resolveActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		recordID, err := validators.ParseUUIDParam(r, "recordId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload rejectRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		record, err := svc.Reject(ctx, actor, recordID, payload.Reason)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRecordResponse(record))
	}
}
