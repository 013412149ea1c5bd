package lifecycle

import (
	"errors"
	"time"

	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
)

var (
	// ErrAlreadyCancelled signals an idempotent cancel: the record is returned as is.
	ErrAlreadyCancelled = errors.New("subscription record already cancelled")
	// ErrAlreadyVerified signals an idempotent verify.
	ErrAlreadyVerified = errors.New("subscription record already verified")
	// ErrAlreadyRejected signals an idempotent reject.
	ErrAlreadyRejected = errors.New("subscription record already rejected")
)

// Period is the [Start, End] window a new record will cover.
type Period struct {
	Start time.Time
	End   time.Time
}

// ValidatePlanChange checks whether a tenant in state may request targetPlan.
// Catalog membership is checked by the caller; this only looks at history.
func ValidatePlanChange(state State, targetPlan, freePlanCode string) error {
	if state.Pending != nil {
		return pkgerrors.New(pkgerrors.CodeDuplicatePendingRequest, "a plan change request is already pending").
			WithDetails(map[string]any{
				"pending_record_id": state.Pending.ID.String(),
				"plan_code":         state.Pending.PlanCode,
			})
	}
	if targetPlan == freePlanCode {
		return pkgerrors.New(pkgerrors.CodeIneligiblePlan, "the free plan is not requested through a plan change").
			WithDetails(map[string]any{"plan_code": targetPlan})
	}

	for _, queued := range state.Scheduled {
		if queued.PlanCode == targetPlan {
			return noChange(targetPlan, "a queued change already targets this plan", &queued)
		}
	}

	if tail := chainTail(state); tail != nil {
		if tail.PlanCode == targetPlan {
			return noChange(targetPlan, "the requested plan is already paid for the current period", tail)
		}
		return nil
	}

	// the new period would start immediately
	if state.Effective != nil && state.Effective.Status == enums.SubscriptionStatusActiva &&
		state.Effective.PlanCode == targetPlan {
		return noChange(targetPlan, "the requested plan is already in effect", state.Effective)
	}
	return nil
}

// ValidateCancellation checks that target may move ACTIVA -> CANCELADA. A
// target that is already CANCELADA yields ErrAlreadyCancelled.
func ValidateCancellation(state State, target models.SubscriptionRecord, freePlanCode string) error {
	switch target.Status {
	case enums.SubscriptionStatusCancelada:
		return ErrAlreadyCancelled
	case enums.SubscriptionStatusActiva:
	default:
		return invalidCancellation(target, "only an active subscription can be cancelled")
	}
	if target.PlanCode == freePlanCode {
		return invalidCancellation(target, "the free plan cannot be cancelled")
	}
	if state.Effective == nil || state.Effective.ID != target.ID {
		return invalidCancellation(target, "only the subscription currently in effect can be cancelled")
	}
	return nil
}

// ValidateVerification checks that target may move PENDIENTE -> ACTIVA.
func ValidateVerification(target models.SubscriptionRecord) error {
	switch target.Status {
	case enums.SubscriptionStatusPendiente:
		return nil
	case enums.SubscriptionStatusActiva:
		return ErrAlreadyVerified
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only a pending subscription record can be verified").
			WithDetails(map[string]any{"record_id": target.ID.String(), "estado": string(target.Status)})
	}
}

// ValidateRejection checks that target may move PENDIENTE -> RECHAZADA.
func ValidateRejection(target models.SubscriptionRecord) error {
	switch target.Status {
	case enums.SubscriptionStatusPendiente:
		return nil
	case enums.SubscriptionStatusRechazada:
		return ErrAlreadyRejected
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only a pending subscription record can be rejected").
			WithDetails(map[string]any{"record_id": target.ID.String(), "estado": string(target.Status)})
	}
}

// NextPeriod returns the window for a record requested at now. When the tenant
// already holds paid ACTIVA time (current or queued) the new period starts
// where the last of it ends; otherwise it starts at now. Grace periods do not
// delay a new request.
func NextPeriod(state State, now time.Time, cycle enums.BillingCycle) Period {
	start := now
	if tail := chainTail(state); tail != nil {
		start = *tail.EndsAt
	}
	return Period{Start: start, End: AddCycle(start, cycle)}
}

// VerifiedPeriod returns the window target covers when verified at now. The
// stored period is kept unless its start has already passed, in which case it
// is recomputed from now so days spent PENDIENTE are not lost.
func VerifiedPeriod(state State, target models.SubscriptionRecord, now time.Time) (Period, bool) {
	if target.StartsAt != nil && !target.StartsAt.Before(now) {
		end := AddCycle(*target.StartsAt, target.Cycle)
		if target.EndsAt != nil {
			end = *target.EndsAt
		}
		return Period{Start: *target.StartsAt, End: end}, false
	}
	return NextPeriod(state, now, target.Cycle), true
}

// AddCycle advances t by one billing cycle.
func AddCycle(t time.Time, cycle enums.BillingCycle) time.Time {
	if cycle == enums.BillingCycleAnual {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// chainTail is the ACTIVA record with the latest bounded end after state.At;
// a new request is queued behind it.
func chainTail(state State) *models.SubscriptionRecord {
	var tail *models.SubscriptionRecord
	consider := func(rec *models.SubscriptionRecord) {
		if rec == nil || rec.Status != enums.SubscriptionStatusActiva || rec.EndsAt == nil {
			return
		}
		if !rec.EndsAt.After(state.At) {
			return
		}
		if tail == nil || rec.EndsAt.After(*tail.EndsAt) {
			tail = rec
		}
	}
	consider(state.Effective)
	for i := range state.Scheduled {
		consider(&state.Scheduled[i])
	}
	return tail
}

func noChange(plan, message string, rec *models.SubscriptionRecord) error {
	return pkgerrors.New(pkgerrors.CodeNoChangeRequested, message).
		WithDetails(map[string]any{"plan_code": plan, "record_id": rec.ID.String()})
}

func invalidCancellation(target models.SubscriptionRecord, message string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidCancellation, message).
		WithDetails(map[string]any{"record_id": target.ID.String(), "estado": string(target.Status)})
}
