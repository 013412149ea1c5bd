package subscriptions

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/comercio-backoffice/internal/lifecycle"
	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxRejectReasonLength = 500

// Verify confirms the payment of a PENDIENTE record. Verifying an ACTIVA
// record returns it unchanged. A period whose start passed while the record
// waited is moved to begin at verification.
func (s *service) Verify(ctx context.Context, actor Actor, recordID uuid.UUID) (*models.SubscriptionRecord, error) {
	if recordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record id is required")
	}
	ctx = s.logg.WithRecordID(ctx, recordID.String())

	var (
		result  *models.SubscriptionRecord
		changed bool
	)
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		record, err := s.lockRecord(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if err := lifecycle.ValidateVerification(*record); err != nil {
			if errors.Is(err, lifecycle.ErrAlreadyVerified) {
				result = record
				return nil
			}
			return err
		}

		history, err := s.records.WithTx(tx).ListByTenant(ctx, record.TenantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscription records")
		}
		now := s.now()
		if period, moved := lifecycle.VerifiedPeriod(lifecycle.Derive(history, now), *record, now); moved {
			record.StartsAt = &period.Start
			record.EndsAt = &period.End
		}
		record.Status = enums.SubscriptionStatusActiva
		record.VerifiedAt = &now
		if err := s.records.WithTx(tx).Update(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription record")
		}
		if err := s.emitRecord(ctx, tx, actor, enums.EventSubscriptionVerified, record, enums.SubscriptionStatusPendiente, "", now); err != nil {
			return err
		}
		if _, err := s.refreshTenantPlanTx(ctx, tx, &actor, record.TenantID, now); err != nil {
			return err
		}
		result = record
		changed = true
		return nil
	})
	if err != nil {
		return nil, asDependency(err, "verify subscription record")
	}

	if changed {
		s.transition(enums.SubscriptionStatusPendiente, result)
		s.logg.Info(s.logg.WithTenantID(ctx, result.TenantID.String()), "subscription record verified")
	}
	return result, nil
}

// Reject refuses a PENDIENTE record, freeing the tenant to submit again.
func (s *service) Reject(ctx context.Context, actor Actor, recordID uuid.UUID, reason string) (*models.SubscriptionRecord, error) {
	if recordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "motivo_rechazo is required")
	}
	if len(reason) > maxRejectReasonLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "motivo_rechazo is too long")
	}
	ctx = s.logg.WithRecordID(ctx, recordID.String())

	var (
		result  *models.SubscriptionRecord
		changed bool
	)
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		record, err := s.lockRecord(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if err := lifecycle.ValidateRejection(*record); err != nil {
			if errors.Is(err, lifecycle.ErrAlreadyRejected) {
				result = record
				return nil
			}
			return err
		}

		now := s.now()
		record.Status = enums.SubscriptionStatusRechazada
		record.RejectedAt = &now
		record.RejectReason = &reason
		if err := s.records.WithTx(tx).Update(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription record")
		}
		if err := s.emitRecord(ctx, tx, actor, enums.EventSubscriptionRejected, record, enums.SubscriptionStatusPendiente, reason, now); err != nil {
			return err
		}
		result = record
		changed = true
		return nil
	})
	if err != nil {
		return nil, asDependency(err, "reject subscription record")
	}

	if changed {
		s.transition(enums.SubscriptionStatusPendiente, result)
		s.logg.Info(s.logg.WithTenantID(ctx, result.TenantID.String()), "subscription record rejected")
	}
	return result, nil
}

// Cancel moves the tenant's effective ACTIVA record to CANCELADA. fecha_fin is
// kept, so access continues until it passes. Cancelling a CANCELADA record
// returns it without writing.
func (s *service) Cancel(ctx context.Context, actor Actor, recordID uuid.UUID) (*models.SubscriptionRecord, error) {
	if actor.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if recordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record id is required")
	}
	ctx = s.logg.WithRecordID(s.logg.WithTenantID(ctx, actor.TenantID.String()), recordID.String())

	var (
		result  *models.SubscriptionRecord
		changed bool
	)
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		record, err := s.lockRecord(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if record.TenantID != actor.TenantID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription record not found")
		}

		history, err := s.records.WithTx(tx).ListByTenant(ctx, actor.TenantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscription records")
		}
		now := s.now()
		state := lifecycle.Derive(history, now)
		if err := lifecycle.ValidateCancellation(state, *record, s.freePlan); err != nil {
			if errors.Is(err, lifecycle.ErrAlreadyCancelled) {
				result = record
				return nil
			}
			return err
		}

		record.Status = enums.SubscriptionStatusCancelada
		record.CancelledAt = &now
		if err := s.records.WithTx(tx).Update(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription record")
		}
		if err := s.emitRecord(ctx, tx, actor, enums.EventSubscriptionCancelled, record, enums.SubscriptionStatusActiva, "", now); err != nil {
			return err
		}
		if _, err := s.refreshTenantPlanTx(ctx, tx, &actor, actor.TenantID, now); err != nil {
			return err
		}
		result = record
		changed = true
		return nil
	})
	if err != nil {
		return nil, s.rejected(ctx, asDependency(err, "cancel subscription record"))
	}

	if changed {
		s.transition(enums.SubscriptionStatusActiva, result)
		s.logg.Info(ctx, "subscription record cancelled")
	}
	return result, nil
}

func (s *service) lockRecord(ctx context.Context, tx *gorm.DB, recordID uuid.UUID) (*models.SubscriptionRecord, error) {
	record, err := s.records.WithTx(tx).FindForUpdate(ctx, recordID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription record")
	}
	if record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription record not found")
	}
	return record, nil
}
