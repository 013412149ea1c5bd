package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/comercio-backoffice/internal/subscriptions"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const defaultRefreshBatchSize = 500

type tenantLister interface {
	ListIDsAfter(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type planRefresher interface {
	RefreshTenantPlan(ctx context.Context, tenantID uuid.UUID) (*subscriptions.PlanRefresh, error)
}

type EntitlementRefreshJobParams struct {
	Logger    *logger.Logger
	Tenants   tenantLister
	Refresher planRefresher
	BatchSize int
}

// entitlementRefreshJob recomputes every tenant's cached plan. Entitlement
// moves with time alone (grace periods lapse, queued changes start), so the
// cache cannot rely on transitions to stay current.
type entitlementRefreshJob struct {
	logg      *logger.Logger
	tenants   tenantLister
	refresher planRefresher
	batchSize int
}

func NewEntitlementRefreshJob(params EntitlementRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tenants == nil {
		return nil, fmt.Errorf("tenant lister required")
	}
	if params.Refresher == nil {
		return nil, fmt.Errorf("plan refresher required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRefreshBatchSize
	}
	return &entitlementRefreshJob{
		logg:      params.Logger,
		tenants:   params.Tenants,
		refresher: params.Refresher,
		batchSize: batch,
	}, nil
}

func (j *entitlementRefreshJob) Name() string { return "entitlement-refresh" }

// Run keeps going past individual tenant failures and returns them combined.
func (j *entitlementRefreshJob) Run(ctx context.Context) error {
	var (
		after            uuid.UUID
		scanned, changed int
		errs             error
	)
	for {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		ids, err := j.tenants.ListIDsAfter(ctx, after, j.batchSize)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list tenants: %w", err))
		}
		for _, id := range ids {
			scanned++
			refresh, err := j.refresher.RefreshTenantPlan(ctx, id)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("tenant %s: %w", id, err))
				continue
			}
			if refresh != nil && refresh.Changed {
				changed++
				logCtx := j.logg.WithFields(j.logg.WithTenantID(ctx, id.String()), map[string]any{
					"previous_plan": refresh.Previous,
					"current_plan":  refresh.Current,
				})
				j.logg.Info(logCtx, "tenant plan cache moved")
			}
		}
		if len(ids) < j.batchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"tenants_scanned": scanned,
		"tenants_changed": changed,
		"failures":        len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "entitlement refresh complete")
	return errs
}
