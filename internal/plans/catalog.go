// Package plans resolves plan codes to their catalog definition.
package plans

import (
	"context"
	"fmt"
	"sort"

	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/shopspring/decimal"
)

// Catalog is an immutable snapshot of the plan table for one request.
type Catalog struct {
	byCode map[string]models.Plan
	order  []string
}

// NewCatalog indexes plans by code. Later duplicates replace earlier ones.
func NewCatalog(plans []models.Plan) Catalog {
	c := Catalog{byCode: make(map[string]models.Plan, len(plans))}
	for _, plan := range plans {
		if _, seen := c.byCode[plan.Code]; !seen {
			c.order = append(c.order, plan.Code)
		}
		c.byCode[plan.Code] = plan
	}
	return c
}

// Lister is the read side LoadCatalog needs.
type Lister interface {
	List(ctx context.Context, params ListQuery) ([]models.Plan, error)
}

// LoadCatalog reads every plan, active or not, so historical codes resolve.
func LoadCatalog(ctx context.Context, repo Lister) (Catalog, error) {
	if repo == nil {
		return Catalog{}, fmt.Errorf("plan repository required")
	}
	rows, err := repo.List(ctx, ListQuery{})
	if err != nil {
		return Catalog{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return NewCatalog(rows), nil
}

// Lookup returns a copy of the plan identified by code.
func (c Catalog) Lookup(code string) (models.Plan, bool) {
	plan, ok := c.byCode[code]
	return plan, ok
}

// Len reports how many plans the catalog holds.
func (c Catalog) Len() int {
	return len(c.order)
}

// Resolve returns the plan if it can be bought right now.
func (c Catalog) Resolve(code string) (models.Plan, error) {
	plan, ok := c.Lookup(code)
	if !ok {
		return models.Plan{}, pkgerrors.New(pkgerrors.CodeIneligiblePlan, "plan not found in catalog").
			WithDetails(map[string]any{"plan_code": code})
	}
	if !IsPurchasable(plan) {
		return models.Plan{}, pkgerrors.New(pkgerrors.CodeCatalogPlanInactive, "plan is inactive").
			WithDetails(map[string]any{"plan_code": code})
	}
	return plan, nil
}

// Purchasable lists active plans ordered by monthly price, then code.
func (c Catalog) Purchasable() []models.Plan {
	out := make([]models.Plan, 0, len(c.order))
	for _, code := range c.order {
		if plan := c.byCode[code]; IsPurchasable(plan) {
			out = append(out, plan)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if cmp := out[i].MonthlyPrice.Cmp(out[j].MonthlyPrice); cmp != 0 {
			return cmp < 0
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// PriceFor returns the snapshot price charged for one cycle of plan.
func PriceFor(plan models.Plan, cycle enums.BillingCycle) (decimal.Decimal, error) {
	switch cycle {
	case enums.BillingCycleMensual:
		return plan.MonthlyPrice, nil
	case enums.BillingCycleAnual:
		return plan.AnnualPrice, nil
	default:
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing cycle").
			WithDetails(map[string]any{"ciclo": string(cycle)})
	}
}

// IsPurchasable is false once a plan is INACTIVO.
func IsPurchasable(plan models.Plan) bool {
	return plan.Status == enums.PlanStatusActivo
}

// SamePlan compares by code only; names change across catalog edits.
func SamePlan(a, b models.Plan) bool {
	return a.Code == b.Code
}
