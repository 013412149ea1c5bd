package controllers

import (
	"net/http"

	"github.com/angelmondragon/comercio-backoffice/api/responses"
	"github.com/angelmondragon/comercio-backoffice/internal/plans"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
)

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

// PlansList returns the plans a tenant can request, cheapest first. The free
// plan is listed since it is the fallback tier.
func PlansList(repo plans.Lister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if repo == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		catalog, err := plans.LoadCatalog(ctx, repo)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		purchasable := catalog.Purchasable()
		out := make([]planResponse, 0, len(purchasable))
		for _, plan := range purchasable {
			out = append(out, newPlanResponse(plan))
		}
		responses.WriteSuccess(w, planListResponse{Plans: out})
	}
}
