package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/comercio-backoffice/api/middleware"
	"github.com/angelmondragon/comercio-backoffice/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
)

// resolveActor builds the service actor from the authenticated request.
// Tenant is optional so platform administrators resolve too.
func resolveActor(r *http.Request) (subscriptions.Actor, error) {
	ctx := r.Context()
	userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
	if err != nil {
		return subscriptions.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	actor := subscriptions.Actor{
		UserID: userID,
		Role:   middleware.RoleFromContext(ctx),
	}
	if raw := middleware.TenantIDFromContext(ctx); raw != "" {
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			return subscriptions.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid tenant context")
		}
		actor.TenantID = tenantID
	}
	return actor, nil
}

func resolveTenantActor(r *http.Request) (subscriptions.Actor, error) {
	actor, err := resolveActor(r)
	if err != nil {
		return actor, err
	}
	if actor.TenantID == uuid.Nil {
		return actor, pkgerrors.New(pkgerrors.CodeForbidden, "tenant context missing")
	}
	return actor, nil
}
