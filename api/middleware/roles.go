package middleware

import (
	"net/http"

	"github.com/angelmondragon/comercio-backoffice/api/responses"
	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
)

// TenantContext requires a tenant-scoped caller.
func TenantContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if TenantIDFromContext(r.Context()) == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "tenant context missing"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBillingRole admits tenant members allowed to request or cancel plans.
func RequireBillingRole(logg *logger.Logger) func(http.Handler) http.Handler {
	return requireRole(logg, "billing role required", enums.MemberRole.CanManageBilling)
}

// RequirePlatformAdmin admits back-office operators only.
func RequirePlatformAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return requireRole(logg, "platform admin required", func(role enums.MemberRole) bool {
		return role == enums.MemberRolePlatformAdmin
	})
}

func requireRole(logg *logger.Logger, message string, allowed func(enums.MemberRole) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed(RoleFromContext(r.Context())) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, message))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
