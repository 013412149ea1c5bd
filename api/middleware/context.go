package middleware

import (
	"context"

	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
	"github.com/google/uuid"
)

type contextKey string

const (
	ctxUserID   contextKey = "user_id"
	ctxRole     contextKey = "actor_role"
	ctxTenantID contextKey = "tenant_id"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.MemberRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.MemberRole); ok {
		return v
	}
	return ""
}

func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxTenantID).(string); ok {
		return v
	}
	return ""
}

// WithActor seeds the caller identity the way Auth does. Tests and internal
// callers use it to skip token parsing.
func WithActor(ctx context.Context, userID uuid.UUID, role enums.MemberRole, tenantID *uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID.String())
	ctx = context.WithValue(ctx, ctxRole, role)
	if tenantID != nil {
		ctx = context.WithValue(ctx, ctxTenantID, tenantID.String())
	}
	return ctx
}
