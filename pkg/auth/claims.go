package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	TenantID *uuid.UUID
	Role     enums.MemberRole
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued by the identity service.
// Platform administrators carry no tenant.
type AccessTokenClaims struct {
	UserID   uuid.UUID        `json:"user_id"`
	TenantID *uuid.UUID       `json:"tenant_id,omitempty"`
	Role     enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}
