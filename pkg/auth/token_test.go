package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/comercio-backoffice/pkg/config"
	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "backoffice"}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()
	userID := uuid.New()
	tenantID := uuid.New()

	token, err := MintAccessToken(cfg, now, 30*time.Minute, AccessTokenPayload{
		UserID:   userID,
		TenantID: &tenantID,
		Role:     enums.MemberRoleOwner,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, claims.UserID)
	}
	if claims.TenantID == nil || *claims.TenantID != tenantID {
		t.Fatalf("tenant id not preserved")
	}
	if claims.Role != enums.MemberRoleOwner {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti to be generated")
	}
}

func TestMintRequiresTenantForTenantRoles(t *testing.T) {
	cfg := testJWTConfig()
	if _, err := MintAccessToken(cfg, time.Now(), time.Minute, AccessTokenPayload{UserID: uuid.New(), Role: enums.MemberRoleManager}); err == nil {
		t.Fatal("expected missing tenant to fail")
	}
	if _, err := MintAccessToken(cfg, time.Now(), time.Minute, AccessTokenPayload{UserID: uuid.New(), Role: enums.MemberRolePlatformAdmin}); err != nil {
		t.Fatalf("platform admin token should not need a tenant: %v", err)
	}
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	cfg := testJWTConfig()
	tenantID := uuid.New()
	payload := AccessTokenPayload{UserID: uuid.New(), TenantID: &tenantID, Role: enums.MemberRoleViewer}

	expired, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), time.Hour, payload)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, expired); err == nil {
		t.Fatal("expected expired token to fail")
	}

	other := cfg
	other.Issuer = "someone-else"
	foreign, err := MintAccessToken(other, time.Now(), time.Hour, payload)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, foreign); err == nil {
		t.Fatal("expected issuer mismatch to fail")
	}

	wrongKey := cfg
	wrongKey.Secret = "different"
	if _, err := ParseAccessToken(wrongKey, foreign); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}
}
