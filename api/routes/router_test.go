package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/comercio-backoffice/api/controllers"
	"github.com/angelmondragon/comercio-backoffice/internal/lifecycle"
	"github.com/angelmondragon/comercio-backoffice/internal/plans"
	"github.com/angelmondragon/comercio-backoffice/internal/subscriptions"
	"github.com/angelmondragon/comercio-backoffice/pkg/auth"
	"github.com/angelmondragon/comercio-backoffice/pkg/config"
	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/angelmondragon/comercio-backoffice/pkg/pagination"
)

var testConfig = &config.Config{
	App: config.AppConfig{Env: "test"},
	JWT: config.JWTConfig{Secret: "secret", Issuer: "identity"},
}

type stubSubscriptions struct {
	subscriptions.Service

	actor       subscriptions.Actor
	input       subscriptions.RequestChangeInput
	recordID    uuid.UUID
	reason      string
	history     subscriptions.HistoryQuery
	err         error
	record      *models.SubscriptionRecord
	entitlement *subscriptions.Entitlement
	next        *pagination.Cursor
}

func (s *stubSubscriptions) RequestChange(_ context.Context, actor subscriptions.Actor, input subscriptions.RequestChangeInput) (*models.SubscriptionRecord, error) {
	s.actor, s.input = actor, input
	return s.record, s.err
}

func (s *stubSubscriptions) Cancel(_ context.Context, actor subscriptions.Actor, id uuid.UUID) (*models.SubscriptionRecord, error) {
	s.actor, s.recordID = actor, id
	return s.record, s.err
}

func (s *stubSubscriptions) Verify(_ context.Context, actor subscriptions.Actor, id uuid.UUID) (*models.SubscriptionRecord, error) {
	s.actor, s.recordID = actor, id
	return s.record, s.err
}

func (s *stubSubscriptions) Reject(_ context.Context, actor subscriptions.Actor, id uuid.UUID, reason string) (*models.SubscriptionRecord, error) {
	s.actor, s.recordID, s.reason = actor, id, reason
	return s.record, s.err
}

func (s *stubSubscriptions) Entitlement(_ context.Context, tenantID uuid.UUID) (*subscriptions.Entitlement, error) {
	s.actor.TenantID = tenantID
	return s.entitlement, s.err
}

func (s *stubSubscriptions) History(_ context.Context, q subscriptions.HistoryQuery) ([]models.SubscriptionRecord, *pagination.Cursor, error) {
	s.history = q
	if s.record == nil {
		return nil, s.next, s.err
	}
	return []models.SubscriptionRecord{*s.record}, s.next, s.err
}

type stubPlans struct {
	rows []models.Plan
	err  error
}

func (s stubPlans) List(context.Context, plans.ListQuery) ([]models.Plan, error) {
	return s.rows, s.err
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestRouter(svc *stubSubscriptions, readiness map[string]controllers.Pinger) http.Handler {
	return NewRouter(Params{
		Config:    testConfig,
		Readiness: readiness,
		Plans: stubPlans{rows: []models.Plan{
			{Code: "PRO", Name: "Pro", MonthlyPrice: decimal.NewFromInt(199), AnnualPrice: decimal.NewFromInt(1990), Status: enums.PlanStatusActivo},
			{Code: "BASICO", Name: "Basico", MonthlyPrice: decimal.NewFromInt(99), AnnualPrice: decimal.NewFromInt(990), Status: enums.PlanStatusActivo},
			{Code: "LEGADO", Name: "Legado", MonthlyPrice: decimal.NewFromInt(50), Status: enums.PlanStatusInactivo},
		}},
		Subscriptions: svc,
	})
}

func token(t *testing.T, role enums.MemberRole, tenantID *uuid.UUID) string {
	t.Helper()
	signed, err := auth.MintAccessToken(testConfig.JWT, time.Now(), time.Hour, auth.AccessTokenPayload{
		UserID:   uuid.New(),
		TenantID: tenantID,
		Role:     role,
	})
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, h http.Handler, method, path, bearer, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	var env envelope
	if resp.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	}
	return resp, env
}

func pendingRecord(tenantID uuid.UUID) *models.SubscriptionRecord {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &models.SubscriptionRecord{
		ID:            uuid.New(),
		TenantID:      tenantID,
		PlanCode:      "PRO",
		PlanName:      "Pro",
		PlanPrice:     decimal.NewFromInt(199),
		Cycle:         enums.BillingCycleMensual,
		StartsAt:      &start,
		EndsAt:        &end,
		Amount:        decimal.NewFromInt(199),
		PaymentMethod: enums.PaymentMethodQR,
		Status:        enums.SubscriptionStatusPendiente,
		CreatedAt:     time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestRouter(&stubSubscriptions{}, map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": stubPinger{err: errors.New("dial tcp: refused")},
	})

	resp, _ := do(t, h, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "test", resp.Header().Get("X-Backoffice-Env"))

	resp, env := do(t, h, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeDependency), env.Error.Code)

	h = newTestRouter(&stubSubscriptions{}, map[string]controllers.Pinger{"db": stubPinger{}, "gcs": nil})
	resp, _ = do(t, h, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestTenantRoutesRequireAuthAndTenant(t *testing.T) {
	h := newTestRouter(&stubSubscriptions{}, nil)

	resp, env := do(t, h, http.MethodGet, "/api/v1/plans", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeUnauthorized), env.Error.Code)

	resp, _ = do(t, h, http.MethodGet, "/api/v1/plans", token(t, enums.MemberRolePlatformAdmin, nil), "")
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestPlansListsPurchasableCatalogCheapestFirst(t *testing.T) {
	tenantID := uuid.New()
	h := newTestRouter(&stubSubscriptions{}, nil)

	resp, env := do(t, h, http.MethodGet, "/api/v1/plans", token(t, enums.MemberRoleViewer, &tenantID), "")
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Plans []struct {
			Code         string `json:"code"`
			MonthlyPrice string `json:"monthly_price"`
		} `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Plans, 2)
	assert.Equal(t, "BASICO", body.Plans[0].Code)
	assert.Equal(t, "99.00", body.Plans[0].MonthlyPrice)
	assert.Equal(t, "PRO", body.Plans[1].Code)
}

func TestRequestChangeRequiresBillingRole(t *testing.T) {
	tenantID := uuid.New()
	svc := &stubSubscriptions{record: pendingRecord(tenantID)}
	h := newTestRouter(svc, nil)
	body := `{"plan_code":"pro","ciclo":"MENSUAL","metodo_pago":"QR","comprobante":"proofs/t/1.png"}`

	resp, _ := do(t, h, http.MethodPost, "/api/v1/subscription/records", token(t, enums.MemberRoleCashier, &tenantID), body)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, uuid.Nil, svc.actor.TenantID)

	resp, env := do(t, h, http.MethodPost, "/api/v1/subscription/records", token(t, enums.MemberRoleOwner, &tenantID), body)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, tenantID, svc.actor.TenantID)
	assert.Equal(t, enums.MemberRoleOwner, svc.actor.Role)
	assert.Equal(t, "PRO", svc.input.PlanCode)
	assert.Equal(t, enums.BillingCycleMensual, svc.input.Cycle)
	assert.Equal(t, enums.PaymentMethodQR, svc.input.PaymentMethod)
	assert.Equal(t, "proofs/t/1.png", svc.input.ProofHandle)

	var record map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &record))
	assert.Equal(t, "PENDIENTE", record["estado"])
	assert.Equal(t, "199.00", record["monto"])
	assert.Equal(t, "2024-02-01T00:00:00Z", record["fecha_inicio"])
}

func TestRequestChangeValidatesBody(t *testing.T) {
	tenantID := uuid.New()
	h := newTestRouter(&stubSubscriptions{}, nil)

	resp, env := do(t, h, http.MethodPost, "/api/v1/subscription/records", token(t, enums.MemberRoleManager, &tenantID),
		`{"plan_code":"PRO","ciclo":"SEMANAL","metodo_pago":"EFECTIVO"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), env.Error.Code)
}

func TestLifecycleRejectionsMapToStatusCodes(t *testing.T) {
	tenantID := uuid.New()
	cases := map[pkgerrors.Code]int{
		pkgerrors.CodeDuplicatePendingRequest: http.StatusConflict,
		pkgerrors.CodeNoChangeRequested:       http.StatusConflict,
		pkgerrors.CodeIneligiblePlan:          http.StatusUnprocessableEntity,
		pkgerrors.CodeCatalogPlanInactive:     http.StatusUnprocessableEntity,
		pkgerrors.CodeNoActiveAttachment:      http.StatusBadRequest,
	}
	for code, status := range cases {
		svc := &stubSubscriptions{err: pkgerrors.New(code, "rejected")}
		h := newTestRouter(svc, nil)
		resp, env := do(t, h, http.MethodPost, "/api/v1/subscription/records", token(t, enums.MemberRoleOwner, &tenantID),
			`{"plan_code":"PRO","ciclo":"ANUAL","metodo_pago":"TRANSFERENCIA","comprobante":"p"}`)
		assert.Equal(t, status, resp.Code, code)
		assert.Equal(t, string(code), env.Error.Code)
	}
}

func TestEntitlementAndHistory(t *testing.T) {
	tenantID := uuid.New()
	pending := pendingRecord(tenantID)
	next := &pagination.Cursor{CreatedAt: pending.CreatedAt, ID: pending.ID}
	svc := &stubSubscriptions{
		record: pending,
		next:   next,
		entitlement: &subscriptions.Entitlement{
			TenantID:    tenantID,
			PlanCode:    "GRATIS",
			Fallback:    true,
			Pending:     pending,
			Anomalies:   []lifecycle.Anomaly{{Kind: lifecycle.AnomalyMultiplePending, RecordIDs: []uuid.UUID{pending.ID}}},
			EvaluatedAt: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		},
	}
	h := newTestRouter(svc, nil)
	bearer := token(t, enums.MemberRoleViewer, &tenantID)

	resp, env := do(t, h, http.MethodGet, "/api/v1/subscription", bearer, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var ent map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &ent))
	assert.Equal(t, "GRATIS", ent["plan_code"])
	assert.Equal(t, true, ent["fallback"])
	assert.Nil(t, ent["effective"])
	assert.NotNil(t, ent["pending"])
	assert.Len(t, ent["anomalies"], 1)

	cursor := pagination.EncodeCursor(pagination.Cursor{CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ID: uuid.New()})
	resp, env = do(t, h, http.MethodGet, "/api/v1/subscription/records?limit=10&cursor="+cursor, bearer, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, tenantID, svc.history.TenantID)
	assert.Equal(t, 10, svc.history.Limit)
	assert.Equal(t, cursor, svc.history.Cursor)
	var hist struct {
		Records    []map[string]any `json:"records"`
		NextCursor string           `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hist))
	assert.Len(t, hist.Records, 1)
	assert.Equal(t, pagination.EncodeCursor(*next), hist.NextCursor)

	resp, _ = do(t, h, http.MethodGet, "/api/v1/subscription/records?limit=1000", bearer, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp, _ = do(t, h, http.MethodGet, "/api/v1/subscription/records?cursor=abc", bearer, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCancelRoute(t *testing.T) {
	tenantID := uuid.New()
	record := pendingRecord(tenantID)
	record.Status = enums.SubscriptionStatusCancelada
	svc := &stubSubscriptions{record: record}
	h := newTestRouter(svc, nil)
	bearer := token(t, enums.MemberRoleOwner, &tenantID)

	resp, _ := do(t, h, http.MethodPost, "/api/v1/subscription/records/not-a-uuid/cancel", bearer, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp, env := do(t, h, http.MethodPost, "/api/v1/subscription/records/"+record.ID.String()+"/cancel", bearer, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, record.ID, svc.recordID)
	assert.Contains(t, string(env.Data), `"estado":"CANCELADA"`)
}

func TestAdminRoutesRequirePlatformAdmin(t *testing.T) {
	tenantID := uuid.New()
	record := pendingRecord(tenantID)
	svc := &stubSubscriptions{record: record}
	h := newTestRouter(svc, nil)
	path := "/api/admin/v1/subscription-records/" + record.ID.String()

	resp, _ := do(t, h, http.MethodPost, path+"/verify", token(t, enums.MemberRoleOwner, &tenantID), "")
	assert.Equal(t, http.StatusForbidden, resp.Code)

	admin := token(t, enums.MemberRolePlatformAdmin, nil)
	resp, _ = do(t, h, http.MethodPost, path+"/verify", admin, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, record.ID, svc.recordID)
	assert.Equal(t, uuid.Nil, svc.actor.TenantID)
	assert.Equal(t, enums.MemberRolePlatformAdmin, svc.actor.Role)

	resp, env := do(t, h, http.MethodPost, path+"/reject", admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), env.Error.Code)

	resp, _ = do(t, h, http.MethodPost, path+"/reject", admin, `{"motivo_rechazo":"comprobante ilegible"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "comprobante ilegible", svc.reason)
}
