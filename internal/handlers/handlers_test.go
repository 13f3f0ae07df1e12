package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/config"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/database/dbtest"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/dto"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/plans"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/routes"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
)

const (
	testAdminToken    = "admin-token"
	testWebhookSecret = "whsec_test"
	testPlansJSON     = `{"plans":[
  {"plan_id":"trial","name":"Trial","monthly_credits":0,"features":{"ai_chat":"true","max_listings":"10"}},
  {"plan_id":"comped","name":"Complimentary","monthly_credits":0,"features":{"ai_chat":"true"}},
  {"plan_id":"starter","name":"Starter","monthly_credits":200,"stripe_price_ids":["price_starter_monthly"],"features":{"ai_chat":"true"}}
]}`
)

type testServer struct {
	app *fiber.App
	db  *gorm.DB
	svc *services.Container
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := dbtest.Open(t)
	registry, err := plans.Parse([]byte(testPlansJSON))
	require.NoError(t, err)

	cfg := &config.Config{
		JWTSecret:           "test-secret",
		JWTAccessExpiry:     time.Hour,
		StripeWebhookSecret: testWebhookSecret,
		AdminToken:          testAdminToken,
		TrialDays:           14,
		TrialCredits:        50,
		GracePeriodDays:     30,
	}
	svc := services.NewContainer(cfg, db, registry)

	app := fiber.New()
	routes.Setup(app, cfg, svc.Identity, routes.Handlers{
		Health:   handlers.NewHealthHandler(db, registry),
		Webhook:  handlers.NewWebhookHandler(svc.Ingestor),
		Signup:   handlers.NewSignupHandler(svc.Provisioning, svc.Identity),
		Billing:  handlers.NewBillingHandler(svc.Billing),
		Features: handlers.NewFeatureHandler(svc.Features, svc.Lifecycle),
		Admin:    handlers.NewAdminHandler(svc.Billing, svc.Ledger, svc.Lifecycle, svc.Reconciler),
	})
	return &testServer{app: app, db: db, svc: svc}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (s *testServer) signup(t *testing.T, name, email string) dto.SignupResponse {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/signup", dto.SignupRequest{
		BusinessName:  name,
		OwnerEmail:    email,
		OwnerPassword: "correct-horse",
	}, nil)
	require.Equal(t, http.StatusCreated, status, string(body))

	var resp dto.SignupResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

var adminHeaders = map[string]string{"X-Admin-Token": testAdminToken}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, status)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "ok", resp.DB)
	assert.Equal(t, 3, resp.PlanCount)
}

func TestSignupAndCollaboratorAPI(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "Sunset Realty", "owner@sunset.example")
	assert.Equal(t, "sunset-realty", signup.Slug)
	auth := bearer(signup.AccessToken)

	status, body := s.do(t, http.MethodGet, "/api/billing/balance", nil, auth)
	require.Equal(t, http.StatusOK, status)
	var balance dto.BalanceResponse
	require.NoError(t, json.Unmarshal(body, &balance))
	assert.Equal(t, signup.OrganizationID, balance.OrganizationID)
	assert.Equal(t, int64(50), balance.Balance)

	status, body = s.do(t, http.MethodPost, "/api/billing/consume", dto.ConsumeRequest{FeatureType: "ai_query", CreditCost: 20}, auth)
	require.Equal(t, http.StatusOK, status, string(body))
	var consumed dto.ConsumeResponse
	require.NoError(t, json.Unmarshal(body, &consumed))
	assert.Equal(t, int64(30), consumed.Balance)

	status, body = s.do(t, http.MethodPost, "/api/billing/consume", dto.ConsumeRequest{FeatureType: "ai_query", CreditCost: 100}, auth)
	assert.Equal(t, http.StatusPaymentRequired, status)
	var errResp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "insufficient_balance", errResp.Code)

	status, _ = s.do(t, http.MethodPost, "/api/billing/consume", dto.ConsumeRequest{FeatureType: "ai_query"}, auth)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodGet, "/api/billing/ledger?limit=10", nil, auth)
	require.Equal(t, http.StatusOK, status)
	var ledger dto.LedgerResponse
	require.NoError(t, json.Unmarshal(body, &ledger))
	assert.Equal(t, int64(2), ledger.Total)
	assert.Equal(t, 10, ledger.Limit)

	status, body = s.do(t, http.MethodGet, "/api/billing/status", nil, auth)
	require.Equal(t, http.StatusOK, status)
	var view services.AccountStatusView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, models.AccountStatusTrial, view.Status)
	assert.True(t, view.SpendingEnabled)

	status, body = s.do(t, http.MethodGet, "/api/features", nil, auth)
	require.Equal(t, http.StatusOK, status)
	var features map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &features))
	assert.Equal(t, true, features["ai_chat"])
	assert.Equal(t, float64(10), features["max_listings"])
}

func TestSpendingDisabledIsForbidden(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "Lapsed", "owner@lapsed.example")

	require.NoError(t, s.db.Model(&models.Organization{}).
		Where("id = ?", signup.OrganizationID).
		Updates(map[string]interface{}{"account_status": models.AccountStatusTrialExpired, "credit_spending_enabled": false}).Error)

	status, body := s.do(t, http.MethodPost, "/api/billing/consume", dto.ConsumeRequest{FeatureType: "ai_query", CreditCost: 1}, bearer(signup.AccessToken))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, string(body), "spending_disabled")
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "First", "dup@example.com")

	status, _ := s.do(t, http.MethodPost, "/api/signup", dto.SignupRequest{BusinessName: "Second", OwnerEmail: "dup@example.com"}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(t, http.MethodPost, "/api/signup", dto.SignupRequest{BusinessName: "Third", OwnerEmail: "not-an-email"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "Harbor Homes", "owner@harbor.example")

	status, body := s.do(t, http.MethodPost, "/api/auth/login", dto.LoginRequest{Email: "Owner@Harbor.example", Password: "correct-horse"}, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var login dto.LoginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	assert.Equal(t, signup.OwnerID, login.UserID)

	status, _ = s.do(t, http.MethodGet, "/api/billing/balance", nil, bearer(login.AccessToken))
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/api/auth/login", dto.LoginRequest{Email: "owner@harbor.example", Password: "wrong-password"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCollaboratorAPIRequiresToken(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/api/billing/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, "/api/billing/balance", nil, bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminAccess(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "Owner Only", "owner@only.example")

	status, _ := s.do(t, http.MethodPost, "/api/admin/sweeps/trials", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodPost, "/api/admin/sweeps/trials", nil, bearer(signup.AccessToken))
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPost, "/api/admin/sweeps/trials", nil, map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := s.do(t, http.MethodPost, "/api/admin/sweeps/trials", nil, adminHeaders)
	require.Equal(t, http.StatusOK, status, string(body))
	var sweep dto.SweepResponse
	require.NoError(t, json.Unmarshal(body, &sweep))
	assert.Equal(t, "trials", sweep.Sweep)
	assert.Zero(t, sweep.Transitioned)
}

func TestAdminGrantRefundAndVerify(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "Granted", "owner@granted.example")
	base := fmt.Sprintf("/api/admin/organizations/%s", signup.OrganizationID)

	status, body := s.do(t, http.MethodPost, base+"/grants", dto.GrantRequest{Amount: 100, IdempotencyKey: "goodwill-1"}, adminHeaders)
	require.Equal(t, http.StatusCreated, status, string(body))
	var grant dto.LedgerEntryResponse
	require.NoError(t, json.Unmarshal(body, &grant))
	assert.Equal(t, int64(100), grant.Amount)

	status, _ = s.do(t, http.MethodPost, base+"/grants", dto.GrantRequest{Amount: 0}, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, status)

	refundPath := fmt.Sprintf("%s/entries/%s/refund", base, grant.ID)
	status, body = s.do(t, http.MethodPost, refundPath, dto.RefundRequest{}, adminHeaders)
	require.Equal(t, http.StatusOK, status, string(body))
	var refund dto.LedgerEntryResponse
	require.NoError(t, json.Unmarshal(body, &refund))
	assert.Equal(t, int64(-100), refund.Amount)
	assert.Equal(t, string(models.LedgerActionRefund), refund.Action)

	status, body = s.do(t, http.MethodPost, refundPath, dto.RefundRequest{Reason: "chargeback"}, adminHeaders)
	require.Equal(t, http.StatusOK, status)
	var again dto.LedgerEntryResponse
	require.NoError(t, json.Unmarshal(body, &again))
	assert.Equal(t, refund.ID, again.ID, "a grant is compensated once")

	status, body = s.do(t, http.MethodGet, base+"/ledger/verify", nil, adminHeaders)
	require.Equal(t, http.StatusOK, status)
	var check services.ProjectionCheck
	require.NoError(t, json.Unmarshal(body, &check))
	assert.True(t, check.Consistent)
	assert.Equal(t, int64(50), check.LedgerSum)

	status, body = s.do(t, http.MethodGet, base+"/lifecycle", nil, adminHeaders)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"triggered_by":"signup"`)

	status, _ = s.do(t, http.MethodPost, "/api/admin/organizations/not-a-uuid/grants", dto.GrantRequest{Amount: 5}, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/api/admin/organizations/00000000-0000-0000-0000-000000000001/lifecycle", nil, adminHeaders)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminFeatures(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "Flags", "owner@flags.example")
	path := fmt.Sprintf("/api/admin/organizations/%s/features/max_listings", signup.OrganizationID)

	status, body := s.do(t, http.MethodPut, path, dto.FeatureRequest{Value: "25", Type: "int"}, adminHeaders)
	require.Equal(t, http.StatusOK, status, string(body))

	status, _ = s.do(t, http.MethodPut, path, dto.FeatureRequest{Value: "lots", Type: "int"}, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodGet, "/api/features", nil, bearer(signup.AccessToken))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"max_listings":25`)

	status, _ = s.do(t, http.MethodDelete, path, nil, adminHeaders)
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodDelete, path, nil, adminHeaders)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminReconcile(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/api/admin/reconcile", nil, adminHeaders)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"resolved":0,"failed":0}`, string(body))

	status, body = s.do(t, http.MethodPost, "/api/admin/sweeps/grace-periods", nil, adminHeaders)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"sweep":"grace_periods"`)
}

func signedWebhook(t *testing.T, payload string) (string, map[string]string) {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return string(signed.Payload), map[string]string{
		"Stripe-Signature": signed.Header,
		"Content-Type":     "application/json",
	}
}

func (s *testServer) post(t *testing.T, path, raw string, headers map[string]string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(raw))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestStripeWebhook(t *testing.T) {
	s := newTestServer(t)
	payload := `{"id":"evt_unknown","object":"event","type":"customer.created","created":1767225600,"data":{"object":{"id":"cus_1"}}}`

	status, _ := s.post(t, "/api/webhooks/stripe", payload, map[string]string{"Stripe-Signature": "t=1,v1=bad"})
	assert.Equal(t, http.StatusUnauthorized, status)

	raw, headers := signedWebhook(t, payload)
	status, body := s.post(t, "/api/webhooks/stripe", raw, headers)
	require.Equal(t, http.StatusOK, status, string(body))
	var first dto.WebhookReceivedResponse
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.Received)
	assert.False(t, first.Duplicate)

	status, body = s.post(t, "/api/webhooks/stripe", raw, headers)
	require.Equal(t, http.StatusOK, status)
	var second dto.WebhookReceivedResponse
	require.NoError(t, json.Unmarshal(body, &second))
	assert.True(t, second.Duplicate)
}

func TestStripeWebhookDispatchFailureIsQueued(t *testing.T) {
	s := newTestServer(t)
	payload := `{"id":"evt_orphan","object":"event","type":"invoice.payment_failed","created":1767225600,
		"data":{"object":{"id":"in_1","customer":"cus_unknown"}}}`

	raw, headers := signedWebhook(t, payload)
	status, body := s.post(t, "/api/webhooks/stripe", raw, headers)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, string(body), "dispatch_failed")

	var failures int64
	require.NoError(t, s.db.Model(&models.EventFailure{}).Count(&failures).Error)
	assert.Equal(t, int64(1), failures)
}
