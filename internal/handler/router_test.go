package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/handler"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/cache"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/memory"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/rabbitmq"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/service"
)

const (
	testSecret = "test-secret"
	testAPIKey = "internal-key"
)

func newServices(t *testing.T) handler.Services {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := memory.NewStore()

	approvals := service.NewApprovalCoordinator(store, time.Minute, metrics, logger)
	t.Cleanup(approvals.Stop)
	guardians := service.NewGuardianRegistry(store, approvals, logger)
	safe := service.NewSafeAccountRegistry(store, logger)
	limitCache := cache.New[*domain.LimitConfig](time.Minute)
	t.Cleanup(limitCache.Close)
	limits := service.NewLimitService(store, limitCache, metrics, logger)

	checks := service.DefaultRiskChecks(
		service.NewAccountValidityCheck(nil, []string{"666:0000"}),
		service.NewFraudPatternCheck(nil),
		service.NewAnomalyCheck(3, 30*24*time.Hour, 0),
	)
	risk := service.NewRiskAssessor(checks, time.Second, resilience.NewBulkhead(4), metrics, logger)

	wf := service.NewTransferWorkflow(service.TransferWorkflowDeps{
		Limits:       limits,
		SafeAccounts: safe,
		Guardians:    guardians,
		Risk:         risk,
		Approvals:    approvals,
		Spend:        memory.NewSpendTracker(),
		History:      service.NewTransferHistory(store),
		Transfers:    store,
		Events:       rabbitmq.NewLogPublisher(metrics, logger),
		Metrics:      metrics,
		Logger:       logger,
		CoolingOff:   time.Hour,
	})

	return handler.Services{
		Transfers:    wf,
		Guardians:    guardians,
		Limits:       limits,
		SafeAccounts: safe,
		Approvals:    approvals,
	}
}

func newTestRouter(t *testing.T, cfg handler.RouterConfig) http.Handler {
	t.Helper()
	return handler.NewRouter(newServices(t), cfg, observability.NewMetrics(), zap.NewNop())
}

func token(t *testing.T, subject string) string {
	t.Helper()
	claims := handler.AccessClaims{
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestOperationalEndpoints(t *testing.T) {
	router := newTestRouter(t, handler.RouterConfig{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/ping", "/v1/metrics/workflow"} {
		rec := do(t, router, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestReadyz_DegradedDependency(t *testing.T) {
	router := newTestRouter(t, handler.RouterConfig{
		Dependencies: []handler.DependencyCheck{{
			Name:  "postgres",
			Check: func(context.Context) error { return errors.New("down") },
		}},
	})

	if rec := do(t, router, http.MethodGet, "/readyz", nil, nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	rec := do(t, router, http.MethodGet, "/healthz", nil, nil)
	if got := decode[domain.HealthStatus](t, rec); got.Status != "degraded" {
		t.Errorf("expected degraded, got %s", got.Status)
	}
}

func TestJWTAuth(t *testing.T) {
	router := newTestRouter(t, handler.RouterConfig{JWTSecret: testSecret})

	if rec := do(t, router, http.MethodGet, "/v1/customers/holder-1/limits", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}

	other := map[string]string{"Authorization": "Bearer " + token(t, "holder-2")}
	if rec := do(t, router, http.MethodGet, "/v1/customers/holder-1/limits", nil, other); rec.Code != http.StatusForbidden {
		t.Errorf("foreign token: expected 403, got %d", rec.Code)
	}

	own := map[string]string{"Authorization": "Bearer " + token(t, "holder-1")}
	rec := do(t, router, http.MethodGet, "/v1/customers/holder-1/limits", nil, own)
	if rec.Code != http.StatusOK {
		t.Fatalf("own token: expected 200, got %d", rec.Code)
	}
	if cfg := decode[domain.LimitConfig](t, rec); cfg.BaseLimit != domain.DefaultLimitConfig("holder-1").BaseLimit {
		t.Errorf("expected default limits, got %+v", cfg)
	}
}

func TestInternalAPIKey(t *testing.T) {
	router := newTestRouter(t, handler.RouterConfig{InternalAPIKey: testAPIKey})

	rec := do(t, router, http.MethodPost, "/v1/approvals/r-1/responses", map[string]string{"guardianId": "g", "decision": "approve"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/v1/approvals/r-1", nil, map[string]string{handler.InternalAPIKeyHeader: testAPIKey})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown request, got %d", rec.Code)
	}
}

func TestTransferApprovalFlow(t *testing.T) {
	router := newTestRouter(t, handler.RouterConfig{})

	rec := do(t, router, http.MethodPost, "/v1/customers/holder-1/guardians", domain.AddGuardianRequest{
		Name: "Ana", Relationship: domain.RelationshipChild, Phone: "+55 11 91234-5678",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add guardian: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	guardian := decode[domain.Guardian](t, rec)

	// first transfer to a new recipient needs approval
	rec = do(t, router, http.MethodPost, "/v1/customers/holder-1/transfers", domain.TransferInput{
		Bank: "001", AccountNumber: "12345-6", Amount: 1000, RecipientName: "Joao",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	transfer := decode[domain.TransferRecord](t, rec)
	if transfer.State != domain.StatePendingApproval || transfer.ApprovalRequestID == "" {
		t.Fatalf("expected pending approval, got %+v", transfer)
	}

	// a stranger cannot approve
	rec = do(t, router, http.MethodPost, "/v1/approvals/"+transfer.ApprovalRequestID+"/responses",
		map[string]string{"guardianId": "stranger", "decision": "approve"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("unknown guardian: expected 403, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/approvals/"+transfer.ApprovalRequestID+"/responses",
		map[string]string{"guardianId": guardian.ID, "decision": "approve", "method": "sms"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if view := decode[domain.ApprovalStatusView](t, rec); view.Status != domain.ApprovalApproved {
		t.Errorf("expected approved, got %s", view.Status)
	}

	rec = do(t, router, http.MethodGet, "/v1/customers/holder-1/transfers/"+transfer.DraftID, nil, nil)
	if got := decode[domain.TransferRecord](t, rec); got.State != domain.StateExecuted {
		t.Errorf("expected executed, got %s", got.State)
	}

	// executed transfers cannot be cancelled
	rec = do(t, router, http.MethodPost, "/v1/customers/holder-1/transfers/"+transfer.DraftID+"/cancel", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel executed: expected 409, got %d", rec.Code)
	}

	// other holders do not see it
	rec = do(t, router, http.MethodGet, "/v1/customers/holder-2/transfers/"+transfer.DraftID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign transfer: expected 404, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/v1/customers/holder-1/transfers?state=executed", nil, nil)
	if list := decode[domain.ListResponse[domain.TransferRecord]](t, rec); list.Total != 1 {
		t.Errorf("expected 1 executed transfer, got %d", list.Total)
	}
}

func TestBlockedTransferOverrideCoolingOff(t *testing.T) {
	router := newTestRouter(t, handler.RouterConfig{})

	rec := do(t, router, http.MethodPost, "/v1/customers/holder-1/transfers", domain.TransferInput{
		Bank: "666", AccountNumber: "0000", Amount: 1000,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	transfer := decode[domain.TransferRecord](t, rec)
	if transfer.State != domain.StateBlocked {
		t.Fatalf("expected blocked, got %s", transfer.State)
	}

	rec = do(t, router, http.MethodPost, "/v1/customers/holder-1/transfers/"+transfer.DraftID+"/override",
		domain.OverrideRequest{AcknowledgedAssessmentID: "wrong"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong ack: expected 400, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/customers/holder-1/transfers/"+transfer.DraftID+"/override",
		domain.OverrideRequest{AcknowledgedAssessmentID: transfer.RiskAssessment.ID}, nil)
	if rec.Code != http.StatusTooEarly {
		t.Errorf("cooling-off: expected 425, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestValidationErrors(t *testing.T) {
	router := newTestRouter(t, handler.RouterConfig{})

	rec := do(t, router, http.MethodPost, "/v1/customers/holder-1/transfers", map[string]any{"bank": "001", "amount": -5, "accountNumber": "1"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative amount: expected 400, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPut, "/v1/customers/holder-1/limits", map[string]any{"baseLimit": -1}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: expected 400, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPut, "/v1/customers/holder-1/guardians/g-1/active", map[string]any{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing active flag: expected 400, got %d", rec.Code)
	}
}

func TestSafeAccountsCRUD(t *testing.T) {
	router := newTestRouter(t, handler.RouterConfig{})

	rec := do(t, router, http.MethodPost, "/v1/customers/holder-1/safe-accounts", domain.SafeAccount{
		BankName: "001", AccountNumber: "777", HolderName: "Maria", Relationship: domain.RelationshipSpouse,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	acct := decode[domain.SafeAccount](t, rec)

	rec = do(t, router, http.MethodGet, "/v1/customers/holder-1/safe-accounts", nil, nil)
	if list := decode[[]domain.SafeAccount](t, rec); len(list) != 1 {
		t.Fatalf("expected 1 safe account, got %d", len(list))
	}

	rec = do(t, router, http.MethodDelete, "/v1/customers/holder-2/safe-accounts/"+acct.ID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign delete: expected 404, got %d", rec.Code)
	}
	rec = do(t, router, http.MethodDelete, "/v1/customers/holder-1/safe-accounts/"+acct.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", rec.Code)
	}
}
