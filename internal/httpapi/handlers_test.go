package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kassa/backend/internal/auth"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/events"
	"kassa/backend/internal/licensing"
	"kassa/backend/internal/observability"
	"kassa/backend/internal/service"
	"kassa/backend/internal/store"
)

const testManagerPIN = "482913"

// newTestHandler wires a seeded store, real auth and a real service so
// handler tests exercise the complete request path.
func newTestHandler(t *testing.T, plan string) http.Handler {
	t.Helper()
	s := store.NewSeeded()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := auth.NewManager("test-secret-key", time.Hour, s)
	err := manager.Bootstrap(context.Background(), []auth.NewUser{
		{Username: "admin", Password: "admin123", Role: domain.RoleAdmin},
		{Username: "manager", Password: "manager123", Role: domain.RoleManager, PIN: testManagerPIN},
		{Username: "cashier", Password: "cashier123", Role: domain.RoleCashier},
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	gate, err := licensing.NewGate(plan)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	bus := events.NewBus(logger, 0)
	metrics := observability.NewMetrics()
	metrics.Observe(bus)
	svc, err := service.New(service.Options{Store: s, Auth: manager, Gate: gate, Bus: bus, Logger: logger})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return New(Options{Service: svc, Metrics: metrics, Logger: logger, AllowedOrigin: "http://localhost:5173"}).Handler()
}

func do(t *testing.T, h http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, username string, password string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": username, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (%s)", username, rec.Code, rec.Body.String())
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("expected access_token in login response")
	}
	return body.AccessToken
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	h := newTestHandler(t, licensing.PlanPro)
	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["ok"] != true || body["plan"] != "pro" {
		t.Fatalf("unexpected health body %v", body)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff, got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected CORS origin %q", got)
	}
}

func TestLogin(t *testing.T) {
	h := newTestHandler(t, licensing.PlanPro)
	login(t, h, "admin", "admin123")

	rec := do(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "password": "wrong-pass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing password, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "password": "x", "extra": "y"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	h := newTestHandler(t, licensing.PlanPro)
	for i := 0; i < 6; i++ {
		rec := do(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "password": "wrong-pass"})
		if i < 5 && rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, rec.Code)
		}
		if i == 5 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", rec.Code)
		}
	}
}

func TestBodyTooLargeRejected(t *testing.T) {
	h := newTestHandler(t, licensing.PlanPro)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, strings.Repeat("a", (1<<20)+1024))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", rec.Code)
	}
}

func TestRoutesRequireAuthAndRole(t *testing.T) {
	h := newTestHandler(t, licensing.PlanPro)
	if rec := do(t, h, http.MethodGet, "/api/v1/products", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/products", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}

	cashier := login(t, h, "cashier", "cashier123")
	rec := do(t, h, http.MethodGet, "/api/v1/products", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for products, got %d", rec.Code)
	}
	if products, _ := decodeBody(t, rec)["products"].([]any); len(products) != 5 {
		t.Fatalf("expected 5 seeded products, got %d", len(products))
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/coupons", cashier, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on coupons, got %d", rec.Code)
	}
	manager := login(t, h, "manager", "manager123")
	if rec := do(t, h, http.MethodGet, "/api/v1/coupons", manager, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for manager on coupons, got %d", rec.Code)
	}
}

func TestSaleRefundAndCloseFlow(t *testing.T) {
	h := newTestHandler(t, licensing.PlanPro)
	cashier := login(t, h, "cashier", "cashier123")

	sale := map[string]any{
		"cart":     map[string]any{"lines": []map[string]any{{"cart_id": "a", "product_id": "prod-coffee", "qty": 2}}},
		"payments": []map[string]any{{"method": "CASH", "amount": "20", "currency": "CUP"}},
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/sales", cashier, sale); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without open shift, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/v1/shifts/open", cashier, map[string]any{"start_cash": map[string]string{"CUP": "100"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/v1/sales", cashier, sale)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	committed := decodeBody(t, rec)["sale"].(map[string]any)
	saleID := committed["id"].(string)
	if committed["ticket_number"] != "000001" {
		t.Fatalf("unexpected ticket %v", committed["ticket_number"])
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/sales/"+saleID, cashier, nil); rec.Code != http.StatusOK {
		t.Fatalf("get sale: expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/sales/sale-missing", cashier, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing sale: expected 404, got %d", rec.Code)
	}

	refund := map[string]any{"lines": []map[string]any{{"cart_id": "a", "qty": 1}}, "source": "CASHBOX"}
	if rec := do(t, h, http.MethodPost, "/api/v1/sales/"+saleID+"/refunds", cashier, refund); rec.Code != http.StatusForbidden {
		t.Fatalf("refund without pin: expected 403, got %d", rec.Code)
	}
	refund["pin"] = testManagerPIN
	if rec := do(t, h, http.MethodPost, "/api/v1/sales/"+saleID+"/refunds", cashier, refund); rec.Code != http.StatusCreated {
		t.Fatalf("refund: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/orders/000001/call", cashier, nil); rec.Code != http.StatusOK {
		t.Fatalf("call order: expected 200, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/orders/called", cashier, nil)
	if orders, _ := decodeBody(t, rec)["orders"].([]any); len(orders) != 1 {
		t.Fatalf("expected one called order, got %d", len(orders))
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/shifts/closing", cashier, nil); rec.Code != http.StatusOK {
		t.Fatalf("begin closing: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	short := map[string]any{"counts": []map[string]any{{"method": "CASH", "currency": "CUP", "amount": "100"}}, "pin": testManagerPIN}
	rec = do(t, h, http.MethodPost, "/api/v1/shifts/close", cashier, short)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("short count: expected 422, got %d", rec.Code)
	}
	if buckets, _ := decodeBody(t, rec)["buckets"].([]any); len(buckets) != 1 {
		t.Fatalf("expected one mismatched bucket, got %d", len(buckets))
	}

	// 100 start + 20 sale - 10 refund.
	exact := map[string]any{"counts": []map[string]any{{"method": "CASH", "currency": "CUP", "amount": "110"}}, "pin": testManagerPIN}
	rec = do(t, h, http.MethodPost, "/api/v1/shifts/close", cashier, exact)
	if rec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if status := decodeBody(t, rec)["status"]; status != string(domain.ShiftClosed) {
		t.Fatalf("expected CLOSED, got %v", status)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/shifts/active", cashier, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("active after close: expected 422, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), `kassa_sales_total{currency="CUP"} 1`) {
		t.Fatalf("expected sales counter in metrics output")
	}
	if !strings.Contains(rec.Body.String(), "kassa_shift_close_blocked_total 1") {
		t.Fatalf("expected blocked close counter in metrics output")
	}
}

func TestInsufficientCashMapsToConflict(t *testing.T) {
	h := newTestHandler(t, licensing.PlanPro)
	manager := login(t, h, "manager", "manager123")
	if rec := do(t, h, http.MethodPost, "/api/v1/shifts/open", manager, map[string]any{}); rec.Code != http.StatusCreated {
		t.Fatalf("open shift: expected 201, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/ledger/movements", manager, map[string]any{"type": "WITHDRAWAL", "amount": "5", "currency": "CUP"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestBasicPlanFeatureGates(t *testing.T) {
	h := newTestHandler(t, licensing.PlanBasic)
	manager := login(t, h, "manager", "manager123")

	coupon := map[string]any{
		"code": "SPRING", "type": "PERCENTAGE", "value": "5", "target_type": "GENERAL",
		"start_date": "2026-01-01T00:00:00Z", "end_date": "2027-01-01T00:00:00Z",
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/coupons", manager, coupon); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("coupon on basic plan: expected 422, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/audit-logs", manager, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("audit on basic plan: expected 422, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/api/v1/currencies", manager, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("currencies: expected 200, got %d", rec.Code)
	}
	currencies, _ := decodeBody(t, rec)["currencies"].([]any)
	locked := 0
	for _, c := range currencies {
		if c.(map[string]any)["locked"] == true {
			locked++
		}
	}
	if locked != 1 {
		t.Fatalf("expected one locked currency, got %d", locked)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrEmptyCart, http.StatusUnprocessableEntity},
		{domain.ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("%w: sale x", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrInsufficientCash, http.StatusConflict},
		{domain.ErrInvalidPIN, http.StatusForbidden},
		{fmt.Errorf("%w: disk", domain.ErrSystem), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
