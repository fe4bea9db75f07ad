package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"ferrepos/internal/cache"
	"ferrepos/internal/receipt"
	"ferrepos/internal/service"
	"ferrepos/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager
// and real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	gen := receipt.NewGenerator(receipt.StoreInfo{Name: "FERRETERIA TEST"})
	svc := service.New(repo, gen, cache.NoopReceiptCache{}, time.Hour, zap.NewNop())
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", zap.NewNop())
}

func loginToken(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d (%s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("no access token in login response")
	}
	return token
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf body: %v", err)
	}
	token, _ := body["csrf_token"].(string)
	if token == "" {
		t.Fatalf("no csrf token in response")
	}
	return token
}

func authedJSONRequest(t *testing.T, handler http.Handler, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	handler := newTestAPI(t).Handler()

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "badpass"})
	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", last)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestMutatingRequestRequiresCSRF(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, "", map[string]any{
		"payment_method": "cash",
		"lines":          []map[string]any{{"product_id": 1, "qty": 1}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSaleCommitAndReceiptFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrf, map[string]any{
		"payment_method": "cash",
		"lines": []map[string]any{
			{"product_id": 1, "qty": 2},
			{"product_id": 10, "qty": 5},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Sale struct {
			SaleID        int64  `json:"sale_id"`
			InvoiceNumber string `json:"invoice_number"`
			TotalCents    int64  `json:"total_cents"`
			ItemCount     int    `json:"item_count"`
			Duplicate     bool   `json:"duplicate"`
		} `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	// 2 x 85000 + 5 x 12500 from the seed catalog.
	if body.Sale.TotalCents != 232500 {
		t.Fatalf("expected total 232500, got %d", body.Sale.TotalCents)
	}
	if body.Sale.ItemCount != 7 {
		t.Fatalf("expected item count 7, got %d", body.Sale.ItemCount)
	}
	if !strings.HasPrefix(body.Sale.InvoiceNumber, "FAC-") {
		t.Fatalf("expected FAC- invoice, got %q", body.Sale.InvoiceNumber)
	}

	receiptReq := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/sales/%d/receipt", body.Sale.SaleID), nil)
	receiptReq.Header.Set("Authorization", "Bearer "+token)
	receiptRec := httptest.NewRecorder()
	handler.ServeHTTP(receiptRec, receiptReq)

	if receiptRec.Code != http.StatusOK {
		t.Fatalf("receipt fetch failed: %d", receiptRec.Code)
	}
	if ct := receiptRec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain receipt, got %q", ct)
	}
	ticket := receiptRec.Body.String()
	if !strings.Contains(ticket, body.Sale.InvoiceNumber) {
		t.Fatalf("receipt missing invoice number")
	}
	if !strings.Contains(ticket, "Consumidor Final") {
		t.Fatalf("walk-in receipt missing Consumidor Final")
	}
}

func TestSaleCommitInsufficientStock(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	// Seed product 12 (Candado 40mm) has stock 12.
	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrf, map[string]any{
		"payment_method": "cash",
		"lines":          []map[string]any{{"product_id": 12, "qty": 13}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["available"] != float64(12) || body["requested"] != float64(13) {
		t.Fatalf("expected available=12 requested=13, got %v", body)
	}
}

func TestSaleCommitEmptyCart(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrf, map[string]any{
		"payment_method": "cash",
		"lines":          []map[string]any{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSaleCommitIdempotencyReplayReturns200(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	payload := map[string]any{
		"idempotency_key": "retry-me-once",
		"payment_method":  "card",
		"lines":           []map[string]any{{"product_id": 2, "qty": 1}},
	}

	first := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrf, payload)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	second := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrf, payload)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d", second.Code)
	}

	var body struct {
		Sale struct {
			Duplicate bool `json:"duplicate"`
		} `json:"sale"`
	}
	if err := json.NewDecoder(second.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Sale.Duplicate {
		t.Fatalf("expected duplicate flag on replay")
	}
}

func TestReportsRequireAdminRole(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/sales", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on admin route, got %d", rec.Code)
	}
}

func TestSalesReportCSVExport(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashierToken := loginToken(t, handler, "cashier", "cashier123")
	adminToken := loginToken(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/sales", cashierToken, csrf, map[string]any{
		"payment_method": "transfer",
		"lines":          []map[string]any{{"product_id": 5, "qty": 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale commit failed: %d (%s)", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/sales?format=csv", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	csvRec := httptest.NewRecorder()
	handler.ServeHTTP(csvRec, req)

	if csvRec.Code != http.StatusOK {
		t.Fatalf("csv export failed: %d (%s)", csvRec.Code, csvRec.Body.String())
	}
	if ct := csvRec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if !strings.Contains(csvRec.Body.String(), "transfer") {
		t.Fatalf("csv missing sale row")
	}
}

func TestProductCreateForbiddenForCashier(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/products", token, csrf, map[string]any{
		"code":             "NEW-001",
		"name":             "Nuevo producto",
		"category_id":      1,
		"sale_price_cents": 5000,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCustomerLifecycle(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	rec := authedJSONRequest(t, handler, http.MethodPost, "/api/v1/customers", token, csrf, map[string]any{
		"national_id": "0955512345",
		"name":        "Luisa Paredes",
		"phone":       "0990011223",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("customer create failed: %d (%s)", rec.Code, rec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/customers?q=paredes", nil)
	listReq.Header.Set("Authorization", "Bearer "+token)
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, listReq)

	if listRec.Code != http.StatusOK {
		t.Fatalf("customer search failed: %d", listRec.Code)
	}
	if !strings.Contains(listRec.Body.String(), "Luisa Paredes") {
		t.Fatalf("search missing created customer")
	}
}
