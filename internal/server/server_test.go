package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fintrustlab/txgate/internal/config"
	"github.com/fintrustlab/txgate/internal/totp"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		JWTSecret:            "test-secret-key-0123456789abcdef0123456789",
		PartialTTL:           24 * time.Hour,
		FullTTL:              12 * time.Hour,
		MaxLoginAttempts:     3,
		LockoutDuration:      30 * time.Minute,
		StepUpThreshold:      1000,
		ApprovalThreshold:    5000,
		TOTPIssuer:           "txgate",
		AuthRateLimit:        60,
		TransactionRateLimit: 600,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() {
		s.authLimiter.Stop()
		s.txLimiter.Stop()
	})
	return s
}

// do sends a JSON request, optionally authenticated, and decodes the
// response envelope.
func do(t *testing.T, s *Server, method, path, bearer, body string) (int, map[string]interface{}) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	s.router.ServeHTTP(w, req)

	resp := map[string]interface{}{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, resp
}

func data(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Response has no data object: %v", resp)
	}
	return d
}

func registerAndLogin(t *testing.T, s *Server, email, role string) string {
	t.Helper()

	body := fmt.Sprintf(`{"email":%q,"password":"s3cretpw","role":%q}`, email, role)
	if code, resp := do(t, s, "POST", "/api/auth/register", "", body); code != http.StatusCreated {
		t.Fatalf("Register failed: %d %v", code, resp)
	}

	loginBody := fmt.Sprintf(`{"email":%q,"password":"s3cretpw"}`, email)
	code, resp := do(t, s, "POST", "/api/auth/login", "", loginBody)
	if code != http.StatusOK {
		t.Fatalf("Login failed: %d %v", code, resp)
	}
	return data(t, resp)["token"].(string)
}

// stepUp enrolls the account and returns an elevated token.
func stepUp(t *testing.T, s *Server, bearer string) string {
	t.Helper()

	code, resp := do(t, s, "POST", "/api/auth/setup-2fa", bearer, "")
	if code != http.StatusOK {
		t.Fatalf("setup-2fa failed: %d %v", code, resp)
	}
	secret := data(t, resp)["secret"].(string)

	otp, err := totp.CodeAt(secret, time.Now())
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	if code, resp := do(t, s, "POST", "/api/auth/enable-2fa", bearer, fmt.Sprintf(`{"code":%q}`, otp)); code != http.StatusOK {
		t.Fatalf("enable-2fa failed: %d %v", code, resp)
	}

	code, resp = do(t, s, "POST", "/api/auth/verify-2fa", bearer, fmt.Sprintf(`{"code":%q}`, otp))
	if code != http.StatusOK {
		t.Fatalf("verify-2fa failed: %d %v", code, resp)
	}
	return data(t, resp)["token"].(string)
}

func txBody(amount float64) string {
	return fmt.Sprintf(`{"amount":%v,"currency":"USD","type":"transfer","fromAccount":"acct-100001","toAccount":"acct-100002"}`, amount)
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	expected := []string{
		"POST:/api/auth/register",
		"POST:/api/auth/login",
		"POST:/api/auth/setup-2fa",
		"POST:/api/auth/enable-2fa",
		"POST:/api/auth/verify-2fa",
		"POST:/api/auth/disable-2fa",
		"POST:/api/transactions",
		"GET:/api/transactions/my-transactions",
		"GET:/api/transactions/:transactionId",
		"GET:/api/transactions/pending/approvals",
		"PATCH:/api/transactions/:transactionId/approve",
		"PATCH:/api/transactions/:transactionId/reject",
		"GET:/api/audit/logs",
		"GET:/api/audit/user-activity/:userId",
	}

	routeSet := make(map[string]bool)
	for _, route := range s.router.Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Authentication tests
// ---------------------------------------------------------------------------

func TestRegisterDuplicateEmail(t *testing.T) {
	s := newTestServer(t)

	body := `{"email":"dup@example.com","password":"s3cretpw"}`
	if code, _ := do(t, s, "POST", "/api/auth/register", "", body); code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	if code, _ := do(t, s, "POST", "/api/auth/register", "", body); code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate email, got %d", code)
	}
}

func TestLoginBadPassword(t *testing.T) {
	s := newTestServer(t)
	registerAndLogin(t, s, "alice@example.com", "user")

	code, _ := do(t, s, "POST", "/api/auth/login", "", `{"email":"alice@example.com","password":"wrongpw1"}`)
	if code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", code)
	}
}

func TestLockoutReturnsRetryAfter(t *testing.T) {
	s := newTestServer(t)
	registerAndLogin(t, s, "locked@example.com", "user")

	bad := `{"email":"locked@example.com","password":"wrongpw1"}`
	var w *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		w = httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(bad))
		req.Header.Set("Content-Type", "application/json")
		s.router.ServeHTTP(w, req)
	}

	if w.Code != http.StatusLocked {
		t.Fatalf("Expected 423 after repeated failures, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on locked response")
	}

	// The correct password is rejected while the lock holds.
	code, _ := do(t, s, "POST", "/api/auth/login", "", `{"email":"locked@example.com","password":"s3cretpw"}`)
	if code != http.StatusLocked {
		t.Errorf("Expected 423 with correct password while locked, got %d", code)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	s := newTestServer(t)

	if code, _ := do(t, s, "GET", "/api/transactions/my-transactions", "", ""); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", code)
	}
	if code, _ := do(t, s, "GET", "/api/transactions/my-transactions", "not-a-token", ""); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with garbage token, got %d", code)
	}
}

// ---------------------------------------------------------------------------
// Transaction flow tests
// ---------------------------------------------------------------------------

func TestEndToEndAuthorizationFlow(t *testing.T) {
	s := newTestServer(t)

	userToken := registerAndLogin(t, s, "user@example.com", "user")

	// Low-value transaction auto-completes on a partial token.
	code, resp := do(t, s, "POST", "/api/transactions", userToken, txBody(800))
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", code, resp)
	}
	rec := data(t, resp)["transaction"].(map[string]interface{})
	if rec["status"] != "completed" {
		t.Errorf("Expected completed, got %v", rec["status"])
	}
	if rec["requiresApproval"] != false {
		t.Errorf("Expected requiresApproval=false, got %v", rec["requiresApproval"])
	}

	// High-value transaction without step-up is refused before creation.
	code, _ = do(t, s, "POST", "/api/transactions", userToken, txBody(6000))
	if code != http.StatusForbidden {
		t.Fatalf("Expected 403 without step-up, got %d", code)
	}

	// Complete step-up and retry: routed to approval.
	fullToken := stepUp(t, s, userToken)
	code, resp = do(t, s, "POST", "/api/transactions", fullToken, txBody(6000))
	if code != http.StatusCreated {
		t.Fatalf("Expected 201 with step-up, got %d: %v", code, resp)
	}
	rec = data(t, resp)["transaction"].(map[string]interface{})
	if rec["status"] != "pending" {
		t.Errorf("Expected pending, got %v", rec["status"])
	}
	txID := rec["id"].(string)

	// Approver resolves it.
	approverToken := registerAndLogin(t, s, "approver@example.com", "approver")

	code, resp = do(t, s, "GET", "/api/transactions/pending/approvals", approverToken, "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 listing approvals, got %d", code)
	}
	pending := data(t, resp)["transactions"].([]interface{})
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending transaction, got %d", len(pending))
	}

	code, resp = do(t, s, "PATCH", "/api/transactions/"+txID+"/approve", approverToken, "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 approving, got %d: %v", code, resp)
	}
	rec = data(t, resp)["transaction"].(map[string]interface{})
	if rec["status"] != "approved" {
		t.Errorf("Expected approved, got %v", rec["status"])
	}
	if rec["approverId"] == nil || rec["approvedAt"] == nil {
		t.Error("Expected approver and approvedAt on resolved transaction")
	}

	// A second resolution conflicts.
	if code, _ = do(t, s, "PATCH", "/api/transactions/"+txID+"/approve", approverToken, ""); code != http.StatusConflict {
		t.Errorf("Expected 409 on double approval, got %d", code)
	}
}

func TestResolveRequiresApproverRole(t *testing.T) {
	s := newTestServer(t)
	userToken := registerAndLogin(t, s, "user@example.com", "user")

	code, _ := do(t, s, "PATCH", "/api/transactions/txn_x/approve", userToken, "")
	if code != http.StatusForbidden {
		t.Errorf("Expected 403 for plain user, got %d", code)
	}
	code, _ = do(t, s, "GET", "/api/transactions/pending/approvals", userToken, "")
	if code != http.StatusForbidden {
		t.Errorf("Expected 403 listing approvals as plain user, got %d", code)
	}
}

func TestGetTransactionOwnership(t *testing.T) {
	s := newTestServer(t)

	ownerToken := registerAndLogin(t, s, "owner@example.com", "user")
	code, resp := do(t, s, "POST", "/api/transactions", ownerToken, txBody(100))
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	txID := data(t, resp)["transaction"].(map[string]interface{})["id"].(string)

	if code, _ := do(t, s, "GET", "/api/transactions/"+txID, ownerToken, ""); code != http.StatusOK {
		t.Errorf("Expected 200 for owner, got %d", code)
	}

	otherToken := registerAndLogin(t, s, "other@example.com", "user")
	if code, _ := do(t, s, "GET", "/api/transactions/"+txID, otherToken, ""); code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-owner, got %d", code)
	}
}

// ---------------------------------------------------------------------------
// Audit endpoint tests
// ---------------------------------------------------------------------------

func TestAuditLogsAdminOnly(t *testing.T) {
	s := newTestServer(t)

	userToken := registerAndLogin(t, s, "user@example.com", "user")
	if code, _ := do(t, s, "GET", "/api/audit/logs", userToken, ""); code != http.StatusForbidden {
		t.Errorf("Expected 403 for plain user, got %d", code)
	}

	adminToken := registerAndLogin(t, s, "admin@example.com", "admin")
	code, resp := do(t, s, "GET", "/api/audit/logs", adminToken, "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 for admin, got %d", code)
	}

	d := data(t, resp)
	logs := d["logs"].([]interface{})
	// Registration and login events for both users exist.
	if len(logs) < 4 {
		t.Errorf("Expected at least 4 audit events, got %d", len(logs))
	}
	if d["before"] == nil {
		t.Error("Expected snapshot bound in audit response")
	}
}

func TestUserActivityEndpoint(t *testing.T) {
	s := newTestServer(t)

	userToken := registerAndLogin(t, s, "user@example.com", "user")
	adminToken := registerAndLogin(t, s, "admin@example.com", "admin")

	// Find the user's id from a transaction they own.
	code, resp := do(t, s, "POST", "/api/transactions", userToken, txBody(50))
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	ownerID := data(t, resp)["transaction"].(map[string]interface{})["ownerId"].(string)

	code, resp = do(t, s, "GET", "/api/audit/user-activity/"+ownerID, adminToken, "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	logs := data(t, resp)["logs"].([]interface{})
	if len(logs) < 3 {
		t.Errorf("Expected register, login, and create events, got %d", len(logs))
	}
	for _, l := range logs {
		if l.(map[string]interface{})["actorId"] != ownerID {
			t.Errorf("Expected only events for %s", ownerID)
		}
	}
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
