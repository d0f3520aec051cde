package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("expected %s=%q, got %q", header, want, got)
		}
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales/reconcile", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin in tests, got %q", got)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	c := newTestClient(t)

	// Same bearer token, but no CSRF header.
	bare := &testClient{t: t, handler: c.handler, token: c.token}
	rec := bare.do(http.MethodPost, "/api/v1/inventory/adjust", map[string]any{
		"updates": map[string]int{},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "CSRF") {
		t.Fatalf("expected CSRF error, got %s", rec.Body.String())
	}
}

func TestCSRFTokenValidation(t *testing.T) {
	api := newTestAPI(t)

	if api.validateCSRFToken("") {
		t.Fatal("empty token must fail")
	}
	if api.validateCSRFToken("bogus") {
		t.Fatal("bogus token must fail")
	}
	if !api.validateCSRFToken(api.generateCSRFToken()) {
		t.Fatal("freshly issued token must validate")
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	c := newTestClient(t)
	anon := &testClient{t: t, handler: c.handler, csrf: c.csrf}

	protected := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/inventory"},
		{http.MethodGet, "/api/v1/sales"},
		{http.MethodGet, "/api/v1/audit-logs"},
		{http.MethodPost, "/api/v1/sales/reconcile"},
	}
	for _, route := range protected {
		var payload any
		if route.method == http.MethodPost {
			payload = map[string]any{}
		}
		rec := anon.do(route.method, route.path, payload)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 without token, got %d", route.method, route.path, rec.Code)
		}
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	c := newTestClient(t)

	// Provision a staff account and log in.
	rec := c.do(http.MethodPost, "/api/v1/users", map[string]string{
		"name":     "Bar Staff",
		"email":    "staff2@test.bar",
		"password": "provisional1",
		"role":     "staff",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: %d", rec.Code)
	}
	anon := &testClient{t: t, handler: c.handler}
	rec = anon.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "staff2@test.bar",
		"password": "provisional1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d", rec.Code)
	}
	token := extractToken(t, rec.Body.String())

	staff := &testClient{t: t, handler: c.handler, token: token}
	rec = staff.do(http.MethodGet, "/api/v1/audit-logs", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on audit logs, got %d", rec.Code)
	}

	rec = c.do(http.MethodGet, "/api/v1/audit-logs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin on audit logs, got %d", rec.Code)
	}
}

func extractToken(t *testing.T, body string) string {
	t.Helper()
	const marker = "\"access_token\":\""
	start := strings.Index(body, marker)
	if start < 0 {
		t.Fatalf("no access_token in %s", body)
	}
	rest := body[start+len(marker):]
	end := strings.Index(rest, "\"")
	if end < 0 {
		t.Fatalf("unterminated token in %s", body)
	}
	return rest[:end]
}

func TestClientKeyParsesRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.7:4242"
	if got := clientKey(req); got != "192.0.2.7" {
		t.Fatalf("expected bare IP, got %q", got)
	}

	req.RemoteAddr = ""
	if got := clientKey(req); got != "unknown" {
		t.Fatalf("expected unknown for empty addr, got %q", got)
	}
}
