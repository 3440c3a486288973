package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func preflight(t *testing.T, origins []string, origin string) *httptest.ResponseRecorder {
	t.Helper()
	handler := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/payouts", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsListedOriginWithCredentials(t *testing.T) {
	rec := preflight(t, []string{"https://ops.example.com"}, "https://ops.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials for listed origin")
	}
}

func TestCORSWildcardDropsCredentials(t *testing.T) {
	rec := preflight(t, []string{"*"}, "https://anywhere.example.com")
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected wildcard origin to be allowed")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("wildcard policy must not allow credentials")
	}
}

func TestCORSRejectsUnlistedOrigin(t *testing.T) {
	rec := preflight(t, []string{"https://ops.example.com"}, "https://evil.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}
