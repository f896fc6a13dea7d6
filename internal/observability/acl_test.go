package observability

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("parsing CIDR %q: %v", s, err)
	}
	return n
}

func TestACLEmptyAllowlistAllowsEveryone(t *testing.T) {
	acl := NewACL(nil)
	if !acl.Allowed("203.0.113.5:1234") {
		t.Fatal("expected an empty allowlist to allow any address")
	}
}

func TestACLAllowedWithinCIDR(t *testing.T) {
	acl := NewACL([]*net.IPNet{mustCIDR(t, "10.0.0.0/8")})
	if !acl.Allowed("10.1.2.3:5555") {
		t.Fatal("expected 10.1.2.3 to match 10.0.0.0/8")
	}
	if acl.Allowed("203.0.113.5:5555") {
		t.Fatal("expected 203.0.113.5 to be denied")
	}
}

func TestACLMiddlewareRejectsDeniedCallers(t *testing.T) {
	acl := NewACL([]*net.IPNet{mustCIDR(t, "10.0.0.0/8")})
	handler := acl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.RemoteAddr = "203.0.113.5:4444"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestACLMiddlewareAllowsPermittedCallers(t *testing.T) {
	acl := NewACL([]*net.IPNet{mustCIDR(t, "127.0.0.0/8")})
	handler := acl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.RemoteAddr = "127.0.0.1:4444"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
