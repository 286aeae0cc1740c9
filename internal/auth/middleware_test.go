package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledAuthAllowsAll(t *testing.T) {
	a := NewAuthMiddleware("", "")
	r := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	if !a.Authenticate(r) {
		t.Fatalf("expected disabled middleware to allow all requests")
	}
}

func TestAPIKeyHeader(t *testing.T) {
	a := NewAuthMiddleware("secret", "")
	r := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	r.Header.Set("X-API-Key", "secret")
	if !a.Authenticate(r) {
		t.Fatalf("expected valid API key to authenticate")
	}

	r2 := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	r2.Header.Set("X-API-Key", "wrong")
	if a.Authenticate(r2) {
		t.Fatalf("expected wrong API key to be rejected")
	}
}

func TestBearerToken(t *testing.T) {
	a := NewAuthMiddleware("", "tok1,tok2")
	r := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	r.Header.Set("Authorization", "Bearer tok2")
	if !a.Authenticate(r) {
		t.Fatalf("expected valid bearer token to authenticate")
	}
}

func TestBasicAuthWithToken(t *testing.T) {
	a := NewAuthMiddleware("", "tok1")
	creds := base64.StdEncoding.EncodeToString([]byte("anyuser:tok1"))
	r := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	r.Header.Set("Authorization", "Basic "+creds)
	if !a.Authenticate(r) {
		t.Fatalf("expected basic auth with valid token password to authenticate")
	}
}

func TestMiddlewareRejectsWithJSON401(t *testing.T) {
	a := NewAuthMiddleware("secret", "")
	handlerCalled := false
	wrapped := a.Middleware(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	})

	r := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	w := httptest.NewRecorder()
	wrapped(w, r)

	if handlerCalled {
		t.Fatalf("expected handler not to be called without credentials")
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAddAndRemoveToken(t *testing.T) {
	a := NewAuthMiddleware("", "")
	a.AddToken("newtok")
	r := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	r.Header.Set("Authorization", "Bearer newtok")
	if !a.Authenticate(r) {
		t.Fatalf("expected added token to authenticate")
	}

	a.RemoveToken("newtok")
	if a.Authenticate(r) {
		t.Fatalf("expected removed token to no longer authenticate")
	}
}
