package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInitializeAuth(t *testing.T) {
	InitializeAuth("test-secret", true)

	if authConfig == nil {
		t.Fatal("authConfig should not be nil after initialization")
	}
	if string(authConfig.JwtSecret) != "test-secret" {
		t.Errorf("expected JwtSecret 'test-secret', got %q", string(authConfig.JwtSecret))
	}
	if !authConfig.Enabled {
		t.Error("expected Enabled to be true")
	}
}

func TestIsAuthEnabled(t *testing.T) {
	authConfig = nil
	if IsAuthEnabled() {
		t.Error("expected IsAuthEnabled to return false when authConfig is nil")
	}

	InitializeAuth("secret", false)
	if IsAuthEnabled() {
		t.Error("expected IsAuthEnabled to return false when auth is disabled")
	}

	InitializeAuth("secret", true)
	if !IsAuthEnabled() {
		t.Error("expected IsAuthEnabled to return true when auth is enabled")
	}
}

func TestIssueAndValidateJWT(t *testing.T) {
	InitializeAuth("secret", true)

	token, err := IssueJWT("service-account", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	caller, err := ValidateJWT(token)
	if err != nil {
		t.Fatalf("unexpected error validating token: %v", err)
	}
	if caller.Subject != "service-account" {
		t.Errorf("expected subject 'service-account', got %q", caller.Subject)
	}
}

func TestValidateJWT_RejectsExpiredToken(t *testing.T) {
	InitializeAuth("secret", true)

	token, err := IssueJWT("service-account", -time.Hour)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	if _, err := ValidateJWT(token); err == nil {
		t.Error("expected an error validating an expired token")
	}
}

func TestValidateJWT_RejectsTokenSignedWithDifferentSecret(t *testing.T) {
	InitializeAuth("secret-a", true)
	token, err := IssueJWT("service-account", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	InitializeAuth("secret-b", true)
	if _, err := ValidateJWT(token); err == nil {
		t.Error("expected an error validating a token signed with a different secret")
	}
}

func TestValidateJWT_RejectsGarbage(t *testing.T) {
	InitializeAuth("secret", true)
	if _, err := ValidateJWT("not-a-token"); err == nil {
		t.Error("expected an error validating a malformed token")
	}
}

func TestOptionalAuthMiddleware_PassesThroughWhenDisabled(t *testing.T) {
	InitializeAuth("secret", false)

	called := false
	handler := OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if !called {
		t.Error("expected the wrapped handler to run when auth is disabled")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestOptionalAuthMiddleware_RejectsMissingToken(t *testing.T) {
	InitializeAuth("secret", true)

	handler := OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without a token")
	})

	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestOptionalAuthMiddleware_AcceptsBearerToken(t *testing.T) {
	InitializeAuth("secret", true)
	token, err := IssueJWT("service-account", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	var gotCaller *Caller
	handler := OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		gotCaller = GetCallerFromContext(r)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotCaller == nil || gotCaller.Subject != "service-account" {
		t.Errorf("expected caller 'service-account' in context, got %+v", gotCaller)
	}
}

func TestOptionalAuthMiddleware_AcceptsCookieToken(t *testing.T) {
	InitializeAuth("secret", true)
	token, err := IssueJWT("service-account", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	handler := OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: token})
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestOptionalAuthMiddleware_RejectsInvalidToken(t *testing.T) {
	InitializeAuth("secret", true)

	handler := OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run with an invalid token")
	})

	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestGetCallerFromContext_NoCaller(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	if caller := GetCallerFromContext(req); caller != nil {
		t.Errorf("expected nil caller, got %+v", caller)
	}
}
