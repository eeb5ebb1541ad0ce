package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen echo.Context
	handler := func(c echo.Context) error {
		seen = c
		return c.String(http.StatusOK, "ok")
	}
	err := JWTMiddleware(cfg)(handler)(c)
	return seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

// =========== JWTMiddleware ===========

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "curator-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{RoleCurator},
	}, testSigningKey)

	c, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if UserIDFromContext(ctx) != "curator-1" {
		t.Errorf("expected subject curator-1, got %q", UserIDFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleCurator {
		t.Errorf("unexpected roles %v", roles)
	}
	if c.Get("subject") != "curator-1" {
		t.Errorf("expected subject on echo context, got %v", c.Get("subject"))
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSigningKey)
	wrongKey := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u"},
	}, []byte("another-key"))
	wrongIssuer := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "elsewhere"},
	}, testSigningKey)

	tests := []struct {
		name  string
		cfg   JWTConfig
		token string
	}{
		{"expired", JWTConfig{SigningKey: testSigningKey}, expired},
		{"wrong key", JWTConfig{SigningKey: testSigningKey}, wrongKey},
		{"wrong issuer", JWTConfig{SigningKey: testSigningKey, Issuer: "typeloader"}, wrongIssuer},
		{"garbage", JWTConfig{SigningKey: testSigningKey}, "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runJWT(t, tt.cfg, "Bearer "+tt.token)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: func(echo.Context) bool { return true }}
	if _, err := runJWT(t, cfg, ""); err != nil {
		t.Errorf("skipped request should pass, got %v", err)
	}
}

func TestIssueToken(t *testing.T) {
	token, err := IssueToken(testSigningKey, "svc", []string{RoleViewer}, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token)
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if UserIDFromContext(c.Request().Context()) != "svc" {
		t.Error("subject not carried")
	}

	if _, err := IssueToken(nil, "svc", nil, time.Hour); err == nil {
		t.Error("expected an error for an empty key")
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if RolesFromContext(c.Request().Context())[0] != RoleAdmin {
			t.Error("expected admin role")
		}
		return nil
	}
	if err := DevAuthMiddleware()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// =========== RequireRole ===========

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		required []string
		wantErr  bool
	}{
		{"matching role", []string{RoleCurator}, []string{RoleCurator}, false},
		{"one of several", []string{RoleViewer}, []string{RoleCurator, RoleViewer}, false},
		{"admin passes", []string{RoleAdmin}, []string{RoleCurator}, false},
		{"missing role", []string{RoleViewer}, []string{RoleCurator}, true},
		{"no roles", nil, []string{RoleViewer}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, tt.roles))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(tt.required...)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})(c)
			if tt.wantErr {
				expectStatus(t, err, http.StatusForbidden)
				return
			}
			if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestRequireRole_ForbiddenNamesSubject(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/b1/submit", nil)
	ctx := context.WithValue(req.Context(), UserIDKey, "alice")
	ctx = context.WithValue(ctx, UserRolesKey, []string{RoleViewer})
	c := e.NewContext(req.WithContext(ctx), httptest.NewRecorder())
	c.SetPath("/api/v1/submissions/:id/submit")

	err := RequireRole(RoleCurator)(func(c echo.Context) error { return nil })(c)
	expectStatus(t, err, http.StatusForbidden)
	msg := fmt.Sprint(err.(*echo.HTTPError).Message)
	for _, want := range []string{"alice", "POST /api/v1/submissions/:id/submit", "role curator required"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q lacks %q", msg, want)
		}
	}
}

// =========== Skipper ===========

func TestAuthSkipper(t *testing.T) {
	tests := map[string]bool{
		"/health":             true,
		"/health/db":          true,
		"/metrics":            true,
		"/api/v1/submissions": false,
		"/health/extra":       false,
		"/":                   false,
	}
	for path, want := range tests {
		e := echo.New()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
		c.SetPath(path)
		if got := AuthSkipper(c); got != want {
			t.Errorf("AuthSkipper(%s) = %v, want %v", path, got, want)
		}
		if IsPublicPath(path) != want {
			t.Errorf("IsPublicPath(%s) mismatch", path)
		}
	}
}
