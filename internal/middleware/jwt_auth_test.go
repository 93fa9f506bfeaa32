package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"admission-gateway/internal/service"

	"github.com/golang-jwt/jwt/v5"
)

func makeToken(t *testing.T, secret []byte, issuer, subject, role string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := CustomClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("signed token: %v", err)
	}
	return s
}

func TestJWTMiddleware_Valid(t *testing.T) {
	secret := []byte("test-secret")
	issuer := "test-issuer"

	mw := NewJWTMiddleware(secret, issuer)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-User-ID"); got != "user123" {
			t.Fatalf("expected X-User-ID=user123 got=%s", got)
		}
		p, ok := PrincipalFrom(r.Context())
		if !ok || p.ID != "user123" || p.Role != service.RoleAdmin {
			t.Fatalf("unexpected principal %+v (ok=%v)", p, ok)
		}
		w.WriteHeader(http.StatusOK)
	}))

	token := makeToken(t, secret, issuer, "user123", "ADMIN", time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestJWTMiddleware_DefaultRoleIsStandard(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewJWTMiddleware(secret, "")

	var got service.Principal
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+makeToken(t, secret, "any", "u1", "", time.Minute))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got.Role != service.RoleStandard {
		t.Fatalf("expected STANDARD role, got %q", got.Role)
	}
}

func TestJWTMiddleware_Invalid(t *testing.T) {
	secret := []byte("test-secret")
	issuer := "test-issuer"

	mw := NewJWTMiddleware(secret, issuer)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := map[string]string{
		"missing header":  "",
		"not bearer":      "Basic dXNlcjpwYXNz",
		"bad token":       "Bearer bad.token.here",
		"expired token":   "Bearer " + makeToken(t, secret, issuer, "user123", "ADMIN", -time.Minute),
		"wrong issuer":    "Bearer " + makeToken(t, secret, "wrong-issuer", "user123", "ADMIN", time.Minute),
		"wrong secret":    "Bearer " + makeToken(t, []byte("other"), issuer, "user123", "ADMIN", time.Minute),
		"missing subject": "Bearer " + makeToken(t, secret, issuer, "", "ADMIN", time.Minute),
		"unknown role":    "Bearer " + makeToken(t, secret, issuer, "user123", "superuser", time.Minute),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 got %d", rr.Code)
			}
		})
	}
}

func TestJWTMiddleware_KeepsExistingPrincipal(t *testing.T) {
	mw := NewJWTMiddleware([]byte("s"), "")
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		called = p.ID == "svc"
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), service.Principal{ID: "svc", Role: service.RoleStandard}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected existing principal to pass through")
	}
}
