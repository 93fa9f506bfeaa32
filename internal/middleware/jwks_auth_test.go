package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"use": "sig",
				"kid": kid,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJWKSMiddleware(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	srv := jwksServer(t, "test-key-1", &priv.PublicKey, nil)

	client := NewJWKSClient(srv.URL+"/.well-known/jwks.json", 5*time.Minute)
	mw := NewJWKSMiddleware(client, "test-issuer", "test-audience")

	var seen string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		seen = p.ID
		w.WriteHeader(http.StatusOK)
	}))

	sign := func(aud string) string {
		claims := CustomClaims{
			Role: "STANDARD",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "test-issuer",
				Subject:   "user123",
				Audience:  jwt.ClaimStrings{aud},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = "test-key-1"
		s, err := tok.SignedString(priv)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	// valid
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign("test-audience"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || seen != "user123" {
		t.Fatalf("expected 200 for user123, got %d (%q) body=%s", rr.Code, seen, rr.Body.String())
	}

	// wrong audience
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign("other"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong audience got %d", rr.Code)
	}

	// missing auth header
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing auth got %d", rr.Code)
	}

	// HMAC token is rejected by the RS256 verifier
	hmac := makeToken(t, []byte("secret"), "test-issuer", "user123", "STANDARD", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+hmac)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for HS256 token got %d", rr.Code)
	}
}

func TestJWKSClientCache(t *testing.T) {
	pub := &rsa.PublicKey{N: big.NewInt(12345), E: 65537}
	var calls atomic.Int32
	srv := jwksServer(t, "key1", pub, &calls)

	client := NewJWKSClient(srv.URL+"/.well-known/jwks.json", 100*time.Millisecond)
	ctx := t.Context()

	key1, err := client.PublicKey(ctx, "key1")
	if err != nil {
		t.Fatalf("expected valid key on first call, got: %v", err)
	}
	if key1.E != 65537 {
		t.Fatalf("expected exponent 65537, got %d", key1.E)
	}

	key2, _ := client.PublicKey(ctx, "key1")
	if calls.Load() != 1 {
		t.Fatalf("expected 1 fetch within TTL, got %d", calls.Load())
	}
	if key1.N.Cmp(key2.N) != 0 {
		t.Fatalf("expected same key from cache")
	}

	time.Sleep(150 * time.Millisecond)
	client.PublicKey(ctx, "key1")
	if calls.Load() != 2 {
		t.Fatalf("expected 2 fetches after TTL expiry, got %d", calls.Load())
	}

	if _, err := client.PublicKey(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}
