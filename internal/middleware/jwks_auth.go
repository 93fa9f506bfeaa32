package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// JWKSClient fetches and caches RSA signing keys from an identity provider.
type JWKSClient struct {
	endpoint  string
	http      *http.Client
	ttl       time.Duration
	mu        sync.RWMutex
	cache     map[string]*rsa.PublicKey
	lastFetch time.Time
}

// JWKS represents the JSON Web Key Set format.
type JWKS struct {
	Keys []struct {
		Kty string `json:"kty"`
		Use string `json:"use"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// NewJWKSClient creates a client that fetches keys from a JWKS endpoint.
func NewJWKSClient(endpoint string, ttl time.Duration) *JWKSClient {
	return &JWKSClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
		cache:    make(map[string]*rsa.PublicKey),
		ttl:      ttl,
	}
}

// PublicKey returns the key for kid, refreshing the set when stale or when kid is unknown.
func (c *JWKSClient) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.cache[kid]
	fresh := time.Since(c.lastFetch) < c.ttl
	c.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh JWKS: %w", err)
	}

	c.mu.RLock()
	key, ok = c.cache[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSClient) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("JWKS endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("parse JWKS: %w", err)
	}

	cache := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pub, err := decodeRSAPublicKey(key.N, key.E)
		if err != nil {
			log.Warn().Err(err).Str("kid", key.Kid).Msg("skipping malformed JWKS key")
			continue
		}
		cache[key.Kid] = pub
	}

	c.mu.Lock()
	c.cache = cache
	c.lastFetch = time.Now()
	c.mu.Unlock()
	return nil
}

func decodeRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	parser := jwt.NewParser()
	nBytes, err := parser.DecodeSegment(n)
	if err != nil {
		return nil, err
	}
	eBytes, err := parser.DecodeSegment(e)
	if err != nil {
		return nil, err
	}
	if len(nBytes) == 0 || len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, fmt.Errorf("invalid RSA key parameters")
	}

	eVal := 0
	for _, b := range eBytes {
		eVal = eVal<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: eVal}, nil
}

// NewJWKSMiddleware returns a middleware that validates RS256 tokens against the keys
// published by the identity provider, plus issuer and audience when set.
func NewJWKSMiddleware(client *JWKSClient, expectedIssuer, expectedAudience string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyFunc := func(t *jwt.Token) (interface{}, error) {
				if t.Method != jwt.SigningMethodRS256 {
					return nil, fmt.Errorf("unsupported signing method: %v", t.Header["alg"])
				}
				kid, ok := t.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("missing kid in token header")
				}
				return client.PublicKey(r.Context(), kid)
			}
			bearerMiddleware(keyFunc, expectedIssuer, expectedAudience)(next).ServeHTTP(w, r)
		})
	}
}
